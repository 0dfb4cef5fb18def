package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned without invoking the wrapped call while the breaker
// is open. Callers see it immediately instead of waiting on a dead
// dependency.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Defaults to 5.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes it again. Defaults to 2.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before allowing a
	// probe. Defaults to 30s.
	OpenTimeout time.Duration
	Logger      *zap.Logger
}

// Breaker is a minimal consecutive-failure circuit breaker. It never
// retries the wrapped call; it only decides whether the call is allowed
// to run at all.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *zap.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		logger:           cfg.Logger,
		state:            StateClosed,
	}
}

// Execute runs fn unless the breaker is open. The error from fn is
// returned unchanged so callers can still match it with errors.Is.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.openTimeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.successThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.successes = 0
	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition is called with b.mu held.
func (b *Breaker) transition(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.successes = 0
	if state == StateOpen {
		b.openedAt = time.Now()
	}
	if state == StateClosed {
		b.failures = 0
	}

	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
