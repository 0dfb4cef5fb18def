package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/credishield/backend/internal/scorer"
	"github.com/credishield/backend/internal/storage/models"
	"github.com/credishield/backend/internal/storage/sqlite"
	"github.com/credishield/backend/pkg/circuitbreaker"
)

type stubScorer struct {
	result *scorer.Result
	err    error
	calls  int
}

func (s *stubScorer) Score(ctx context.Context, input json.RawMessage) (*scorer.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubScorer) RegistryInfo(ctx context.Context) (*scorer.RegistryInfo, error) {
	return &scorer.RegistryInfo{ModelVersion: "1.0.0"}, nil
}

type fakeCache struct {
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) GetScore(ctx context.Context, inputHash string, result interface{}) (bool, error) {
	data, ok := f.entries[inputHash]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, result)
}

func (f *fakeCache) SetScore(ctx context.Context, inputHash string, result interface{}, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	f.entries[inputHash] = data
	return nil
}

var testInput = json.RawMessage(`{"checking_status":"no checking","duration":12}`)

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return client
}

func okResult() *scorer.Result {
	return &scorer.Result{
		ProbabilityOfDefault: 0.42,
		TopRiskIncreasing:    []models.ReasonCode{{Feature: "duration", Impact: 0.2}},
		TopRiskDecreasing:    []models.ReasonCode{{Feature: "age", Impact: -0.1}},
	}
}

func TestScoreAndLogAppendsOneRecord(t *testing.T) {
	store := newTestStore(t)
	stub := &stubScorer{result: okResult()}
	gw := New(store, stub, circuitbreaker.New("test", circuitbreaker.Config{}), nil, 0)

	result, err := gw.ScoreAndLog(context.Background(), testInput)
	if err != nil {
		t.Fatalf("ScoreAndLog: %v", err)
	}
	if result.ProbabilityOfDefault != 0.42 {
		t.Errorf("pd = %v, want 0.42", result.ProbabilityOfDefault)
	}

	count, err := store.CountPredictions()
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	record, err := store.GetPrediction(1)
	if err != nil {
		t.Fatalf("GetPrediction: %v", err)
	}
	if string(record.Input) != string(testInput) {
		t.Errorf("stored input = %s, want %s", record.Input, testInput)
	}
	if len(record.TopRiskIncreasing) != 1 || record.TopRiskIncreasing[0].Feature != "duration" {
		t.Errorf("stored reason codes = %+v", record.TopRiskIncreasing)
	}
}

func TestScoringFailureAppendsNothing(t *testing.T) {
	store := newTestStore(t)
	stub := &stubScorer{err: errors.New("model server exploded")}
	gw := New(store, stub, circuitbreaker.New("test", circuitbreaker.Config{}), nil, 0)

	_, err := gw.ScoreAndLog(context.Background(), testInput)
	if !errors.Is(err, scorer.ErrScoring) {
		t.Fatalf("ScoreAndLog error = %v, want ErrScoring", err)
	}

	count, err := store.CountPredictions()
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d after scoring failure, want 0", count)
	}
}

func TestOutOfContractResultRejected(t *testing.T) {
	store := newTestStore(t)
	stub := &stubScorer{result: &scorer.Result{ProbabilityOfDefault: 1.5}}
	gw := New(store, stub, circuitbreaker.New("test", circuitbreaker.Config{}), nil, 0)

	_, err := gw.ScoreAndLog(context.Background(), testInput)
	if !errors.Is(err, scorer.ErrScoring) {
		t.Fatalf("ScoreAndLog error = %v, want ErrScoring", err)
	}

	count, _ := store.CountPredictions()
	if count != 0 {
		t.Fatalf("count = %d, want 0: out-of-contract result must not be stored", count)
	}
}

func TestLoggingFailureStillServesScore(t *testing.T) {
	store := newTestStore(t)
	stub := &stubScorer{result: okResult()}
	gw := New(store, stub, circuitbreaker.New("test", circuitbreaker.Config{}), nil, 0)

	// Kill the store out from under the gateway: the insert now fails,
	// the score must still be served.
	store.Close()

	result, err := gw.ScoreAndLog(context.Background(), testInput)
	if err != nil {
		t.Fatalf("ScoreAndLog with broken store: %v", err)
	}
	if result == nil || result.ProbabilityOfDefault != 0.42 {
		t.Fatalf("result = %+v, want served score despite logging failure", result)
	}
}

func TestBreakerShortCircuitsAfterFailures(t *testing.T) {
	store := newTestStore(t)
	stub := &stubScorer{err: errors.New("down")}
	breaker := circuitbreaker.New("test", circuitbreaker.Config{
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	})
	gw := New(store, stub, breaker, nil, 0)

	for i := 0; i < 2; i++ {
		if _, err := gw.ScoreAndLog(context.Background(), testInput); err == nil {
			t.Fatalf("ScoreAndLog %d succeeded, want error", i)
		}
	}

	callsBefore := stub.calls
	_, err := gw.ScoreAndLog(context.Background(), testInput)
	if !errors.Is(err, scorer.ErrScoring) {
		t.Fatalf("ScoreAndLog with open breaker = %v, want ErrScoring", err)
	}
	if stub.calls != callsBefore {
		t.Fatalf("scorer invoked %d times while breaker open, want 0", stub.calls-callsBefore)
	}
}

func TestCachedScoreSkipsScorerButStillLogs(t *testing.T) {
	store := newTestStore(t)
	stub := &stubScorer{result: okResult()}
	cache := newFakeCache()
	gw := New(store, stub, circuitbreaker.New("test", circuitbreaker.Config{}), cache, time.Minute)

	if _, err := gw.ScoreAndLog(context.Background(), testInput); err != nil {
		t.Fatalf("first ScoreAndLog: %v", err)
	}
	if _, err := gw.ScoreAndLog(context.Background(), testInput); err != nil {
		t.Fatalf("second ScoreAndLog: %v", err)
	}

	if stub.calls != 1 {
		t.Errorf("scorer called %d times, want 1 (second request served from cache)", stub.calls)
	}

	// Both requests are logged regardless of where the score came from.
	count, err := store.CountPredictions()
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}
