package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credishield/backend/internal/analytics"
	"github.com/credishield/backend/internal/metrics"
	"github.com/credishield/backend/internal/scorer"
	"github.com/credishield/backend/internal/storage/models"
	"github.com/credishield/backend/internal/storage/sqlite"
	"github.com/credishield/backend/pkg/circuitbreaker"
	"github.com/credishield/backend/pkg/logger"
	"github.com/credishield/backend/pkg/utils"
)

// ScoreCache is the optional cache in front of the external scorer. A nil
// cache disables caching; the prediction log is written either way.
type ScoreCache interface {
	GetScore(ctx context.Context, inputHash string, result interface{}) (bool, error)
	SetScore(ctx context.Context, inputHash string, result interface{}, ttl time.Duration) error
}

// Gateway sequences the two side effects of a scoring request: invoke the
// external scorer, then append the result to the prediction log. A response
// is never returned without its record either durably written or the write
// failure logged and counted; a logging outage degrades to "serve but
// observe", never to silent loss and never to a failed score.
type Gateway struct {
	db       *sqlite.Client
	scorer   scorer.Scorer
	breaker  *circuitbreaker.Breaker
	agg      *analytics.Aggregator
	cache    ScoreCache
	cacheTTL time.Duration
}

func New(db *sqlite.Client, sc scorer.Scorer, breaker *circuitbreaker.Breaker, cache ScoreCache, cacheTTL time.Duration) *Gateway {
	return &Gateway{
		db:       db,
		scorer:   sc,
		breaker:  breaker,
		agg:      analytics.NewAggregator(db),
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// ScoreAndLog scores one feature vector and appends exactly one record for
// it. If the scorer fails nothing is appended and the error is returned;
// if the append fails the score is still returned and the failure goes to
// the log and the logging-failures counter.
func (g *Gateway) ScoreAndLog(ctx context.Context, input json.RawMessage) (*scorer.Result, error) {
	start := time.Now()
	requestID := uuid.New().String()
	inputHash := utils.HashBytes(input)

	result, cached := g.cachedScore(ctx, inputHash)
	if result == nil {
		var err error
		result, err = g.score(ctx, input)
		if err != nil {
			metrics.PredictionsTotal.WithLabelValues("error").Inc()
			logger.Error("Scoring failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			return nil, err
		}
		g.fillCache(ctx, inputHash, result)
	}

	recordID, err := g.db.InsertPrediction(input, result.ProbabilityOfDefault, result.TopRiskIncreasing, result.TopRiskDecreasing)
	if err != nil {
		// The score is still served; the gap in the history must be
		// visible to operators.
		metrics.LoggingFailures.Inc()
		logger.Error("Prediction scored but not logged",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}

	metrics.PredictionsTotal.WithLabelValues("success").Inc()
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	metrics.PredictionScore.Observe(result.ProbabilityOfDefault)
	if result.ProbabilityOfDefault >= analytics.HighRiskThreshold {
		metrics.HighRiskPredictions.Inc()
	}

	logger.Info("Prediction served",
		zap.String("request_id", requestID),
		zap.Int64("record_id", recordID),
		zap.Float64("pd_score", result.ProbabilityOfDefault),
		zap.Bool("cached", cached),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	return result, nil
}

func (g *Gateway) score(ctx context.Context, input json.RawMessage) (*scorer.Result, error) {
	var result *scorer.Result
	err := g.breaker.Execute(func() error {
		r, scoreErr := g.scorer.Score(ctx, input)
		if scoreErr != nil {
			return scoreErr
		}
		result = r
		return nil
	})
	if err != nil {
		if !errors.Is(err, scorer.ErrScoring) {
			err = fmt.Errorf("%w: %v", scorer.ErrScoring, err)
		}
		return nil, err
	}

	// Guards alternative Scorer implementations; the HTTP client has
	// already checked its own response.
	if err := scorer.Validate(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gateway) cachedScore(ctx context.Context, inputHash string) (*scorer.Result, bool) {
	if g.cache == nil {
		return nil, false
	}

	var result scorer.Result
	hit, err := g.cache.GetScore(ctx, inputHash, &result)
	if err != nil {
		logger.Warn("Score cache lookup failed", zap.Error(err))
		return nil, false
	}
	if !hit {
		metrics.ScoreCacheMisses.Inc()
		return nil, false
	}

	metrics.ScoreCacheHits.Inc()
	return &result, true
}

func (g *Gateway) fillCache(ctx context.Context, inputHash string, result *scorer.Result) {
	if g.cache == nil {
		return
	}
	if err := g.cache.SetScore(ctx, inputHash, result, g.cacheTTL); err != nil {
		logger.Warn("Score cache fill failed", zap.Error(err))
	}
}

// Trends computes the current analytics summary. Always a fresh scan.
func (g *Gateway) Trends() (*models.TrendsSummary, error) {
	return g.agg.ComputeTrends()
}

// RegistryInfo proxies the scorer's model registry metadata.
func (g *Gateway) RegistryInfo(ctx context.Context) (*scorer.RegistryInfo, error) {
	return g.scorer.RegistryInfo(ctx)
}
