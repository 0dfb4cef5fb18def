package analytics

import (
	"fmt"

	"github.com/credishield/backend/internal/storage/models"
	"github.com/credishield/backend/internal/storage/sqlite"
)

// HighRiskThreshold is the policy cutoff for counting a prediction as high
// risk, inclusive. It is fixed, not derived from the data, and does not
// adapt to distribution shifts.
const HighRiskThreshold = 0.5

// Aggregator derives the daily trend report from the prediction store.
// Every call is a full scan over current store contents; nothing is cached,
// so a query immediately after an insert reflects that insert.
type Aggregator struct {
	db *sqlite.Client
}

func NewAggregator(db *sqlite.Client) *Aggregator {
	return &Aggregator{db: db}
}

// ComputeTrends returns the overall prediction count, the timestamp of the
// most recent prediction, and one TrendPoint per UTC calendar date in
// ascending date order. An empty store yields a zero count, a nil
// last-prediction timestamp and an empty trend list.
func (a *Aggregator) ComputeTrends() (*models.TrendsSummary, error) {
	total, err := a.db.CountPredictions()
	if err != nil {
		return nil, fmt.Errorf("failed to compute trends: %w", err)
	}

	latest, err := a.db.LatestTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to compute trends: %w", err)
	}

	trends, err := a.db.TrendRows()
	if err != nil {
		return nil, fmt.Errorf("failed to compute trends: %w", err)
	}

	return &models.TrendsSummary{
		TotalPredictions: total,
		LastPredictionAt: latest,
		Trends:           trends,
	}, nil
}
