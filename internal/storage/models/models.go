package models

import (
	"encoding/json"
	"time"
)

// ReasonCode is one (feature, signed impact) pair from the scorer's
// attribution output. Order within a list is meaningful and preserved.
type ReasonCode struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"impact"`
}

// PredictionRecord is one immutable row in the predictions table: the
// applicant feature vector submitted and the scorer output returned for it.
// The store assigns ID and Timestamp on insert; neither changes afterwards.
type PredictionRecord struct {
	ID                   int64
	Timestamp            time.Time
	Input                json.RawMessage
	ProbabilityOfDefault float64
	TopRiskIncreasing    []ReasonCode
	TopRiskDecreasing    []ReasonCode
}

// TrendPoint is a per-UTC-day aggregate derived from PredictionRecord rows.
// It is recomputed on every analytics query and never persisted.
type TrendPoint struct {
	Date            string  `json:"date"`
	PredictionCount int64   `json:"prediction_count"`
	AvgPD           float64 `json:"avg_pd"`
	HighRiskRate    float64 `json:"high_risk_rate"`
}

// TrendsSummary is the full analytics payload: overall counters plus the
// ordered daily trend series.
type TrendsSummary struct {
	TotalPredictions int64        `json:"total_predictions"`
	LastPredictionAt *time.Time   `json:"last_prediction_at"`
	Trends           []TrendPoint `json:"trends"`
}
