package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/credishield/backend/internal/storage/models"
)

// ErrScoring marks a failed or out-of-contract scorer call. No prediction
// record is written when scoring fails.
var ErrScoring = errors.New("scoring failed")

// Result is the scorer's output for one feature vector: a probability of
// default in [0,1] plus the ranked reason codes pushing the risk up and
// down. Reason code order is produced by the model and preserved as-is.
type Result struct {
	ProbabilityOfDefault float64             `json:"probability_of_default"`
	TopRiskIncreasing    []models.ReasonCode `json:"top_risk_increasing"`
	TopRiskDecreasing    []models.ReasonCode `json:"top_risk_decreasing"`
}

// RegistryInfo describes the model artifact currently served.
type RegistryInfo struct {
	ModelVersion        string     `json:"model_version"`
	ArtifactPath        string     `json:"artifact_path"`
	LastTrainedAt       *time.Time `json:"last_trained_at"`
	CategoricalFeatures []string   `json:"categorical_features"`
	NumericalFeatures   []string   `json:"numerical_features"`
}

// Scorer is the external scoring capability. It is treated as a pure
// function of the input for the duration of one call; implementations do
// not retry and do not return partial results. The concrete scorer is
// injected where needed rather than held in package state.
type Scorer interface {
	Score(ctx context.Context, input json.RawMessage) (*Result, error)
	RegistryInfo(ctx context.Context) (*RegistryInfo, error)
}

// Validate checks a result against the scorer contract. A probability
// outside [0,1] is a contract violation and surfaces as ErrScoring; such a
// result must never reach storage.
func Validate(result *Result) error {
	pd := result.ProbabilityOfDefault
	if math.IsNaN(pd) || pd < 0 || pd > 1 {
		return fmt.Errorf("%w: probability_of_default %v outside [0,1]", ErrScoring, pd)
	}
	return nil
}
