package handlers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/credishield/backend/internal/gateway"
	"github.com/credishield/backend/internal/scorer"
	"github.com/credishield/backend/pkg/logger"
)

// PredictionRequest is the loan-applicant feature vector. Field constraints
// mirror the model's training schema; anything outside them is rejected
// before the scorer is called.
type PredictionRequest struct {
	CheckingStatus        string `json:"checking_status"`
	Duration              int    `json:"duration"`
	CreditHistory         string `json:"credit_history"`
	Purpose               string `json:"purpose"`
	CreditAmount          int    `json:"credit_amount"`
	SavingsStatus         string `json:"savings_status"`
	Employment            string `json:"employment"`
	InstallmentCommitment int    `json:"installment_commitment"`
	PersonalStatus        string `json:"personal_status"`
	OtherParties          string `json:"other_parties"`
	ResidenceSince        int    `json:"residence_since"`
	PropertyMagnitude     string `json:"property_magnitude"`
	Age                   int    `json:"age"`
	OtherPaymentPlans     string `json:"other_payment_plans"`
	Housing               string `json:"housing"`
	ExistingCredits       int    `json:"existing_credits"`
	Job                   string `json:"job"`
	NumDependents         int    `json:"num_dependents"`
	OwnTelephone          string `json:"own_telephone"`
	ForeignWorker         string `json:"foreign_worker"`
}

func (r *PredictionRequest) Validate() error {
	required := map[string]string{
		"checking_status":     r.CheckingStatus,
		"credit_history":      r.CreditHistory,
		"purpose":             r.Purpose,
		"savings_status":      r.SavingsStatus,
		"employment":          r.Employment,
		"personal_status":     r.PersonalStatus,
		"other_parties":       r.OtherParties,
		"property_magnitude":  r.PropertyMagnitude,
		"other_payment_plans": r.OtherPaymentPlans,
		"housing":             r.Housing,
		"job":                 r.Job,
		"own_telephone":       r.OwnTelephone,
		"foreign_worker":      r.ForeignWorker,
	}
	for field, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", field)
		}
	}

	switch {
	case r.Duration < 1:
		return errors.New("duration must be at least 1")
	case r.CreditAmount < 1:
		return errors.New("credit_amount must be at least 1")
	case r.InstallmentCommitment < 1 || r.InstallmentCommitment > 4:
		return errors.New("installment_commitment must be between 1 and 4")
	case r.ResidenceSince < 1 || r.ResidenceSince > 4:
		return errors.New("residence_since must be between 1 and 4")
	case r.Age < 18:
		return errors.New("age must be at least 18")
	case r.ExistingCredits < 1:
		return errors.New("existing_credits must be at least 1")
	case r.NumDependents < 1:
		return errors.New("num_dependents must be at least 1")
	}

	return nil
}

type PredictionHandler struct {
	gateway *gateway.Gateway
}

func NewPredictionHandler(gw *gateway.Gateway) *PredictionHandler {
	return &PredictionHandler{gateway: gw}
}

// HandlePredict scores one applicant and logs the result. A scoring failure
// is a 502: the model server is the upstream here, and no partial or
// fabricated prediction is ever returned in its place.
func (h *PredictionHandler) HandlePredict(c *fiber.Ctx) error {
	var req PredictionRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Warn("Failed to parse prediction request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Re-marshal the validated struct so the stored input (and the score
	// cache key) has one canonical field order.
	input, err := json.Marshal(&req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.gateway.ScoreAndLog(c.Context(), input)
	if err != nil {
		if errors.Is(err, scorer.ErrScoring) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Scoring service unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to score request",
		})
	}

	return c.JSON(result)
}

// HandleRegistry exposes the model registry metadata for the admin panel.
func (h *PredictionHandler) HandleRegistry(c *fiber.Ctx) error {
	info, err := h.gateway.RegistryInfo(c.Context())
	if err != nil {
		logger.Error("Failed to fetch model registry info", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Model registry unavailable",
		})
	}

	return c.JSON(info)
}
