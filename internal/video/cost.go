package video

import (
	"math"
	"sort"
	"strings"

	"server/internal/domain"
)

// Pricing: 1 credit per second of footage, scaled by model and
// resolution multipliers (all 1.0 today, kept so pricing can move
// without touching the orchestrator).
const baseCostPerSecond = 1

var modelMultipliers = map[string]float64{
	"sora-2":     1.0,
	"sora-2-pro": 1.0,
}

var resolutionMultipliers = map[string]float64{
	"480x480":   1.0,
	"640x480":   1.0,
	"1280x720":  1.0,
	"1920x1080": 1.0,
}

var allowedDurations = map[int]struct{}{
	4:  {},
	8:  {},
	12: {},
}

const (
	minPromptLength = 10
	maxPromptLength = 5000
)

// CreditCost is the pure pricing function for one generation request.
// Inputs must already be validated.
func CreditCost(model, size string, durationSeconds int) int {
	base := float64(baseCostPerSecond * durationSeconds)
	mm, ok := modelMultipliers[model]
	if !ok {
		mm = 1
	}
	rm, ok := resolutionMultipliers[size]
	if !ok {
		rm = 1
	}
	return int(math.Ceil(base * mm * rm))
}

// ValidateRequest checks prompt, model, size and duration against the
// allowed enumerations. It must be called before any ledger effect.
func ValidateRequest(prompt, model, size string, durationSeconds int) error {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) < minPromptLength || len(trimmed) > maxPromptLength {
		return &domain.ValidationError{Field: "prompt", Message: "must be between 10 and 5000 characters"}
	}
	if _, ok := modelMultipliers[model]; !ok {
		return &domain.ValidationError{Field: "model", Message: "must be one of " + joinKeys(modelMultipliers)}
	}
	if _, ok := resolutionMultipliers[size]; !ok {
		return &domain.ValidationError{Field: "size", Message: "must be one of " + joinKeys(resolutionMultipliers)}
	}
	if _, ok := allowedDurations[durationSeconds]; !ok {
		return &domain.ValidationError{Field: "duration_seconds", Message: "must be 4, 8 or 12"}
	}
	return nil
}

func joinKeys(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
