package safety

import (
	"fmt"
	"math"
)

// Limits holds the policy constants for budget-change validation.
// The zero value is not usable; construct via DefaultLimits or config.
type Limits struct {
	// MaxChangePercent is the hard cap on |percent change|. Exceeding it
	// rejects the request outright. Exactly at the cap is allowed.
	MaxChangePercent float64
	// WarnPercent annotates (but does not block) changes above this magnitude.
	WarnPercent float64
	// GradualPercent additionally recommends staging the change in steps.
	GradualPercent float64
	// MaxBulkItems is the ceiling on items a single pattern match may affect.
	MaxBulkItems int
}

// DefaultLimits are the reference deployment constants. Multiple tools assume
// these values consistently; tests pin them.
func DefaultLimits() Limits {
	return Limits{
		MaxChangePercent: 500,
		WarnPercent:      50,
		GradualPercent:   200,
		MaxBulkItems:     20,
	}
}

// BudgetValidation is the derived outcome of a bounds check. Not stored.
type BudgetValidation struct {
	CurrentMicros   int64
	NewMicros       int64
	DiffMicros      int64
	PercentChange   float64
	Warnings        []string
	Recommendations []string
}

// CapError reports a budget change beyond the hard cap.
// Unwraps to ErrChangeExceedsCap.
type CapError struct {
	PercentChange float64
	Max           float64
}

func (e *CapError) Error() string {
	return fmt.Sprintf("budget change of %+.1f%% exceeds the %.0f%% maximum: changes this large must be made directly in the platform UI",
		e.PercentChange, e.Max)
}

func (e *CapError) Unwrap() error { return ErrChangeExceedsCap }

// ValidateBudgetChange checks a prospective daily-budget change against the
// configured limits. Amounts are in micros.
//
// Beyond MaxChangePercent (exclusive) the change is rejected with a CapError.
// Beyond WarnPercent it is allowed but annotated; beyond GradualPercent a
// staged-change recommendation is added as well. A change from zero is always
// allowed (new budget, percent undefined).
func ValidateBudgetChange(limits Limits, currentMicros, newMicros int64) (*BudgetValidation, error) {
	v := &BudgetValidation{
		CurrentMicros: currentMicros,
		NewMicros:     newMicros,
		DiffMicros:    newMicros - currentMicros,
	}

	if currentMicros == 0 {
		v.Warnings = append(v.Warnings, "no existing budget: this sets a brand-new daily amount")
		return v, nil
	}

	v.PercentChange = float64(newMicros-currentMicros) / float64(currentMicros) * 100
	magnitude := math.Abs(v.PercentChange)

	if magnitude > limits.MaxChangePercent {
		return nil, &CapError{PercentChange: v.PercentChange, Max: limits.MaxChangePercent}
	}

	if magnitude > limits.WarnPercent {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"budget change of %+.1f%% exceeds the %.0f%% warning threshold", v.PercentChange, limits.WarnPercent))
	}
	if magnitude > limits.GradualPercent {
		v.Recommendations = append(v.Recommendations, fmt.Sprintf(
			"consider applying this change in stages of at most %.0f%% and monitoring spend between steps", limits.GradualPercent))
	}

	return v, nil
}
