// Package safety implements the pre-execution validation layer for adgate:
// vagueness detection, budget-change bounds, financial impact projection,
// bulk pattern matching, and the dry-run preview builder.
//
// Everything in this package is a pure function or a value builder — no
// stores, no goroutines. Side effects (audit, notification) belong to the
// write-tool pipeline that calls it.
package safety

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for safety rejections. These are policy decisions, not bugs:
// callers report them to the requester verbatim and never retry.
var (
	ErrVagueRequest     = errors.New("request too vague to execute safely")
	ErrChangeExceedsCap = errors.New("budget change exceeds the maximum allowed percentage")
	ErrTooManyMatches   = errors.New("pattern matches too many items")
)

// MicrosPerUnit is the integer currency scale: 1,000,000 micros = 1 unit.
// All monetary math in the pipeline happens in micros; conversion to display
// units happens only at formatting time.
const MicrosPerUnit = 1_000_000

// DaysPerMonth is the average-month convention used for every monthly spend
// projection. Each tool must use this constant so previews agree across tools.
const DaysPerMonth = 30.4

// RiskLevel classifies the danger of a prospective write.
type RiskLevel int

const (
	RiskLow    RiskLevel = iota // Small, easily reversed change.
	RiskMedium                  // Noticeable spend or visibility impact.
	RiskHigh                    // Large spend swing or bulk mutation.
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseRiskLevel converts a string to a RiskLevel.
// Unrecognized values default to RiskHigh (default-deny principle).
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskHigh
	}
}

// ChangeKind distinguishes creates, updates, and deletes in a dry run.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a single field-level mutation a write operation would apply.
type Change struct {
	Resource     string     `json:"resource"`      // e.g. "campaign_budget"
	ResourceID   string     `json:"resource_id"`   // Platform-side identifier.
	Field        string     `json:"field"`         // e.g. "amount_micros"
	CurrentValue string     `json:"current_value"` // Rendered current value.
	NewValue     string     `json:"new_value"`     // Rendered value after the write.
	Kind         ChangeKind `json:"kind"`
}

// FinancialImpact is the projected spend delta of a budget change.
// Amounts are in display units; the projection math ran in micros.
type FinancialImpact struct {
	CurrentDaily  float64 `json:"current_daily"`
	NewDaily      float64 `json:"new_daily"`
	DailyDiff     float64 `json:"daily_diff"`
	MonthlyDiff   float64 `json:"monthly_diff"` // DailyDiff × DaysPerMonth.
	PercentChange float64 `json:"percent_change"`
	NewBudget     bool    `json:"new_budget"` // Current was zero; percent undefined.
}

// DryRunResult is the immutable preview of a prospective write.
// Built fresh on every tool invocation, never reused across calls.
type DryRunResult struct {
	Operation       string           `json:"operation"`
	Platform        string           `json:"platform"`
	AccountID       string           `json:"account_id"`
	Changes         []Change         `json:"changes"`
	Risks           []string         `json:"risks,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Impact          *FinancialImpact `json:"impact,omitempty"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	CreatedAt       time.Time        `json:"created_at"`
}

// VaguenessError reports a request blocked for lacking concrete parameters.
// Unwraps to ErrVagueRequest.
type VaguenessError struct {
	Operation string
	Reason    string
}

func (e *VaguenessError) Error() string {
	return fmt.Sprintf("operation %q blocked: %s", e.Operation, e.Reason)
}

func (e *VaguenessError) Unwrap() error { return ErrVagueRequest }

// TooManyMatchesError reports a bulk pattern exceeding the configured ceiling.
// Unwraps to ErrTooManyMatches.
type TooManyMatchesError struct {
	Pattern string
	Matched int
	Max     int
}

func (e *TooManyMatchesError) Error() string {
	return fmt.Sprintf("pattern %q matched %d items, maximum is %d: narrow the pattern and try again",
		e.Pattern, e.Matched, e.Max)
}

func (e *TooManyMatchesError) Unwrap() error { return ErrTooManyMatches }

// Micros converts display units to micros.
func Micros(units float64) int64 {
	return int64(units * MicrosPerUnit)
}

// Units converts micros to display units.
func Units(micros int64) float64 {
	return float64(micros) / MicrosPerUnit
}
