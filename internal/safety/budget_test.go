package safety

import (
	"errors"
	"testing"
)

func TestValidateBudgetChangeBoundary(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name    string
		current int64
		next    int64
		wantErr bool
	}{
		{"exactly at cap is allowed", Micros(100), Micros(600), false}, // +500%
		{"just past cap is rejected", 100_000_000, 600_010_000, true},  // +500.01%
		{"large decrease within cap", Micros(100), Micros(1), false},   // -99%
		{"six hundred percent rejected", Micros(100), Micros(700), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ValidateBudgetChange(limits, tc.current, tc.next)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ValidateBudgetChange(%d, %d) = nil error, want cap rejection", tc.current, tc.next)
				}
				if !errors.Is(err, ErrChangeExceedsCap) {
					t.Errorf("error = %v, want ErrChangeExceedsCap", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateBudgetChange(%d, %d): %v", tc.current, tc.next, err)
			}
			if v == nil {
				t.Fatal("validation is nil on success")
			}
		})
	}
}

func TestValidateBudgetChangeWarnings(t *testing.T) {
	limits := DefaultLimits()

	// +100% is allowed but exceeds the 50% warning threshold (scenario: $100 → $200).
	v, err := ValidateBudgetChange(limits, Micros(100), Micros(200))
	if err != nil {
		t.Fatalf("ValidateBudgetChange: %v", err)
	}
	if v.PercentChange != 100 {
		t.Errorf("PercentChange = %.2f, want 100", v.PercentChange)
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", v.Warnings)
	}
	if len(v.Recommendations) != 0 {
		t.Errorf("Recommendations = %v, want none below the gradual threshold", v.Recommendations)
	}

	// +300% additionally recommends staged changes.
	v, err = ValidateBudgetChange(limits, Micros(100), Micros(400))
	if err != nil {
		t.Fatalf("ValidateBudgetChange: %v", err)
	}
	if len(v.Warnings) == 0 || len(v.Recommendations) == 0 {
		t.Errorf("warnings=%v recommendations=%v, want both annotated at +300%%", v.Warnings, v.Recommendations)
	}

	// +30% passes silently.
	v, err = ValidateBudgetChange(limits, Micros(100), Micros(130))
	if err != nil {
		t.Fatalf("ValidateBudgetChange: %v", err)
	}
	if len(v.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none at +30%%", v.Warnings)
	}
}

func TestValidateBudgetChangeFromZero(t *testing.T) {
	v, err := ValidateBudgetChange(DefaultLimits(), 0, Micros(1000))
	if err != nil {
		t.Fatalf("change from zero should be allowed: %v", err)
	}
	if len(v.Warnings) != 1 {
		t.Errorf("Warnings = %v, want the new-budget annotation", v.Warnings)
	}
}

func TestDefaultLimitsPinned(t *testing.T) {
	// Reference deployment constants — multiple tools assume them consistently.
	l := DefaultLimits()
	if l.MaxChangePercent != 500 || l.WarnPercent != 50 || l.GradualPercent != 200 || l.MaxBulkItems != 20 {
		t.Errorf("DefaultLimits() = %+v, want 500/50/200/20", l)
	}
}
