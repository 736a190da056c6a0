package safety

import (
	"math"
	"testing"
)

func TestComputeImpact(t *testing.T) {
	// $100/day → $200/day.
	impact := ComputeImpact(Micros(100), Micros(200))

	if impact.CurrentDaily != 100 || impact.NewDaily != 200 {
		t.Errorf("daily amounts = %.2f → %.2f, want 100 → 200", impact.CurrentDaily, impact.NewDaily)
	}
	if impact.DailyDiff != 100 {
		t.Errorf("DailyDiff = %.2f, want 100", impact.DailyDiff)
	}
	// Monthly projection uses the 30.4-day convention everywhere.
	if impact.MonthlyDiff != 3040 {
		t.Errorf("MonthlyDiff = %.2f, want 3040", impact.MonthlyDiff)
	}
	if impact.PercentChange != 100 {
		t.Errorf("PercentChange = %.2f, want 100", impact.PercentChange)
	}
	if impact.NewBudget {
		t.Error("NewBudget = true for a non-zero current budget")
	}
}

func TestComputeImpactNewBudget(t *testing.T) {
	impact := ComputeImpact(0, Micros(50))

	if !impact.NewBudget {
		t.Fatal("NewBudget = false for zero current budget")
	}
	if impact.PercentChange != 0 {
		t.Errorf("PercentChange = %.2f, want 0 (undefined, special-cased)", impact.PercentChange)
	}
	if impact.NewDaily != 50 {
		t.Errorf("NewDaily = %.2f, want 50", impact.NewDaily)
	}
}

func TestComputeImpactDecrease(t *testing.T) {
	impact := ComputeImpact(Micros(80), Micros(60))

	if impact.DailyDiff != -20 {
		t.Errorf("DailyDiff = %.2f, want -20", impact.DailyDiff)
	}
	if impact.PercentChange != -25 {
		t.Errorf("PercentChange = %.2f, want -25", impact.PercentChange)
	}
	if math.Abs(impact.MonthlyDiff - -608) > 1e-9 {
		t.Errorf("MonthlyDiff = %.4f, want -608", impact.MonthlyDiff)
	}
}
