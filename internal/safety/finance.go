package safety

// ComputeImpact projects the financial effect of changing a daily budget from
// currentMicros to newMicros. Pure function.
//
// A zero current budget is treated as a brand-new budget: PercentChange stays
// zero and NewBudget is set, rather than dividing by zero.
func ComputeImpact(currentMicros, newMicros int64) FinancialImpact {
	impact := FinancialImpact{
		CurrentDaily: Units(currentMicros),
		NewDaily:     Units(newMicros),
		DailyDiff:    Units(newMicros - currentMicros),
	}
	impact.MonthlyDiff = impact.DailyDiff * DaysPerMonth

	if currentMicros == 0 {
		impact.NewBudget = true
		return impact
	}

	impact.PercentChange = float64(newMicros-currentMicros) / float64(currentMicros) * 100
	return impact
}
