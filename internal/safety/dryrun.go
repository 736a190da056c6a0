package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DryRunBuilder accumulates the pieces of a preview. It performs no
// validation — validators run before the builder and feed it their findings.
type DryRunBuilder struct {
	result DryRunResult
}

// NewDryRun starts a builder for the given operation.
func NewDryRun(operation, platform, accountID string) *DryRunBuilder {
	return &DryRunBuilder{result: DryRunResult{
		Operation: operation,
		Platform:  platform,
		AccountID: accountID,
		RiskLevel: RiskLow,
	}}
}

// AddChange appends a field-level mutation to the preview.
func (b *DryRunBuilder) AddChange(c Change) *DryRunBuilder {
	b.result.Changes = append(b.result.Changes, c)
	return b
}

// AddRisk appends a risk/warning line and raises the overall level to at
// least medium.
func (b *DryRunBuilder) AddRisk(risk string) *DryRunBuilder {
	b.result.Risks = append(b.result.Risks, risk)
	if b.result.RiskLevel < RiskMedium {
		b.result.RiskLevel = RiskMedium
	}
	return b
}

// AddRecommendation appends an advisory line without affecting the risk level.
func (b *DryRunBuilder) AddRecommendation(rec string) *DryRunBuilder {
	b.result.Recommendations = append(b.result.Recommendations, rec)
	return b
}

// SetImpact attaches the financial projection.
func (b *DryRunBuilder) SetImpact(impact FinancialImpact) *DryRunBuilder {
	b.result.Impact = &impact
	return b
}

// SetRiskLevel overrides the overall risk level. Only raises, never lowers.
func (b *DryRunBuilder) SetRiskLevel(level RiskLevel) *DryRunBuilder {
	if level > b.result.RiskLevel {
		b.result.RiskLevel = level
	}
	return b
}

// Build finalizes the preview. The returned value is treated as immutable.
func (b *DryRunBuilder) Build() DryRunResult {
	r := b.result
	r.CreatedAt = time.Now().UTC()
	return r
}

// Hash returns a stable digest binding a dry run to a confirmation token.
// Only the identity-bearing fields participate: operation, platform, account,
// and the ordered change list. Timestamps, risk text, and impact are display
// data and deliberately excluded so cosmetic differences don't invalidate a
// token, while any change in what would actually be written does.
func (r DryRunResult) Hash() string {
	payload := struct {
		Operation string   `json:"operation"`
		Platform  string   `json:"platform"`
		AccountID string   `json:"account_id"`
		Changes   []Change `json:"changes"`
	}{r.Operation, r.Platform, r.AccountID, r.Changes}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Render produces the human-readable preview text shown to the requester
// before confirmation.
func (r DryRunResult) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DRY RUN — %s on %s (account %s)\n", r.Operation, r.Platform, r.AccountID)
	fmt.Fprintf(&sb, "Risk level: %s\n", r.RiskLevel)

	if len(r.Changes) > 0 {
		sb.WriteString("\nChanges:\n")
		for _, c := range r.Changes {
			fmt.Fprintf(&sb, "  [%s] %s %s: %s → %s (%s)\n",
				c.Kind, c.Resource, c.ResourceID, c.CurrentValue, c.NewValue, c.Field)
		}
	}
	if r.Impact != nil {
		sb.WriteString("\nFinancial impact:\n")
		if r.Impact.NewBudget {
			fmt.Fprintf(&sb, "  new budget: %.2f/day (%.2f/month)\n",
				r.Impact.NewDaily, r.Impact.NewDaily*DaysPerMonth)
		} else {
			fmt.Fprintf(&sb, "  daily: %.2f → %.2f (%+.2f)\n",
				r.Impact.CurrentDaily, r.Impact.NewDaily, r.Impact.DailyDiff)
			fmt.Fprintf(&sb, "  monthly: %+.2f (%+.1f%%)\n",
				r.Impact.MonthlyDiff, r.Impact.PercentChange)
		}
	}
	if len(r.Risks) > 0 {
		sb.WriteString("\nRisks:\n")
		for _, risk := range r.Risks {
			fmt.Fprintf(&sb, "  - %s\n", risk)
		}
	}
	if len(r.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", rec)
		}
	}
	return sb.String()
}
