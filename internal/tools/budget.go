package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/jkaninda/adgate/internal/notify"
	"github.com/jkaninda/adgate/internal/platform"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
)

const platformGoogleAds = "google_ads"

// UpdateBudgetTool changes a campaign's daily budget on Google Ads.
// First call without a confirmation token returns a dry-run preview with the
// projected financial impact; the follow-up call with the token executes.
type UpdateBudgetTool struct {
	pipeline *Pipeline
}

// NewUpdateBudgetTool creates the update_budget tool.
func NewUpdateBudgetTool(p *Pipeline) *UpdateBudgetTool {
	return &UpdateBudgetTool{pipeline: p}
}

func (t *UpdateBudgetTool) Name() string { return "update_budget" }

func (t *UpdateBudgetTool) Description() string {
	return "Change a campaign daily budget. Returns a dry-run preview with financial impact first; " +
		"call again with the returned confirmationToken to execute. Changes beyond the configured " +
		"percentage cap are rejected outright."
}

func (t *UpdateBudgetTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id": map[string]any{
				"type":        "string",
				"description": "Google Ads account (customer) ID.",
			},
			"budget_id": map[string]any{
				"type":        "string",
				"description": "Campaign budget ID to change.",
			},
			"new_amount": map[string]any{
				"type":        "number",
				"description": "New daily budget in account currency units.",
			},
			"intent": map[string]any{
				"type":        "string",
				"description": "The caller's request in their own words.",
			},
			"confirmation_token": map[string]any{
				"type":        "string",
				"description": "Token from a prior preview. Omit to get a preview.",
			},
		},
		"required": []string{"account_id", "budget_id", "new_amount"},
	}
}

func (t *UpdateBudgetTool) Execute(ctx context.Context, req Request) (*Result, error) {
	p := t.pipeline
	accountID := StringParam(req.Params, "account_id")
	budgetID := StringParam(req.Params, "budget_id")
	token := StringParam(req.Params, "confirmation_token")

	if err := p.authorize(ctx, req, platformGoogleAds, accountID, t.Name()); err != nil {
		return nil, err
	}
	if err := p.checkVagueness(ctx, req, t.Name(), accountID); err != nil {
		return nil, err
	}

	newAmount, err := FloatParam(req.Params, "new_amount")
	if err != nil {
		return nil, err
	}
	if newAmount <= 0 {
		return nil, fmt.Errorf("new_amount must be positive, got %v", newAmount)
	}
	newMicros := safety.Micros(newAmount)

	exec, err := p.executor(platformGoogleAds)
	if err != nil {
		return nil, err
	}

	current, err := platform.ReadWithRetry(ctx, p.logger, func(ctx context.Context) (*platform.Budget, error) {
		return exec.GetBudget(ctx, accountID, budgetID)
	})
	if err != nil {
		p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), platformGoogleAds, accountID, err.Error(), req.Params)
		return nil, fmt.Errorf("reading current budget: %w", err)
	}

	validation, err := safety.ValidateBudgetChange(p.limits, current.AmountMicros, newMicros)
	if err != nil {
		return nil, p.rejectValidation(ctx, req, t.Name(), accountID, "cap_exceeded", err)
	}

	impact := safety.ComputeImpact(current.AmountMicros, newMicros)
	dryRun := buildBudgetDryRun(accountID, budgetID, current.AmountMicros, newMicros, validation, impact)

	start := time.Now()
	action := func(ctx context.Context) (map[string]any, error) {
		before := snapshot.ResourceState{
			Kind:   snapshot.KindBudget,
			Budget: &snapshot.BudgetState{BudgetID: budgetID, AmountMicros: current.AmountMicros},
		}
		snapID, err := p.snapshots.Create(ctx, t.Name(), platformGoogleAds, accountID, req.UserID, budgetID, before, &impact)
		if err != nil {
			return nil, fmt.Errorf("capturing snapshot: %w", err)
		}

		res, err := exec.SetBudget(ctx, accountID, budgetID, newMicros)
		if err != nil {
			// Snapshot stays without an after-state: unverified, needs manual
			// reconciliation. Never retried, never guessed rolled-back.
			p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), platformGoogleAds, accountID, err.Error(), req.Params)
			p.notify(ctx, notify.Record{
				Type:      notify.TypeError,
				Priority:  notify.PriorityHigh,
				AccountID: accountID,
				UserID:    req.UserID,
				Message:   fmt.Sprintf("budget write failed after snapshot %s was captured; platform state needs manual reconciliation", snapID),
				Details:   map[string]string{"snapshot_id": snapID, "budget_id": budgetID},
			})
			return nil, fmt.Errorf("setting budget: %w", err)
		}

		p.recordExecution(ctx, snapID, snapshot.ResourceState{
			Kind:   snapshot.KindBudget,
			Budget: &snapshot.BudgetState{BudgetID: budgetID, AmountMicros: newMicros},
		})

		p.notify(ctx, notify.Record{
			Type:      notify.TypeBudgetChange,
			Priority:  budgetChangePriority(validation),
			AccountID: accountID,
			UserID:    req.UserID,
			Message: fmt.Sprintf("budget %s changed %.2f → %.2f/day (%+.1f%%)",
				budgetID, impact.CurrentDaily, impact.NewDaily, impact.PercentChange),
			Details: map[string]string{"budget_id": budgetID, "snapshot_id": snapID},
		})
		p.audit.LogWriteOperation(ctx, req.UserID, t.Name(), platformGoogleAds, accountID, snapID, req.Params, time.Since(start))

		return map[string]any{
			"budget_id":       budgetID,
			"previous_amount": impact.CurrentDaily,
			"new_amount":      impact.NewDaily,
			"snapshot_id":     snapID,
			"confirmation":    res.Confirmation,
			"message":         fmt.Sprintf("budget updated; snapshot %s allows rollback", snapID),
		}, nil
	}

	return p.confirmOrPreview(ctx, req, t.Name(), token, dryRun, action)
}

func buildBudgetDryRun(accountID, budgetID string, currentMicros, newMicros int64, v *safety.BudgetValidation, impact safety.FinancialImpact) safety.DryRunResult {
	b := safety.NewDryRun("update_budget", platformGoogleAds, accountID).
		AddChange(safety.Change{
			Resource:     "campaign_budget",
			ResourceID:   budgetID,
			Field:        "amount_micros",
			CurrentValue: fmt.Sprintf("%.2f", safety.Units(currentMicros)),
			NewValue:     fmt.Sprintf("%.2f", safety.Units(newMicros)),
			Kind:         safety.ChangeUpdate,
		}).
		SetImpact(impact)

	for _, w := range v.Warnings {
		b.AddRisk(w)
	}
	for _, r := range v.Recommendations {
		b.AddRecommendation(r)
		b.SetRiskLevel(safety.RiskHigh)
	}
	return b.Build()
}

// budgetChangePriority maps validation annotations to notification priority:
// above the warning threshold notify high, above gradual critical.
func budgetChangePriority(v *safety.BudgetValidation) notify.Priority {
	switch {
	case len(v.Recommendations) > 0:
		return notify.PriorityCritical
	case len(v.Warnings) > 0:
		return notify.PriorityHigh
	default:
		return notify.PriorityMedium
	}
}
