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

// RollbackTool restores the before-state recorded in a snapshot. Rollback is
// itself a platform write, so it runs the full preview/confirm pipeline; a
// snapshot rolls back at most once.
type RollbackTool struct {
	pipeline *Pipeline
}

// NewRollbackTool creates the rollback_operation tool.
func NewRollbackTool(p *Pipeline) *RollbackTool {
	return &RollbackTool{pipeline: p}
}

func (t *RollbackTool) Name() string { return "rollback_operation" }

func (t *RollbackTool) Description() string {
	return "Undo a previous write by restoring the before-state recorded in its snapshot. " +
		"Returns a preview of what would be restored; call again with the returned " +
		"confirmationToken to execute. Each snapshot can be rolled back once."
}

func (t *RollbackTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"snapshot_id": map[string]any{
				"type":        "string",
				"description": "Snapshot to roll back, as returned by the original write.",
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
		"required": []string{"snapshot_id"},
	}
}

func (t *RollbackTool) Execute(ctx context.Context, req Request) (*Result, error) {
	p := t.pipeline
	snapshotID := StringParam(req.Params, "snapshot_id")
	token := StringParam(req.Params, "confirmation_token")

	if err := p.checkVagueness(ctx, req, t.Name(), ""); err != nil {
		return nil, err
	}

	snap, err := p.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	// The rollback targets the snapshot's own account; the caller must hold
	// that grant, not just any grant.
	if err := p.authorize(ctx, req, snap.Platform, snap.AccountID, t.Name()); err != nil {
		return nil, err
	}

	if !snap.Executed() {
		return nil, snapshot.ErrNotExecuted
	}
	if snap.RolledBackAt != nil {
		return nil, snapshot.ErrAlreadyRolledBack
	}

	exec, err := p.executor(snap.Platform)
	if err != nil {
		return nil, err
	}

	dryRun, err := buildRollbackDryRun(snap)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	action := func(ctx context.Context) (map[string]any, error) {
		err := p.snapshots.Rollback(ctx, snapshotID, Inverse(exec, snap.AccountID))

		status := "success"
		if err != nil {
			status = "failure"
		}
		if p.metrics != nil {
			p.metrics.RollbacksTotal.WithLabelValues(status).Inc()
		}

		if err != nil {
			p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), snap.Platform, snap.AccountID, err.Error(), req.Params)
			p.notify(ctx, notify.Record{
				Type:      notify.TypeRollback,
				Priority:  notify.PriorityCritical,
				AccountID: snap.AccountID,
				UserID:    req.UserID,
				Message:   fmt.Sprintf("rollback of snapshot %s failed; manual follow-up required", snapshotID),
				Details:   map[string]string{"snapshot_id": snapshotID, "error": err.Error()},
			})
			return nil, err
		}

		p.notify(ctx, notify.Record{
			Type:      notify.TypeRollback,
			Priority:  notify.PriorityHigh,
			AccountID: snap.AccountID,
			UserID:    req.UserID,
			Message:   fmt.Sprintf("snapshot %s rolled back (%s on %s)", snapshotID, snap.Operation, snap.Platform),
			Details:   map[string]string{"snapshot_id": snapshotID},
		})
		p.audit.LogWriteOperation(ctx, req.UserID, t.Name(), snap.Platform, snap.AccountID, snapshotID, req.Params, time.Since(start))

		return map[string]any{
			"snapshot_id": snapshotID,
			"operation":   snap.Operation,
			"platform":    snap.Platform,
			"restored":    describeState(snap.Before),
			"message":     fmt.Sprintf("before-state of %s restored", snap.Operation),
		}, nil
	}

	return p.confirmOrPreview(ctx, req, t.Name(), token, dryRun, action)
}

// Inverse builds the rollback action for a snapshot's account, dispatching
// on the before-state's resource kind. The tagged union guarantees the
// payload matching the kind is present. Shared with the admin API, which
// rolls back without the token protocol.
func Inverse(exec platform.Executor, accountID string) snapshot.InverseAction {
	return func(ctx context.Context, before snapshot.ResourceState) error {
		switch before.Kind {
		case snapshot.KindBudget:
			_, err := exec.SetBudget(ctx, accountID, before.Budget.BudgetID, before.Budget.AmountMicros)
			return err
		case snapshot.KindCampaign:
			_, err := exec.SetCampaignStatus(ctx, accountID, before.Campaign.CampaignID, before.Campaign.Status)
			return err
		case snapshot.KindSitemap:
			if before.Sitemap.Submitted {
				_, err := exec.SubmitSitemap(ctx, before.Sitemap.SiteURL, before.Sitemap.SitemapURL)
				return err
			}
			_, err := exec.DeleteSitemap(ctx, before.Sitemap.SiteURL, before.Sitemap.SitemapURL)
			return err
		default:
			return fmt.Errorf("cannot invert resource kind %q", before.Kind)
		}
	}
}

// buildRollbackDryRun previews the after→before restoration per resource.
func buildRollbackDryRun(snap *snapshot.Snapshot) (safety.DryRunResult, error) {
	b := safety.NewDryRun("rollback_operation", snap.Platform, snap.AccountID)

	switch snap.Before.Kind {
	case snapshot.KindBudget:
		b.AddChange(safety.Change{
			Resource:     "campaign_budget",
			ResourceID:   snap.Before.Budget.BudgetID,
			Field:        "amount_micros",
			CurrentValue: fmt.Sprintf("%.2f", safety.Units(snap.After.Budget.AmountMicros)),
			NewValue:     fmt.Sprintf("%.2f", safety.Units(snap.Before.Budget.AmountMicros)),
			Kind:         safety.ChangeUpdate,
		})
	case snapshot.KindCampaign:
		b.AddChange(safety.Change{
			Resource:     "campaign",
			ResourceID:   snap.Before.Campaign.CampaignID,
			Field:        "status",
			CurrentValue: snap.After.Campaign.Status,
			NewValue:     snap.Before.Campaign.Status,
			Kind:         safety.ChangeUpdate,
		})
	case snapshot.KindSitemap:
		kind := safety.ChangeDelete
		newValue := "not submitted"
		if snap.Before.Sitemap.Submitted {
			kind = safety.ChangeUpdate
			newValue = "submitted"
		}
		b.AddChange(safety.Change{
			Resource:     "sitemap",
			ResourceID:   snap.Before.Sitemap.SitemapURL,
			Field:        "submitted",
			CurrentValue: "submitted",
			NewValue:     newValue,
			Kind:         kind,
		})
	default:
		return safety.DryRunResult{}, fmt.Errorf("cannot preview rollback of resource kind %q", snap.Before.Kind)
	}

	b.AddRisk(fmt.Sprintf("reverses %s executed at %s", snap.Operation, formatTime(snap.ExecutedAt)))
	if !snap.Verified {
		b.AddRisk("original write was never verified against the platform change history; confirm platform state first")
	}
	return b.Build(), nil
}

func describeState(s snapshot.ResourceState) map[string]any {
	switch s.Kind {
	case snapshot.KindBudget:
		return map[string]any{"budget_id": s.Budget.BudgetID, "amount": safety.Units(s.Budget.AmountMicros)}
	case snapshot.KindCampaign:
		return map[string]any{"campaign_id": s.Campaign.CampaignID, "status": s.Campaign.Status}
	case snapshot.KindSitemap:
		return map[string]any{"site_url": s.Sitemap.SiteURL, "sitemap_url": s.Sitemap.SitemapURL, "submitted": s.Sitemap.Submitted}
	default:
		return nil
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
