package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jkaninda/adgate/internal/notify"
	"github.com/jkaninda/adgate/internal/platform"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
)

// campaignStatuses are the platform states this tool will set.
var campaignStatuses = map[string]bool{
	"ENABLED": true,
	"PAUSED":  true,
	"REMOVED": true,
}

// UpdateCampaignStatusTool enables, pauses, or removes campaigns. A single
// campaign is addressed by id; bulk changes use a name pattern, capped at the
// bulk ceiling, with every matched campaign enumerated in the preview.
type UpdateCampaignStatusTool struct {
	pipeline *Pipeline
}

// NewUpdateCampaignStatusTool creates the update_campaign_status tool.
func NewUpdateCampaignStatusTool(p *Pipeline) *UpdateCampaignStatusTool {
	return &UpdateCampaignStatusTool{pipeline: p}
}

func (t *UpdateCampaignStatusTool) Name() string { return "update_campaign_status" }

func (t *UpdateCampaignStatusTool) Description() string {
	return "Set campaign status (ENABLED, PAUSED, REMOVED) for one campaign by id or several by " +
		"name pattern. Bulk matches above the configured ceiling are rejected; the preview lists " +
		"every campaign the change would touch."
}

func (t *UpdateCampaignStatusTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account_id": map[string]any{
				"type":        "string",
				"description": "Google Ads account (customer) ID.",
			},
			"campaign_id": map[string]any{
				"type":        "string",
				"description": "Single campaign ID. Mutually exclusive with pattern.",
			},
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression matched against campaign names for bulk changes.",
			},
			"status": map[string]any{
				"type":        "string",
				"enum":        []string{"ENABLED", "PAUSED", "REMOVED"},
				"description": "Target status.",
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
		"required": []string{"account_id", "status"},
	}
}

func (t *UpdateCampaignStatusTool) Execute(ctx context.Context, req Request) (*Result, error) {
	p := t.pipeline
	accountID := StringParam(req.Params, "account_id")
	campaignID := StringParam(req.Params, "campaign_id")
	pattern := StringParam(req.Params, "pattern")
	status := strings.ToUpper(StringParam(req.Params, "status"))
	token := StringParam(req.Params, "confirmation_token")

	if err := p.authorize(ctx, req, platformGoogleAds, accountID, t.Name()); err != nil {
		return nil, err
	}
	if err := p.checkVagueness(ctx, req, t.Name(), accountID); err != nil {
		return nil, err
	}

	if status != "" && !campaignStatuses[status] {
		return nil, fmt.Errorf("unsupported status %q: use ENABLED, PAUSED, or REMOVED", status)
	}
	if campaignID == "" && pattern == "" {
		return nil, fmt.Errorf("either campaign_id or pattern is required")
	}
	if campaignID != "" && pattern != "" {
		return nil, fmt.Errorf("campaign_id and pattern are mutually exclusive")
	}

	exec, err := p.executor(platformGoogleAds)
	if err != nil {
		return nil, err
	}

	campaigns, err := platform.ReadWithRetry(ctx, p.logger, func(ctx context.Context) ([]platform.Campaign, error) {
		return exec.ListCampaigns(ctx, accountID)
	})
	if err != nil {
		p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), platformGoogleAds, accountID, err.Error(), req.Params)
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}

	targets, matchMsg, err := t.resolveTargets(campaigns, campaignID, pattern)
	if err != nil {
		if errors.Is(err, safety.ErrTooManyMatches) {
			return nil, p.rejectValidation(ctx, req, t.Name(), accountID, "too_many_matches", err)
		}
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no campaign matched")
	}

	dryRun := buildCampaignDryRun(accountID, targets, status, matchMsg)

	start := time.Now()
	action := func(ctx context.Context) (map[string]any, error) {
		updated := make([]map[string]any, 0, len(targets))
		snapshotIDs := make([]string, 0, len(targets))

		for _, c := range targets {
			before := snapshot.ResourceState{
				Kind:     snapshot.KindCampaign,
				Campaign: &snapshot.CampaignState{CampaignID: c.ID, Name: c.Name, Status: c.Status},
			}
			snapID, err := p.snapshots.Create(ctx, t.Name(), platformGoogleAds, accountID, req.UserID, c.ID, before, nil)
			if err != nil {
				return nil, fmt.Errorf("capturing snapshot for campaign %s: %w", c.ID, err)
			}

			if _, err := exec.SetCampaignStatus(ctx, accountID, c.ID, status); err != nil {
				// Stop at the first failure. Campaigns already changed keep
				// their snapshots for rollback; the failed one stays
				// unexecuted and needs manual reconciliation.
				p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), platformGoogleAds, accountID, err.Error(), req.Params)
				p.notify(ctx, notify.Record{
					Type:      notify.TypeError,
					Priority:  notify.PriorityCritical,
					AccountID: accountID,
					UserID:    req.UserID,
					Message: fmt.Sprintf("bulk status change stopped at campaign %s after %d of %d succeeded",
						c.ID, len(updated), len(targets)),
					Details: map[string]string{"snapshot_id": snapID, "campaign_id": c.ID},
				})
				return nil, fmt.Errorf("setting status on campaign %s (%d of %d applied): %w",
					c.ID, len(updated), len(targets), err)
			}

			p.recordExecution(ctx, snapID, snapshot.ResourceState{
				Kind:     snapshot.KindCampaign,
				Campaign: &snapshot.CampaignState{CampaignID: c.ID, Name: c.Name, Status: status},
			})
			updated = append(updated, map[string]any{
				"campaign_id":     c.ID,
				"name":            c.Name,
				"previous_status": c.Status,
				"new_status":      status,
				"snapshot_id":     snapID,
			})
			snapshotIDs = append(snapshotIDs, snapID)
		}

		typ, pri := notify.TypeStatusChange, notify.PriorityMedium
		if len(targets) > 1 {
			typ, pri = notify.TypeBulkOperation, notify.PriorityHigh
		}
		p.notify(ctx, notify.Record{
			Type:      typ,
			Priority:  pri,
			AccountID: accountID,
			UserID:    req.UserID,
			Message:   fmt.Sprintf("%d campaign(s) set to %s", len(updated), status),
			Details:   map[string]string{"snapshot_ids": strings.Join(snapshotIDs, ",")},
		})
		p.audit.LogWriteOperation(ctx, req.UserID, t.Name(), platformGoogleAds, accountID,
			strings.Join(snapshotIDs, ","), req.Params, time.Since(start))

		return map[string]any{
			"updated": updated,
			"count":   len(updated),
			"message": fmt.Sprintf("%d campaign(s) set to %s", len(updated), status),
		}, nil
	}

	return p.confirmOrPreview(ctx, req, t.Name(), token, dryRun, action)
}

// resolveTargets picks the affected campaigns: exact id lookup, or pattern
// match against names bounded by the bulk ceiling.
func (t *UpdateCampaignStatusTool) resolveTargets(campaigns []platform.Campaign, campaignID, pattern string) ([]platform.Campaign, string, error) {
	if campaignID != "" {
		for _, c := range campaigns {
			if c.ID == campaignID {
				return []platform.Campaign{c}, "", nil
			}
		}
		return nil, "", fmt.Errorf("campaign %q not found", campaignID)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	match, err := safety.MatchPattern(pattern, campaigns, t.pipeline.limits.MaxBulkItems,
		func(c platform.Campaign) bool { return re.MatchString(c.Name) },
		func(c platform.Campaign) string { return fmt.Sprintf("%s %q (currently %s)", c.ID, c.Name, c.Status) },
	)
	if err != nil {
		return nil, "", err
	}
	return match.Matched, match.ConfirmationMessage, nil
}

func buildCampaignDryRun(accountID string, targets []platform.Campaign, status, matchMsg string) safety.DryRunResult {
	b := safety.NewDryRun("update_campaign_status", platformGoogleAds, accountID)
	for _, c := range targets {
		b.AddChange(safety.Change{
			Resource:     "campaign",
			ResourceID:   c.ID,
			Field:        "status",
			CurrentValue: c.Status,
			NewValue:     status,
			Kind:         safety.ChangeUpdate,
		})
	}
	if len(targets) > 1 {
		b.AddRisk(fmt.Sprintf("bulk operation affecting %d campaigns", len(targets)))
		b.SetRiskLevel(safety.RiskHigh)
	}
	if status == "REMOVED" {
		b.AddRisk("REMOVED is not reversible on the platform; rollback can only re-enable, not restore history")
	}
	if matchMsg != "" {
		b.AddRecommendation(strings.TrimRight(matchMsg, "\n"))
	}
	return b.Build()
}
