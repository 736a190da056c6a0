package tools

import (
	"context"
	"fmt"

	"github.com/jkaninda/adgate/internal/snapshot"
)

// ListApprovedAccountsTool returns the caller's verified approved-account
// set. Read-only; no confirmation required.
type ListApprovedAccountsTool struct {
	pipeline *Pipeline
}

// NewListApprovedAccountsTool creates the list_approved_accounts tool.
func NewListApprovedAccountsTool(p *Pipeline) *ListApprovedAccountsTool {
	return &ListApprovedAccountsTool{pipeline: p}
}

func (t *ListApprovedAccountsTool) Name() string { return "list_approved_accounts" }

func (t *ListApprovedAccountsTool) Description() string {
	return "List the accounts this caller is authorized to operate on."
}

func (t *ListApprovedAccountsTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ListApprovedAccountsTool) Execute(ctx context.Context, req Request) (*Result, error) {
	p := t.pipeline

	accounts := []map[string]any{}
	if req.Gate != nil {
		for _, a := range req.Gate.ApprovedAccounts() {
			entry := map[string]any{
				"platform":   a.Platform,
				"account_id": a.AccountID,
			}
			if a.DisplayName != "" {
				entry["display_name"] = a.DisplayName
			}
			if a.ExpiresAt != nil {
				entry["expires_at"] = a.ExpiresAt.UTC()
			}
			accounts = append(accounts, entry)
		}
	}

	p.audit.LogReadOperation(ctx, req.UserID, t.Name(), "", nil)
	return ExecutedResult(map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	}), nil
}

// GetSnapshotTool retrieves one snapshot by id, or the most recent snapshots
// for an account. Access is checked against the snapshot's own account.
type GetSnapshotTool struct {
	pipeline *Pipeline
}

// NewGetSnapshotTool creates the get_snapshot tool.
func NewGetSnapshotTool(p *Pipeline) *GetSnapshotTool {
	return &GetSnapshotTool{pipeline: p}
}

func (t *GetSnapshotTool) Name() string { return "get_snapshot" }

func (t *GetSnapshotTool) Description() string {
	return "Inspect a snapshot by id, or list recent snapshots for an account, " +
		"including rollback and verification state."
}

func (t *GetSnapshotTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"snapshot_id": map[string]any{
				"type":        "string",
				"description": "Snapshot ID. Mutually exclusive with account_id.",
			},
			"account_id": map[string]any{
				"type":        "string",
				"description": "List recent snapshots for this account instead.",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": "Maximum snapshots to return when listing (default 20).",
			},
		},
	}
}

func (t *GetSnapshotTool) Execute(ctx context.Context, req Request) (*Result, error) {
	p := t.pipeline
	snapshotID := StringParam(req.Params, "snapshot_id")
	accountID := StringParam(req.Params, "account_id")

	if snapshotID != "" {
		snap, err := p.snapshots.Get(ctx, snapshotID)
		if err != nil {
			return nil, err
		}
		if err := p.authorize(ctx, req, snap.Platform, snap.AccountID, t.Name()); err != nil {
			return nil, err
		}
		p.audit.LogReadOperation(ctx, req.UserID, t.Name(), snap.AccountID, req.Params)
		return ExecutedResult(map[string]any{"snapshot": snapshotView(snap)}), nil
	}

	if accountID == "" {
		return nil, fmt.Errorf("either snapshot_id or account_id is required")
	}

	// Listing needs a grant for the account on at least one platform.
	if !t.accountGranted(req, accountID) {
		if err := p.authorize(ctx, req, "", accountID, t.Name()); err != nil {
			return nil, err
		}
	}

	limit := 20
	if n, err := FloatParam(req.Params, "limit"); err == nil && n > 0 {
		limit = int(n)
	}
	snaps, err := p.snapshots.List(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]map[string]any, len(snaps))
	for i := range snaps {
		views[i] = snapshotView(&snaps[i])
	}
	p.audit.LogReadOperation(ctx, req.UserID, t.Name(), accountID, req.Params)
	return ExecutedResult(map[string]any{
		"snapshots": views,
		"count":     len(views),
	}), nil
}

// accountGranted reports whether any grant covers accountID, regardless of
// platform. Snapshot listings span platforms, so a platform-qualified check
// does not apply.
func (t *GetSnapshotTool) accountGranted(req Request, accountID string) bool {
	if req.Gate == nil {
		return false
	}
	for _, a := range req.Gate.ApprovedAccounts() {
		if a.AccountID == accountID {
			return true
		}
	}
	return false
}

func snapshotView(s *snapshot.Snapshot) map[string]any {
	view := map[string]any{
		"snapshot_id": s.ID,
		"operation":   s.Operation,
		"platform":    s.Platform,
		"account_id":  s.AccountID,
		"resource_id": s.ResourceID,
		"before":      describeState(s.Before),
		"executed":    s.Executed(),
		"verified":    s.Verified,
		"created_at":  s.CreatedAt,
		"rolled_back": s.RolledBackAt != nil,
	}
	if s.After != nil {
		view["after"] = describeState(*s.After)
	}
	if s.RolledBackAt != nil {
		view["rollback_successful"] = s.RollbackSuccessful
		if s.RollbackError != "" {
			view["rollback_error"] = s.RollbackError
		}
	}
	if s.Impact != nil {
		view["impact"] = s.Impact
	}
	return view
}
