package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/audit"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
	pgstore "github.com/jkaninda/adgate/internal/storage/postgres"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "adgate.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	repo := store.Snapshots()

	impact := safety.ComputeImpact(50_000_000, 60_000_000)
	snap := &snapshot.Snapshot{
		ID:         "snap-1",
		Operation:  "update_budget",
		Platform:   "google_ads",
		AccountID:  "acct-1",
		UserID:     "user-1",
		ResourceID: "b-1",
		Before: snapshot.ResourceState{
			Kind:   snapshot.KindBudget,
			Budget: &snapshot.BudgetState{BudgetID: "b-1", AmountMicros: 50_000_000},
		},
		Impact:    &impact,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.Create(ctx, snap); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "snap-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Before.Kind != snapshot.KindBudget || got.Before.Budget.AmountMicros != 50_000_000 {
		t.Errorf("before-state = %+v", got.Before)
	}
	if got.After != nil {
		t.Error("after-state set on fresh snapshot")
	}
	if got.Impact == nil || got.Impact.DailyDiff != 10 {
		t.Errorf("impact = %+v", got.Impact)
	}

	// Record execution through the update path.
	now := time.Now().UTC()
	got.After = &snapshot.ResourceState{
		Kind:   snapshot.KindBudget,
		Budget: &snapshot.BudgetState{BudgetID: "b-1", AmountMicros: 60_000_000},
	}
	got.ExecutedAt = &now
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ = repo.Get(ctx, "snap-1")
	if !got.Executed() || got.After.Budget.AmountMicros != 60_000_000 {
		t.Errorf("after update: %+v", got.After)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestSnapshotListAndPurge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	repo := store.Snapshots()

	old := &snapshot.Snapshot{
		ID: "old", Operation: "update_budget", Platform: "google_ads",
		AccountID: "acct-1", ResourceID: "b-1",
		Before:    snapshot.ResourceState{Kind: snapshot.KindBudget, Budget: &snapshot.BudgetState{BudgetID: "b-1"}},
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &snapshot.Snapshot{
		ID: "recent", Operation: "update_budget", Platform: "google_ads",
		AccountID: "acct-2", ResourceID: "b-2",
		Before:    snapshot.ResourceState{Kind: snapshot.KindBudget, Budget: &snapshot.BudgetState{BudgetID: "b-2"}},
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, recent); err != nil {
		t.Fatal(err)
	}

	all, err := repo.List(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "recent" {
		t.Errorf("List = %+v, want newest first", all)
	}

	filtered, _ := repo.List(ctx, "acct-1", 10)
	if len(filtered) != 1 || filtered[0].ID != "old" {
		t.Errorf("List(acct-1) = %+v", filtered)
	}

	n, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Error("old snapshot survived purge")
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Drive through the Manager so lazy expiry and terminal-state rules run
	// against the real repository.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := approval.NewManager(store.Approvals(), time.Hour, logger)

	dryRun := safety.NewDryRun("update_budget", "google_ads", "acct-1").
		AddChange(safety.Change{Resource: "campaign_budget", ResourceID: "b-1", Field: "amount_micros", NewValue: "60000000", Kind: safety.ChangeUpdate}).
		Build()

	id, err := mgr.Submit(ctx, "update_budget", "campaign_budget b-1", "agent", dryRun)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req, err := mgr.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != approval.StatusPending || len(req.DryRun.Changes) != 1 {
		t.Errorf("request = %+v", req)
	}

	if err := mgr.Approve(ctx, id, "ops@example.com"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	req, _ = mgr.Get(ctx, id)
	if req.Status != approval.StatusApproved || req.ResolvedBy != "ops@example.com" {
		t.Errorf("resolved = %+v", req)
	}

	if err := mgr.Reject(ctx, id, "other", "late"); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("second resolution = %v", err)
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sink := store.Audit()
	err := sink.Append(ctx, audit.Event{
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-1",
		UserID:        "user-1",
		Operation:     "update_budget",
		Platform:      "google_ads",
		AccountID:     "acct-1",
		Parameters:    map[string]any{"budget_id": "b-1"},
		Result:        audit.ResultSuccess,
		SnapshotID:    "snap-1",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	repo, ok := sink.(*pgstore.AuditRepository)
	if !ok {
		t.Fatalf("sink type %T", sink)
	}
	events, err := repo.Query(ctx, "acct-1", "", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].SnapshotID != "snap-1" || events[0].Result != audit.ResultSuccess {
		t.Errorf("events = %+v", events)
	}
	if events[0].Parameters["budget_id"] != "b-1" {
		t.Errorf("parameters = %+v", events[0].Parameters)
	}
}
