package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager() *Manager {
	return NewManager(NewMemoryStore(), 90*24*time.Hour, testLogger())
}

func budgetState(micros int64) ResourceState {
	return ResourceState{Kind: KindBudget, Budget: &BudgetState{BudgetID: "b-1", AmountMicros: micros}}
}

func TestCreateAndRecordExecution(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, err := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(50_000_000), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap, err := m.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Executed() {
		t.Error("snapshot executed before RecordExecution")
	}
	if snap.Before.Budget.AmountMicros != 50_000_000 {
		t.Errorf("before-state = %+v", snap.Before)
	}

	if err := m.RecordExecution(ctx, id, budgetState(60_000_000)); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	snap, _ = m.Get(ctx, id)
	if !snap.Executed() || snap.After.Budget.AmountMicros != 60_000_000 {
		t.Errorf("after-state = %+v", snap.After)
	}
	if snap.ExecutedAt == nil {
		t.Error("ExecutedAt not set")
	}

	// After-state is recorded exactly once.
	if err := m.RecordExecution(ctx, id, budgetState(70_000_000)); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("second RecordExecution = %v, want ErrAlreadyExecuted", err)
	}
}

func TestRecordExecutionKindMismatch(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, _ := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(1), nil)
	after := ResourceState{Kind: KindCampaign, Campaign: &CampaignState{CampaignID: "c-1", Status: "paused"}}
	if err := m.RecordExecution(ctx, id, after); err == nil {
		t.Error("after-state with mismatched kind accepted")
	}
}

func TestRollbackPreconditions(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	noop := func(context.Context, ResourceState) error { return nil }

	// Unknown snapshot.
	if err := m.Rollback(ctx, "missing", noop); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rollback(unknown) = %v, want ErrNotFound", err)
	}

	// Never executed — fails regardless of before-state content.
	id, _ := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(50_000_000), nil)
	if err := m.Rollback(ctx, id, noop); !errors.Is(err, ErrNotExecuted) {
		t.Errorf("Rollback(unexecuted) = %v, want ErrNotExecuted", err)
	}
}

func TestRollbackExactlyOnce(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, _ := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(50_000_000), nil)
	_ = m.RecordExecution(ctx, id, budgetState(60_000_000))

	var restored int64
	inverse := func(_ context.Context, before ResourceState) error {
		restored = before.Budget.AmountMicros
		return nil
	}

	if err := m.Rollback(ctx, id, inverse); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if restored != 50_000_000 {
		t.Errorf("inverse action received %d, want the before-state amount", restored)
	}

	snap, _ := m.Get(ctx, id)
	if snap.RolledBackAt == nil || !snap.RollbackSuccessful {
		t.Errorf("rollback fields = %+v", snap)
	}

	// Second rollback fails.
	if err := m.Rollback(ctx, id, inverse); !errors.Is(err, ErrAlreadyRolledBack) {
		t.Errorf("second Rollback = %v, want ErrAlreadyRolledBack", err)
	}
}

func TestRollbackFailureRecorded(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, _ := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(50_000_000), nil)
	_ = m.RecordExecution(ctx, id, budgetState(60_000_000))

	invErr := errors.New("platform rejected the inverse write")
	if err := m.Rollback(ctx, id, func(context.Context, ResourceState) error { return invErr }); !errors.Is(err, invErr) {
		t.Fatalf("Rollback = %v, want wrapped inverse error", err)
	}

	// The snapshot survives with the failure recorded for manual follow-up.
	snap, _ := m.Get(ctx, id)
	if snap.RollbackSuccessful {
		t.Error("RollbackSuccessful = true after failed inverse")
	}
	if snap.RollbackError == "" {
		t.Error("RollbackError empty")
	}

	// And it still cannot be rolled back again.
	if err := m.Rollback(ctx, id, func(context.Context, ResourceState) error { return nil }); !errors.Is(err, ErrAlreadyRolledBack) {
		t.Errorf("rollback after failed rollback = %v, want ErrAlreadyRolledBack", err)
	}
}

func TestMarkVerified(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, _ := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(1), nil)
	_ = m.RecordExecution(ctx, id, budgetState(2))

	snap, _ := m.Get(ctx, id)
	if snap.Verified {
		t.Fatal("snapshot verified before reconciliation")
	}

	m.MarkVerified(ctx, id)
	snap, _ = m.Get(ctx, id)
	if !snap.Verified || snap.VerifiedAt == nil {
		t.Errorf("verification fields = %+v", snap)
	}
}

func TestPurge(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, time.Hour, testLogger())
	ctx := context.Background()

	id, _ := m.Create(ctx, "update_budget", "google_ads", "acct-1", "user-1", "b-1", budgetState(1), nil)

	// Age the snapshot past the retention window.
	snap, _ := store.Get(ctx, id)
	snap.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	_ = store.Update(ctx, snap)

	m.Purge(ctx)
	if _, err := m.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("snapshot survived purge: %v", err)
	}
}

func TestResourceStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		state   ResourceState
		wantErr bool
	}{
		{"valid budget", budgetState(1), false},
		{"kind without payload", ResourceState{Kind: KindBudget}, true},
		{"unknown kind", ResourceState{Kind: "dns_record"}, true},
		{"valid sitemap", ResourceState{Kind: KindSitemap, Sitemap: &SitemapState{SiteURL: "https://example.com", SitemapURL: "https://example.com/sitemap.xml"}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.state.Validate()
			if tc.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate(): %v", err)
			}
		})
	}
}
