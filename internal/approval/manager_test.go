package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(NewMemoryStore(), ttl, testLogger())
}

func TestManagerApprove(t *testing.T) {
	m := newTestManager(time.Hour)
	ctx := context.Background()

	id, err := m.Submit(ctx, "update_budget", "campaign_budget b-1", "agent", testDryRun("60.00"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req, err := m.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != StatusPending {
		t.Errorf("Status = %s, want pending", req.Status)
	}

	if err := m.Approve(ctx, id, "ops@example.com"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	req, _ = m.Get(ctx, id)
	if req.Status != StatusApproved || req.ResolvedBy != "ops@example.com" {
		t.Errorf("resolved request = %+v", req)
	}
	if req.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	// Terminal state: a second decision fails.
	if err := m.Reject(ctx, id, "other", "changed my mind"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second resolution = %v, want ErrAlreadyResolved", err)
	}
}

func TestManagerReject(t *testing.T) {
	m := newTestManager(time.Hour)
	ctx := context.Background()

	id, _ := m.Submit(ctx, "submit_sitemap", "https://example.com", "agent", testDryRun("x"))
	if err := m.Reject(ctx, id, "ops", "wrong property"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	req, _ := m.Get(ctx, id)
	if req.Status != StatusRejected || req.Reason != "wrong property" {
		t.Errorf("request = %+v", req)
	}
}

func TestManagerLazyExpiry(t *testing.T) {
	m := newTestManager(10 * time.Millisecond)
	ctx := context.Background()

	id, _ := m.Submit(ctx, "update_budget", "b-1", "agent", testDryRun("60.00"))
	time.Sleep(20 * time.Millisecond)

	// Expiry is applied on read: pending → rejected.
	req, err := m.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != StatusRejected {
		t.Errorf("Status = %s after expiry, want rejected", req.Status)
	}
	if req.ResolvedBy != "system:expired" {
		t.Errorf("ResolvedBy = %q", req.ResolvedBy)
	}

	if err := m.Approve(ctx, id, "ops"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("approving an expired request = %v, want ErrAlreadyResolved", err)
	}
}

func TestManagerList(t *testing.T) {
	m := newTestManager(time.Hour)
	ctx := context.Background()

	a, _ := m.Submit(ctx, "op-a", "r", "agent", testDryRun("1"))
	_, _ = m.Submit(ctx, "op-b", "r", "agent", testDryRun("2"))
	_ = m.Approve(ctx, a, "ops")

	pending := StatusPending
	got, err := m.List(ctx, &pending)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Operation != "op-b" {
		t.Errorf("List(pending) = %+v, want only op-b", got)
	}

	all, _ := m.List(ctx, nil)
	if len(all) != 2 {
		t.Errorf("List(nil) = %d entries, want 2", len(all))
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := newTestManager(time.Hour)
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}
