package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	mu   sync.Mutex
	name string
	sent []Record
	err  error
}

func (c *captureSender) Name() string { return c.name }

func (c *captureSender) Send(_ context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, rec)
	return nil
}

func (c *captureSender) records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.sent...)
}

func TestNotifyImmediateDelivery(t *testing.T) {
	cap := &captureSender{name: "capture"}
	d := NewDispatcher(nil, testLogger())
	d.RegisterSender(cap)

	d.Notify(context.Background(), Record{
		Type:      TypeVagueRequestBlocked,
		Priority:  PriorityHigh,
		AccountID: "acct-1",
		Message:   "vague budget request blocked",
	})

	got := cap.records()
	if len(got) != 1 {
		t.Fatalf("sent %d records, want 1", len(got))
	}
	if got[0].Type != TypeVagueRequestBlocked || got[0].CreatedAt.IsZero() {
		t.Errorf("record = %+v", got[0])
	}
}

func TestNotifySendFailureSwallowed(t *testing.T) {
	d := NewDispatcher(nil, testLogger())
	d.RegisterSender(&captureSender{name: "broken", err: errors.New("unreachable")})

	// Must not panic; the failure only logs.
	d.Notify(context.Background(), Record{Type: TypeError, Message: "x"})

	if d.Pending() != 1 {
		t.Errorf("Pending = %d, want record still queued for digest", d.Pending())
	}
}

func TestDigestGroupsByOwner(t *testing.T) {
	owners := map[string]string{"acct-1": "team-a", "acct-2": "team-b"}
	resolver := func(id string) string {
		if o, ok := owners[id]; ok {
			return o
		}
		return "unassigned"
	}

	cap := &captureSender{name: "capture"}
	d := NewDispatcher(resolver, testLogger())
	d.RegisterSender(cap)

	ctx := context.Background()
	d.Notify(ctx, Record{Type: TypeBudgetChange, Priority: PriorityLow, AccountID: "acct-1", Message: "a"})
	d.Notify(ctx, Record{Type: TypeBudgetChange, Priority: PriorityCritical, AccountID: "acct-1", Message: "b"})
	d.Notify(ctx, Record{Type: TypeRollback, Priority: PriorityMedium, AccountID: "acct-2", Message: "c"})

	if d.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", d.Pending())
	}

	before := len(cap.records()) // immediate deliveries
	d.FlushDigest(ctx)

	digests := cap.records()[before:]
	if len(digests) != 2 {
		t.Fatalf("flush produced %d digests, want one per owner group", len(digests))
	}

	byGroup := make(map[string]Record)
	for _, rec := range digests {
		byGroup[rec.Details["group"]] = rec
	}
	teamA, ok := byGroup["team-a"]
	if !ok {
		t.Fatal("no digest for team-a")
	}
	// Digest inherits the highest priority in its batch.
	if teamA.Priority != PriorityCritical {
		t.Errorf("team-a digest priority = %s, want critical", teamA.Priority)
	}
	if !strings.Contains(teamA.Message, "2 events") {
		t.Errorf("team-a digest message = %q", teamA.Message)
	}

	if d.Pending() != 0 {
		t.Errorf("Pending = %d after flush, want 0", d.Pending())
	}

	// A second flush with nothing queued sends nothing.
	before = len(cap.records())
	d.FlushDigest(ctx)
	if len(cap.records()) != before {
		t.Error("empty flush produced digests")
	}
}

func TestWebhookURLValidation(t *testing.T) {
	// Rejection cases only: the accept path needs live DNS.
	for _, raw := range []string{
		"http://localhost/hook",
		"http://127.0.0.1/hook",
		"ftp://example.com/hook",
		"://bad",
	} {
		if err := validateWebhookURL(raw); err == nil {
			t.Errorf("validateWebhookURL(%q) = nil, want error", raw)
		}
	}
}

func TestPriorityString(t *testing.T) {
	if PriorityCritical.String() != "critical" || PriorityLow.String() != "low" {
		t.Error("priority names wrong")
	}
	if Priority(42).String() != "unknown" {
		t.Error("out-of-range priority should be unknown")
	}
}
