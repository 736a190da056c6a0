package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestFileSinkAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	l := NewLogger(testLogger(), sink)
	ctx := WithCorrelationID(context.Background(), "corr-1")

	l.LogWriteOperation(ctx, "user-1", "update_budget", "google_ads", "acct-1", "snap-1",
		map[string]any{"budget_id": "b-1"}, 120*time.Millisecond)
	l.LogBlockedOperation(ctx, "user-1", "update_budget", "acct-2", "account not approved", nil)

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	write := events[0]
	if write.Result != ResultSuccess || write.SnapshotID != "snap-1" || write.CorrelationID != "corr-1" {
		t.Errorf("write event = %+v", write)
	}
	if write.DurationMS != 120 {
		t.Errorf("DurationMS = %d, want 120", write.DurationMS)
	}

	blocked := events[1]
	if blocked.Result != ResultBlocked || blocked.Reason != "account not approved" {
		t.Errorf("blocked event = %+v", blocked)
	}
}

func TestFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("audit log permissions = %o, want 0600", perm)
	}
}

type failingSink struct{ closed bool }

func (f *failingSink) Append(context.Context, Event) error { return errors.New("disk full") }
func (f *failingSink) Close() error                        { f.closed = true; return nil }

func TestSinkFailureSwallowed(t *testing.T) {
	fs := &failingSink{}
	l := NewLogger(testLogger(), fs)

	// Must not panic or surface the error — the audited operation proceeds.
	l.LogReadOperation(context.Background(), "user-1", "list_approved_accounts", "", nil)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fs.closed {
		t.Error("sink not closed")
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(empty ctx) = %q, want empty", got)
	}
	ctx := WithCorrelationID(context.Background(), "abc")
	if got := CorrelationID(ctx); got != "abc" {
		t.Errorf("CorrelationID = %q, want abc", got)
	}
}
