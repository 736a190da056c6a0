// Package notify dispatches operational notifications for gateway events.
// Every record goes to the immediate recipient right away; records are also
// batched into an hourly digest per account-owner group.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Type classifies what happened.
type Type string

const (
	TypeBudgetChange        Type = "budget_change"
	TypeStatusChange        Type = "status_change"
	TypeBulkOperation       Type = "bulk_operation"
	TypeRollback            Type = "rollback"
	TypeError               Type = "error"
	TypeVagueRequestBlocked Type = "vague_request_blocked"
	TypeUnauthorizedAccess  Type = "unauthorized_access"
)

// Priority orders records for display; critical records lead the digest.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Record is one notification.
type Record struct {
	Type      Type
	Priority  Priority
	AccountID string
	UserID    string
	Message   string
	Details   map[string]string
	CreatedAt time.Time
}

// Sender is a single delivery channel backend.
type Sender interface {
	// Name returns the channel identifier ("webhook", "log").
	Name() string
	// Send delivers one record.
	Send(ctx context.Context, rec Record) error
}

// OwnerResolver maps an account id to its owner group for digest batching.
// Unknown accounts fall into the "unassigned" group.
type OwnerResolver func(accountID string) string

// Dispatcher fans records out to registered senders immediately and collects
// them for the hourly digest. Thread-safe. Delivery is best-effort: a failed
// send is logged, never propagated to the operation that raised it.
type Dispatcher struct {
	mu      sync.Mutex
	senders map[string]Sender
	pending map[string][]Record // owner group → records awaiting digest
	ownerOf OwnerResolver
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil resolver puts every account in
// the "unassigned" group.
func NewDispatcher(ownerOf OwnerResolver, logger *slog.Logger) *Dispatcher {
	if ownerOf == nil {
		ownerOf = func(string) string { return "unassigned" }
	}
	return &Dispatcher{
		senders: make(map[string]Sender),
		pending: make(map[string][]Record),
		ownerOf: ownerOf,
		logger:  logger,
	}
}

// RegisterSender adds a channel backend. Call at startup only.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Name()] = s
}

// Notify delivers the record to every sender now and queues it for the next
// digest flush.
func (d *Dispatcher) Notify(ctx context.Context, rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	d.mu.Lock()
	group := d.ownerOf(rec.AccountID)
	d.pending[group] = append(d.pending[group], rec)
	senders := make([]Sender, 0, len(d.senders))
	for _, s := range d.senders {
		senders = append(senders, s)
	}
	d.mu.Unlock()

	for _, s := range senders {
		if err := s.Send(ctx, rec); err != nil {
			d.logger.WarnContext(ctx, "notification send failed",
				slog.String("channel", s.Name()),
				slog.String("type", string(rec.Type)),
				slog.String("error", err.Error()),
			)
		} else {
			d.logger.InfoContext(ctx, "notification sent",
				slog.String("channel", s.Name()),
				slog.String("type", string(rec.Type)),
				slog.String("priority", rec.Priority.String()),
			)
		}
	}
}

// Pending reports how many records await the next digest. For tests and
// readiness reporting.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, recs := range d.pending {
		n += len(recs)
	}
	return n
}

// FlushDigest sends one summary record per owner group and clears the queue.
// Scheduled hourly.
func (d *Dispatcher) FlushDigest(ctx context.Context) {
	d.mu.Lock()
	batches := d.pending
	d.pending = make(map[string][]Record)
	senders := make([]Sender, 0, len(d.senders))
	for _, s := range d.senders {
		senders = append(senders, s)
	}
	d.mu.Unlock()

	for group, recs := range batches {
		if len(recs) == 0 {
			continue
		}
		digest := buildDigest(group, recs)
		for _, s := range senders {
			if err := s.Send(ctx, digest); err != nil {
				d.logger.WarnContext(ctx, "digest send failed",
					slog.String("channel", s.Name()),
					slog.String("group", group),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// buildDigest folds a group's records into one summary, inheriting the
// highest priority seen.
func buildDigest(group string, recs []Record) Record {
	counts := make(map[Type]int)
	max := PriorityLow
	for _, r := range recs {
		counts[r.Type]++
		if r.Priority > max {
			max = r.Priority
		}
	}

	var parts []string
	for typ, n := range counts {
		parts = append(parts, fmt.Sprintf("%s×%d", typ, n))
	}

	return Record{
		Type:      TypeBulkOperation,
		Priority:  max,
		Message:   fmt.Sprintf("hourly digest for %s: %d events (%s)", group, len(recs), strings.Join(parts, ", ")),
		Details:   map[string]string{"group": group, "count": fmt.Sprintf("%d", len(recs))},
		CreatedAt: time.Now().UTC(),
	}
}
