// Package snapshot records before/after state for every platform write and
// supports one rollback per snapshot via a caller-supplied inverse action.
package snapshot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/adgate/internal/safety"
)

var (
	ErrNotFound          = errors.New("snapshot not found")
	ErrNotExecuted       = errors.New("snapshot has no recorded after-state")
	ErrAlreadyExecuted   = errors.New("snapshot after-state already recorded")
	ErrAlreadyRolledBack = errors.New("snapshot already rolled back")
)

// ResourceKind tags the state union with the resource schema it carries.
type ResourceKind string

const (
	KindBudget   ResourceKind = "budget"
	KindCampaign ResourceKind = "campaign"
	KindSitemap  ResourceKind = "sitemap"
)

// BudgetState is the captured state of a campaign budget.
type BudgetState struct {
	BudgetID     string `json:"budget_id"`
	AmountMicros int64  `json:"amount_micros"`
}

// CampaignState is the captured state of a campaign.
type CampaignState struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
}

// SitemapState is the captured state of a sitemap registration.
type SitemapState struct {
	SiteURL    string `json:"site_url"`
	SitemapURL string `json:"sitemap_url"`
	Submitted  bool   `json:"submitted"`
}

// ResourceState is a tagged union keyed by resource kind. Exactly one of the
// typed fields matching Kind is set, so a rollback's inverse action can be
// checked against the resource type instead of trusting opaque JSON.
type ResourceState struct {
	Kind     ResourceKind   `json:"kind"`
	Budget   *BudgetState   `json:"budget,omitempty"`
	Campaign *CampaignState `json:"campaign,omitempty"`
	Sitemap  *SitemapState  `json:"sitemap,omitempty"`
}

// Validate checks the union invariant: the field matching Kind is set.
func (s ResourceState) Validate() error {
	switch s.Kind {
	case KindBudget:
		if s.Budget == nil {
			return fmt.Errorf("resource state tagged %q has no budget payload", s.Kind)
		}
	case KindCampaign:
		if s.Campaign == nil {
			return fmt.Errorf("resource state tagged %q has no campaign payload", s.Kind)
		}
	case KindSitemap:
		if s.Sitemap == nil {
			return fmt.Errorf("resource state tagged %q has no sitemap payload", s.Kind)
		}
	default:
		return fmt.Errorf("unknown resource kind %q", s.Kind)
	}
	return nil
}

// Snapshot is the durable record of one write operation's state transition.
// After RecordExecution the record is append-only except for the rollback and
// verification fields, each written at most once.
type Snapshot struct {
	ID         string
	Operation  string
	Platform   string
	AccountID  string
	UserID     string
	ResourceID string
	Before     ResourceState
	After      *ResourceState // Set exactly once, by RecordExecution.
	Impact     *safety.FinancialImpact
	CreatedAt  time.Time
	ExecutedAt *time.Time

	// Verified reports whether the change-history reconciliation confirmed
	// the write. A snapshot that was executed but never verified needs
	// manual review before its rollback is trusted.
	Verified   bool
	VerifiedAt *time.Time

	RolledBackAt       *time.Time
	RollbackSuccessful bool
	RollbackError      string
}

// Executed reports whether the platform call completed and its after-state
// was recorded.
func (s *Snapshot) Executed() bool { return s.After != nil }

// Store is the persistence contract for snapshots.
type Store interface {
	Create(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	Update(ctx context.Context, s *Snapshot) error
	List(ctx context.Context, accountID string, limit int) ([]Snapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// InverseAction undoes an executed write given its before-state. Supplied by
// the tool that owns the resource type.
type InverseAction func(ctx context.Context, before ResourceState) error

// Manager coordinates snapshot lifecycle over a Store. Thread-safe: the
// mutex serializes the read-modify-write transitions (record, rollback) so
// each happens at most once.
type Manager struct {
	mu        sync.Mutex
	store     Store
	retention time.Duration
	logger    *slog.Logger
}

// NewManager creates a snapshot manager with the given retention window.
func NewManager(store Store, retention time.Duration, logger *slog.Logger) *Manager {
	return &Manager{store: store, retention: retention, logger: logger}
}

// Create records the before-state ahead of the platform call and returns the
// snapshot id.
func (m *Manager) Create(ctx context.Context, operation, platform, accountID, userID, resourceID string, before ResourceState, impact *safety.FinancialImpact) (string, error) {
	if err := before.Validate(); err != nil {
		return "", fmt.Errorf("invalid before-state: %w", err)
	}

	id, err := generateID()
	if err != nil {
		return "", fmt.Errorf("generating snapshot ID: %w", err)
	}
	snap := &Snapshot{
		ID:         id,
		Operation:  operation,
		Platform:   platform,
		AccountID:  accountID,
		UserID:     userID,
		ResourceID: resourceID,
		Before:     before,
		Impact:     impact,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Create(ctx, snap); err != nil {
		return "", fmt.Errorf("creating snapshot: %w", err)
	}

	m.logger.Info("snapshot created",
		slog.String("snapshot_id", id),
		slog.String("operation", operation),
		slog.String("account_id", accountID),
		slog.String("resource_id", resourceID),
	)
	return id, nil
}

// RecordExecution stores the after-state once the platform call succeeded.
// The after-state must carry the same resource kind as the before-state and
// may be recorded exactly once.
func (m *Manager) RecordExecution(ctx context.Context, id string, after ResourceState) error {
	if err := after.Validate(); err != nil {
		return fmt.Errorf("invalid after-state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if snap.Executed() {
		return ErrAlreadyExecuted
	}
	if after.Kind != snap.Before.Kind {
		return fmt.Errorf("after-state kind %q does not match before-state kind %q", after.Kind, snap.Before.Kind)
	}

	now := time.Now().UTC()
	snap.After = &after
	snap.ExecutedAt = &now
	return m.store.Update(ctx, snap)
}

// MarkVerified records the outcome of the async change-history
// reconciliation. Best-effort: failures only log.
func (m *Manager) MarkVerified(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Warn("marking snapshot verified failed", slog.String("snapshot_id", id), slog.String("error", err.Error()))
		return
	}
	now := time.Now().UTC()
	snap.Verified = true
	snap.VerifiedAt = &now
	if err := m.store.Update(ctx, snap); err != nil {
		m.logger.Warn("marking snapshot verified failed", slog.String("snapshot_id", id), slog.String("error", err.Error()))
	}
}

// Rollback invokes inverse(beforeState) and records the outcome on the
// snapshot. Fails closed when the snapshot is unknown, was never executed,
// or was already rolled back — whether or not that earlier rollback
// succeeded. A failed rollback keeps the snapshot queryable with
// RollbackSuccessful=false for manual follow-up.
func (m *Manager) Rollback(ctx context.Context, id string, inverse InverseAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !snap.Executed() {
		return ErrNotExecuted
	}
	if snap.RolledBackAt != nil {
		return ErrAlreadyRolledBack
	}

	now := time.Now().UTC()
	snap.RolledBackAt = &now

	invErr := inverse(ctx, snap.Before)
	if invErr != nil {
		snap.RollbackSuccessful = false
		snap.RollbackError = invErr.Error()
	} else {
		snap.RollbackSuccessful = true
	}

	if err := m.store.Update(ctx, snap); err != nil {
		return fmt.Errorf("recording rollback outcome: %w", err)
	}

	m.logger.Info("snapshot rollback",
		slog.String("snapshot_id", id),
		slog.String("operation", snap.Operation),
		slog.Bool("success", snap.RollbackSuccessful),
	)

	if invErr != nil {
		return fmt.Errorf("rollback of snapshot %s failed: %w", id, invErr)
	}
	return nil
}

// Get retrieves a snapshot by id.
func (m *Manager) Get(ctx context.Context, id string) (*Snapshot, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent snapshots for an account.
func (m *Manager) List(ctx context.Context, accountID string, limit int) ([]Snapshot, error) {
	return m.store.List(ctx, accountID, limit)
}

// Purge removes snapshots older than the retention window. Housekeeping, not
// correctness-critical.
func (m *Manager) Purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.retention)
	n, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.Warn("snapshot purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		m.logger.Info("snapshot purge", slog.Int("removed", n))
	}
}

func generateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
