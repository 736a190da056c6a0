// Package platform defines the executor contract the gateway requires from
// marketing-platform clients, plus a registry keyed by platform name. The
// gateway never inspects platform-specific response shapes beyond the ids and
// confirmation values it needs for snapshots.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// Error wraps a platform API failure. Transient errors are eligible for
// read-path retry; write failures are never retried.
type Error struct {
	Platform  string
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s API error [%s]: %s", e.Platform, e.Code, e.Message)
}

// IsTransient reports whether err is a platform error marked retryable.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}

// Budget is a campaign budget as the platform reports it.
type Budget struct {
	ID           string
	Name         string
	AmountMicros int64
}

// Campaign is a campaign as the platform reports it.
type Campaign struct {
	ID     string
	Name   string
	Status string
}

// WriteResult is the platform's acknowledgement of a mutation.
type WriteResult struct {
	ResourceID   string
	Confirmation string
}

// ChangeEvent is one entry from the platform's own change-audit feed.
type ChangeEvent struct {
	ResourceType string
	ResourceID   string
	Field        string
	NewValue     string
	ChangedAt    time.Time
}

// Executor is the per-platform client contract.
type Executor interface {
	// Name returns the platform identifier ("google_ads", "search_console").
	Name() string

	GetBudget(ctx context.Context, accountID, budgetID string) (*Budget, error)
	SetBudget(ctx context.Context, accountID, budgetID string, amountMicros int64) (*WriteResult, error)

	ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error)
	SetCampaignStatus(ctx context.Context, accountID, campaignID, status string) (*WriteResult, error)

	GetSitemap(ctx context.Context, siteURL, sitemapURL string) (bool, error)
	SubmitSitemap(ctx context.Context, siteURL, sitemapURL string) (*WriteResult, error)
	DeleteSitemap(ctx context.Context, siteURL, sitemapURL string) (*WriteResult, error)

	// ChangeHistory returns the platform's change-audit entries for an
	// account since the given time. Read-only, used by the verifier.
	ChangeHistory(ctx context.Context, accountID string, since time.Time) ([]ChangeEvent, error)
}

// Registry holds the configured platform executors. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under its own name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Name()] = e
}

// Get returns the executor for a platform name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return e, nil
}

// Names returns the registered platform names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}
