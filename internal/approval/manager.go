package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/adgate/internal/safety"
)

// Status represents the state of an approval request.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Request is a broader-lifecycle approval record: the decision is made out of
// band by a human approver rather than by a same-session token exchange.
// Approved and rejected are terminal; expiry transitions pending→rejected
// lazily on read.
type Request struct {
	ID         string
	Operation  string
	Resource   string // Target property/resource description.
	DryRun     safety.DryRunResult
	Requester  string
	Status     Status
	ResolvedBy string // Approver or rejecter id; "system:expired" on expiry.
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

// RequestStore is the persistence contract for approval requests.
// The in-memory *Manager and the gorm-backed store both satisfy it.
type RequestStore interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, status *Status) ([]Request, error)
	Update(ctx context.Context, req *Request) error
	DeleteResolved(ctx context.Context, olderThan time.Duration) error
}

// Manager coordinates approval requests over a RequestStore.
// One approver per request; a request resolves at most once.
type Manager struct {
	mu     sync.Mutex
	store  RequestStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager creates an approval manager with the given request TTL.
func NewManager(store RequestStore, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{store: store, ttl: ttl, logger: logger}
}

// Submit records a new pending approval request and returns its id.
func (m *Manager) Submit(ctx context.Context, operation, resource, requester string, dryRun safety.DryRunResult) (string, error) {
	id, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating request ID: %w", err)
	}

	now := time.Now().UTC()
	req := &Request{
		ID:        id,
		Operation: operation,
		Resource:  resource,
		DryRun:    dryRun,
		Requester: requester,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, req); err != nil {
		return "", fmt.Errorf("creating approval request: %w", err)
	}

	m.logger.Info("approval request submitted",
		slog.String("request_id", id),
		slog.String("operation", operation),
		slog.String("requester", requester),
	)
	return id, nil
}

// Get retrieves a request, applying the lazy expiry transition.
func (m *Manager) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx, id)
}

// Approve marks a pending request approved by the given approver.
func (m *Manager) Approve(ctx context.Context, id, approverID string) error {
	return m.resolve(ctx, id, approverID, StatusApproved, "")
}

// Reject marks a pending request rejected with an optional reason.
func (m *Manager) Reject(ctx context.Context, id, rejecterID, reason string) error {
	return m.resolve(ctx, id, rejecterID, StatusRejected, reason)
}

// List returns requests, optionally filtered by status. Expiry is applied to
// each pending row before filtering.
func (m *Manager) List(ctx context.Context, status *Status) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs, err := m.store.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		m.expireLocked(ctx, r)
		if status == nil || r.Status == *status {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Cleanup removes resolved requests older than twice the TTL.
func (m *Manager) Cleanup(ctx context.Context) {
	if err := m.store.DeleteResolved(ctx, 2*m.ttl); err != nil {
		m.logger.Warn("approval cleanup failed", slog.String("error", err.Error()))
	}
}

// StartCleanup starts a background goroutine that calls Cleanup periodically.
// Returns a cancel function to stop the goroutine.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup(ctx)
			}
		}
	}()
	return cancel
}

func (m *Manager) resolve(ctx context.Context, id, resolverID string, status Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return ErrAlreadyResolved
	}

	now := time.Now().UTC()
	req.Status = status
	req.ResolvedBy = resolverID
	req.Reason = reason
	req.ResolvedAt = &now
	if err := m.store.Update(ctx, req); err != nil {
		return fmt.Errorf("resolving approval request: %w", err)
	}

	m.logger.Info("approval request resolved",
		slog.String("request_id", id),
		slog.String("resolver", resolverID),
		slog.String("status", status.String()),
	)
	return nil
}

func (m *Manager) getLocked(ctx context.Context, id string) (*Request, error) {
	req, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.expireLocked(ctx, req)
	return req, nil
}

// expireLocked applies the lazy pending→rejected transition.
func (m *Manager) expireLocked(ctx context.Context, req *Request) {
	if req.Status != StatusPending || !time.Now().UTC().After(req.ExpiresAt) {
		return
	}
	now := time.Now().UTC()
	req.Status = StatusRejected
	req.ResolvedBy = "system:expired"
	req.Reason = "request expired before a decision was recorded"
	req.ResolvedAt = &now
	if err := m.store.Update(ctx, req); err != nil {
		m.logger.Warn("recording approval expiry failed",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
}

// MemoryStore is the in-memory RequestStore used in single-process
// deployments and tests.
type MemoryStore struct {
	mu   sync.Mutex
	reqs map[string]*Request
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reqs: make(map[string]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.reqs[req.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, status *Status) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.reqs))
	for _, req := range s.reqs {
		if status == nil || req.Status == *status {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[req.ID]; !ok {
		return ErrNotFound
	}
	cp := *req
	s.reqs[req.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteResolved(_ context.Context, olderThan time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	for id, req := range s.reqs {
		if req.Status != StatusPending && req.CreatedAt.Before(cutoff) {
			delete(s.reqs, id)
		}
	}
	return nil
}
