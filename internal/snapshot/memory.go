package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used in single-process deployments and
// tests. Thread-safe.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

func (s *MemoryStore) Create(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snaps[snap.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[snap.ID]; !ok {
		return ErrNotFound
	}
	cp := *snap
	s.snaps[snap.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, accountID string, limit int) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Snapshot
	for _, snap := range s.snaps {
		if accountID == "" || snap.AccountID == accountID {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, snap := range s.snaps {
		if snap.CreatedAt.Before(cutoff) {
			delete(s.snaps, id)
			n++
		}
	}
	return n, nil
}
