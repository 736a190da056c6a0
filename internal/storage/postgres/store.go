package postgres

import (
	"context"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/audit"
	"github.com/jkaninda/adgate/internal/snapshot"
	"github.com/jkaninda/adgate/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db        *DB
	snapshots *SnapshotRepository
	approvals *ApprovalRepository
	audit     *AuditRepository
}

// NewStore wraps an open connection in the unified store.
func NewStore(db *DB) *Store {
	gdb := db.GormDB()
	return &Store{
		db:        db,
		snapshots: NewSnapshotRepository(gdb),
		approvals: NewApprovalRepository(gdb),
		audit:     NewAuditRepository(gdb),
	}
}

func (s *Store) Snapshots() snapshot.Store        { return s.snapshots }
func (s *Store) Approvals() approval.RequestStore { return s.approvals }
func (s *Store) Audit() audit.Sink                { return s.audit }
func (s *Store) Migrate(_ context.Context) error  { return AutoMigrate(s.db.GormDB()) }
func (s *Store) Ping(ctx context.Context) error   { return s.db.Ping(ctx) }
func (s *Store) Close() error                     { return s.db.Close() }

var _ storage.Store = (*Store)(nil)
