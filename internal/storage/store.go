// Package storage defines the unified persistence contract for AdGate.
// Backends: SQLite (default, pure Go) and PostgreSQL, both via GORM. All ORM
// usage is confined to the backend packages — domain types stay ORM-free.
package storage

import (
	"context"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/audit"
	"github.com/jkaninda/adgate/internal/snapshot"
)

// Store aggregates the per-domain persistence interfaces over one database
// connection.
type Store interface {
	// Snapshots returns the snapshot store.
	Snapshots() snapshot.Store
	// Approvals returns the approval request store.
	Approvals() approval.RequestStore
	// Audit returns the append-only audit sink.
	Audit() audit.Sink

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error
	// Ping checks the connection for readiness probes.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}
