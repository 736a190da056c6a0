package postgres

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotModel maps to the "snapshots" table. State unions and the
// financial impact are stored as JSON text so the schema stays identical
// across PostgreSQL and SQLite.
type SnapshotModel struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Operation          string `gorm:"not null"`
	Platform           string `gorm:"not null;index"`
	AccountID          string `gorm:"not null;index"`
	UserID             string
	ResourceID         string    `gorm:"not null"`
	BeforeState        string    `gorm:"type:text;not null"`
	AfterState         *string   `gorm:"type:text"`
	Impact             *string   `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"index"`
	ExecutedAt         *time.Time
	Verified           bool
	VerifiedAt         *time.Time
	RolledBackAt       *time.Time
	RollbackSuccessful bool
	RollbackError      string
}

func (SnapshotModel) TableName() string { return "snapshots" }

// ApprovalRequestModel maps to the "approval_requests" table.
type ApprovalRequestModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Operation  string `gorm:"not null"`
	Resource   string
	DryRun     string `gorm:"type:text;not null"`
	Requester  string `gorm:"not null"`
	Status     int16  `gorm:"not null;index"`
	ResolvedBy string
	Reason     string
	CreatedAt  time.Time `gorm:"index"`
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

func (ApprovalRequestModel) TableName() string { return "approval_requests" }

// AuditEventModel maps to the "audit_events" table.
// Append-only: rows are never updated or deleted.
type AuditEventModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Timestamp     time.Time `gorm:"not null;index"`
	CorrelationID string    `gorm:"index"`
	UserID        string    `gorm:"index"`
	Operation     string    `gorm:"not null"`
	Platform      string
	AccountID     string `gorm:"index"`
	Parameters    string `gorm:"type:text"`
	Result        string `gorm:"not null"`
	Reason        string
	SnapshotID    string
	DurationMS    int64
	CreatedAt     time.Time
}

func (AuditEventModel) TableName() string { return "audit_events" }
