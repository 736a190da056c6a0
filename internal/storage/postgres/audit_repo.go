package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/adgate/internal/audit"
)

// AuditRepository implements audit.Sink with GORM.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit event. This is the only write method —
// immutability is enforced at the interface level.
func (r *AuditRepository) Append(ctx context.Context, event audit.Event) error {
	var params string
	if event.Parameters != nil {
		data, err := json.Marshal(event.Parameters)
		if err != nil {
			return fmt.Errorf("marshaling audit parameters: %w", err)
		}
		params = string(data)
	}

	model := AuditEventModel{
		ID:            uuid.New(),
		Timestamp:     event.Timestamp,
		CorrelationID: event.CorrelationID,
		UserID:        event.UserID,
		Operation:     event.Operation,
		Platform:      event.Platform,
		AccountID:     event.AccountID,
		Parameters:    params,
		Result:        string(event.Result),
		Reason:        event.Reason,
		SnapshotID:    event.SnapshotID,
		DurationMS:    event.DurationMS,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the shared connection is owned by the store.
func (r *AuditRepository) Close() error { return nil }

// Query returns audit events for an account, newest first.
// If userID is non-empty, filters to that user. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, accountID, userID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var models []AuditEventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]audit.Event, len(models))
	for i := range models {
		m := &models[i]
		events[i] = audit.Event{
			Timestamp:     m.Timestamp,
			CorrelationID: m.CorrelationID,
			UserID:        m.UserID,
			Operation:     m.Operation,
			Platform:      m.Platform,
			AccountID:     m.AccountID,
			Result:        audit.Result(m.Result),
			Reason:        m.Reason,
			SnapshotID:    m.SnapshotID,
			DurationMS:    m.DurationMS,
		}
		if m.Parameters != "" {
			_ = json.Unmarshal([]byte(m.Parameters), &events[i].Parameters)
		}
	}
	return events, nil
}
