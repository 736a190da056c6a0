package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/adgate/internal/snapshot"
)

// SnapshotRepository implements snapshot.Store with GORM.
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a SnapshotRepository.
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Create(ctx context.Context, s *snapshot.Snapshot) error {
	model, err := toSnapshotModel(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	var model SnapshotModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return toSnapshotDomain(&model)
}

func (r *SnapshotRepository) Update(ctx context.Context, s *snapshot.Snapshot) error {
	model, err := toSnapshotModel(s)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&SnapshotModel{}).Where("id = ?", s.ID).Updates(map[string]any{
		"after_state":         model.AfterState,
		"executed_at":         model.ExecutedAt,
		"verified":            model.Verified,
		"verified_at":         model.VerifiedAt,
		"rolled_back_at":      model.RolledBackAt,
		"rollback_successful": model.RollbackSuccessful,
		"rollback_error":      model.RollbackError,
	})
	if result.Error != nil {
		return fmt.Errorf("updating snapshot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return snapshot.ErrNotFound
	}
	return nil
}

func (r *SnapshotRepository) List(ctx context.Context, accountID string, limit int) ([]snapshot.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}

	var models []SnapshotModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	out := make([]snapshot.Snapshot, 0, len(models))
	for i := range models {
		s, err := toSnapshotDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&SnapshotModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purging snapshots: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
