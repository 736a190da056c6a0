package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/adgate/internal/approval"
)

// ApprovalRepository implements approval.RequestStore with GORM.
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates an ApprovalRepository.
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) Create(ctx context.Context, req *approval.Request) error {
	model, err := toApprovalModel(req)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating approval request: %w", err)
	}
	return nil
}

func (r *ApprovalRepository) Get(ctx context.Context, id string) (*approval.Request, error) {
	var model ApprovalRequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("getting approval request: %w", err)
	}
	return toApprovalDomain(&model)
}

func (r *ApprovalRepository) List(ctx context.Context, status *approval.Status) ([]approval.Request, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != nil {
		q = q.Where("status = ?", int16(*status))
	}

	var models []ApprovalRequestModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing approval requests: %w", err)
	}

	out := make([]approval.Request, 0, len(models))
	for i := range models {
		req, err := toApprovalDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, nil
}

func (r *ApprovalRepository) Update(ctx context.Context, req *approval.Request) error {
	model, err := toApprovalModel(req)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&ApprovalRequestModel{}).Where("id = ?", req.ID).Updates(map[string]any{
		"status":      model.Status,
		"resolved_by": model.ResolvedBy,
		"reason":      model.Reason,
		"resolved_at": model.ResolvedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("updating approval request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return approval.ErrNotFound
	}
	return nil
}

func (r *ApprovalRepository) DeleteResolved(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).
		Where("status != ? AND created_at < ?", int16(approval.StatusPending), cutoff).
		Delete(&ApprovalRequestModel{}).Error
}
