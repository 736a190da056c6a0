package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
)

func toSnapshotModel(s *snapshot.Snapshot) (*SnapshotModel, error) {
	before, err := json.Marshal(s.Before)
	if err != nil {
		return nil, fmt.Errorf("marshaling before-state: %w", err)
	}

	m := &SnapshotModel{
		ID:                 s.ID,
		Operation:          s.Operation,
		Platform:           s.Platform,
		AccountID:          s.AccountID,
		UserID:             s.UserID,
		ResourceID:         s.ResourceID,
		BeforeState:        string(before),
		CreatedAt:          s.CreatedAt,
		ExecutedAt:         s.ExecutedAt,
		Verified:           s.Verified,
		VerifiedAt:         s.VerifiedAt,
		RolledBackAt:       s.RolledBackAt,
		RollbackSuccessful: s.RollbackSuccessful,
		RollbackError:      s.RollbackError,
	}

	if s.After != nil {
		after, err := json.Marshal(s.After)
		if err != nil {
			return nil, fmt.Errorf("marshaling after-state: %w", err)
		}
		str := string(after)
		m.AfterState = &str
	}
	if s.Impact != nil {
		impact, err := json.Marshal(s.Impact)
		if err != nil {
			return nil, fmt.Errorf("marshaling impact: %w", err)
		}
		str := string(impact)
		m.Impact = &str
	}
	return m, nil
}

func toSnapshotDomain(m *SnapshotModel) (*snapshot.Snapshot, error) {
	s := &snapshot.Snapshot{
		ID:                 m.ID,
		Operation:          m.Operation,
		Platform:           m.Platform,
		AccountID:          m.AccountID,
		UserID:             m.UserID,
		ResourceID:         m.ResourceID,
		CreatedAt:          m.CreatedAt,
		ExecutedAt:         m.ExecutedAt,
		Verified:           m.Verified,
		VerifiedAt:         m.VerifiedAt,
		RolledBackAt:       m.RolledBackAt,
		RollbackSuccessful: m.RollbackSuccessful,
		RollbackError:      m.RollbackError,
	}

	if err := json.Unmarshal([]byte(m.BeforeState), &s.Before); err != nil {
		return nil, fmt.Errorf("unmarshaling before-state of snapshot %s: %w", m.ID, err)
	}
	if m.AfterState != nil {
		var after snapshot.ResourceState
		if err := json.Unmarshal([]byte(*m.AfterState), &after); err != nil {
			return nil, fmt.Errorf("unmarshaling after-state of snapshot %s: %w", m.ID, err)
		}
		s.After = &after
	}
	if m.Impact != nil {
		var impact safety.FinancialImpact
		if err := json.Unmarshal([]byte(*m.Impact), &impact); err != nil {
			return nil, fmt.Errorf("unmarshaling impact of snapshot %s: %w", m.ID, err)
		}
		s.Impact = &impact
	}
	return s, nil
}

func toApprovalModel(r *approval.Request) (*ApprovalRequestModel, error) {
	dryRun, err := json.Marshal(r.DryRun)
	if err != nil {
		return nil, fmt.Errorf("marshaling dry run: %w", err)
	}
	return &ApprovalRequestModel{
		ID:         r.ID,
		Operation:  r.Operation,
		Resource:   r.Resource,
		DryRun:     string(dryRun),
		Requester:  r.Requester,
		Status:     int16(r.Status),
		ResolvedBy: r.ResolvedBy,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		ResolvedAt: r.ResolvedAt,
	}, nil
}

func toApprovalDomain(m *ApprovalRequestModel) (*approval.Request, error) {
	r := &approval.Request{
		ID:         m.ID,
		Operation:  m.Operation,
		Resource:   m.Resource,
		Requester:  m.Requester,
		Status:     approval.Status(m.Status),
		ResolvedBy: m.ResolvedBy,
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		ResolvedAt: m.ResolvedAt,
	}
	if err := json.Unmarshal([]byte(m.DryRun), &r.DryRun); err != nil {
		return nil, fmt.Errorf("unmarshaling dry run of request %s: %w", m.ID, err)
	}
	return r, nil
}
