package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/nafsi/internal/agency"
)

// TrustRepository persists versioned trust states, insert-only like the
// affective repository.
type TrustRepository struct {
	db *gorm.DB
}

func (r *TrustRepository) Latest(ctx context.Context, counterpartID uuid.UUID) (*agency.TrustState, error) {
	var model TrustStateModel
	err := r.db.WithContext(ctx).
		Where("counterpart_id = ?", counterpartID).
		Order("version DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, agency.ErrTrustNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust state: %w", err)
	}
	return toTrustDomain(&model), nil
}

func (r *TrustRepository) Commit(ctx context.Context, state *agency.TrustState) error {
	model := toTrustModel(state)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to commit trust state: %w", err)
	}
	return nil
}

var _ agency.TrustStore = (*TrustRepository)(nil)

func toTrustModel(s *agency.TrustState) *TrustStateModel {
	return &TrustStateModel{
		CounterpartID: s.CounterpartID,
		Version:       s.Version,
		Tier:          int(s.Tier),
		Score:         s.Score,
		PendingTier:   int(s.PendingTier),
		PendingSince:  s.PendingSince,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toTrustDomain(m *TrustStateModel) *agency.TrustState {
	return &agency.TrustState{
		CounterpartID: m.CounterpartID,
		Tier:          agency.Tier(m.Tier),
		Score:         m.Score,
		PendingTier:   agency.Tier(m.PendingTier),
		PendingSince:  m.PendingSince,
		Version:       m.Version,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ActionRepository persists executed actions and their rollback
// descriptors.
type ActionRepository struct {
	db *gorm.DB
}

func (r *ActionRepository) Insert(ctx context.Context, rec *agency.ActionRecord) error {
	model, err := toActionModel(rec)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert action record: %w", err)
	}
	return nil
}

func (r *ActionRepository) Get(ctx context.Context, id uuid.UUID) (*agency.ActionRecord, error) {
	var model ActionRecordModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, agency.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action record: %w", err)
	}
	return toActionDomain(&model)
}

func (r *ActionRepository) MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&ActionRecordModel{}).
		Where("id = ?", id).
		Update("rolled_back_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark action rolled back: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return agency.ErrActionNotFound
	}
	return nil
}

var _ agency.ActionStore = (*ActionRepository)(nil)

func toActionModel(rec *agency.ActionRecord) (*ActionRecordModel, error) {
	var params string
	if len(rec.Parameters) > 0 {
		raw, err := json.Marshal(rec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode action parameters: %w", err)
		}
		params = string(raw)
	}
	return &ActionRecordModel{
		ID:            rec.ID,
		CounterpartID: rec.CounterpartID,
		Category:      rec.Category,
		Name:          rec.Name,
		Parameters:    params,
		Output:        rec.Output,
		Rollback:      rec.Rollback,
		ExecutedAt:    rec.ExecutedAt,
		RolledBackAt:  rec.RolledBackAt,
	}, nil
}

func toActionDomain(m *ActionRecordModel) (*agency.ActionRecord, error) {
	var params map[string]any
	if m.Parameters != "" {
		if err := json.Unmarshal([]byte(m.Parameters), &params); err != nil {
			return nil, fmt.Errorf("failed to decode action parameters: %w", err)
		}
	}
	return &agency.ActionRecord{
		ID:            m.ID,
		CounterpartID: m.CounterpartID,
		Category:      m.Category,
		Name:          m.Name,
		Parameters:    params,
		Output:        m.Output,
		Rollback:      m.Rollback,
		ExecutedAt:    m.ExecutedAt,
		RolledBackAt:  m.RolledBackAt,
	}, nil
}

// AuditRepository is the append-only audit log.
type AuditRepository struct {
	db *gorm.DB
}

func (r *AuditRepository) Append(ctx context.Context, event *agency.AuditEvent) error {
	model := toAuditModel(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, counterpartID uuid.UUID, limit int) ([]*agency.AuditEvent, error) {
	var models []AuditEventModel
	q := r.db.WithContext(ctx).
		Where("counterpart_id = ?", counterpartID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	out := make([]*agency.AuditEvent, 0, len(models))
	for i := range models {
		out = append(out, toAuditDomain(&models[i]))
	}
	return out, nil
}

var _ agency.AuditStore = (*AuditRepository)(nil)

func toAuditModel(e *agency.AuditEvent) *AuditEventModel {
	return &AuditEventModel{
		ID:            e.ID,
		CounterpartID: e.CounterpartID,
		Category:      e.Category,
		Name:          e.Name,
		Decision:      string(e.Decision),
		Tier:          int(e.Tier),
		RequiredTier:  int(e.RequiredTier),
		Detail:        e.Detail,
		CreatedAt:     e.CreatedAt,
	}
}

func toAuditDomain(m *AuditEventModel) *agency.AuditEvent {
	return &agency.AuditEvent{
		ID:            m.ID,
		CounterpartID: m.CounterpartID,
		Category:      m.Category,
		Name:          m.Name,
		Decision:      agency.Decision(m.Decision),
		Tier:          agency.Tier(m.Tier),
		RequiredTier:  agency.Tier(m.RequiredTier),
		Detail:        m.Detail,
		CreatedAt:     m.CreatedAt,
	}
}
