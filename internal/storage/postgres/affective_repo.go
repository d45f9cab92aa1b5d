package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/nafsi/internal/limbic"
)

// AffectiveRepository persists versioned affective states. Commits are
// insert-only; the unique (counterpart_id, version) index makes a commit
// atomic: either the new version lands or the prior one stays
// authoritative.
type AffectiveRepository struct {
	db *gorm.DB
}

func (r *AffectiveRepository) Latest(ctx context.Context, counterpartID uuid.UUID) (*limbic.State, error) {
	var model AffectiveStateModel
	err := r.db.WithContext(ctx).
		Where("counterpart_id = ?", counterpartID).
		Order("version DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, limbic.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get affective state: %w", err)
	}
	return toAffectiveDomain(&model)
}

func (r *AffectiveRepository) Commit(ctx context.Context, state *limbic.State) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSyncSeq(tx)
		if err != nil {
			return err
		}
		model, err := toAffectiveModel(state, seq)
		if err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to commit affective state: %w", err)
		}
		return nil
	})
}

func (r *AffectiveRepository) ListCounterparts(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&AffectiveStateModel{}).
		Distinct("counterpart_id").
		Pluck("counterpart_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list counterparts: %w", err)
	}
	return ids, nil
}

var _ limbic.StateStore = (*AffectiveRepository)(nil)

// nextSyncSeq advances the single-row sync cursor inside tx and returns
// the new value. One shared counter keeps the device-sync export cursor
// monotonic across the affective and heritage tables.
func nextSyncSeq(tx *gorm.DB) (int64, error) {
	err := tx.Model(&SyncCursorModel{}).
		Where("id = ?", 1).
		UpdateColumn("seq", gorm.Expr("seq + ?", 1)).Error
	if err != nil {
		return 0, fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	var cursor SyncCursorModel
	if err := tx.Where("id = ?", 1).First(&cursor).Error; err != nil {
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return cursor.Seq, nil
}

func toAffectiveModel(s *limbic.State, syncSeq int64) (*AffectiveStateModel, error) {
	values, err := json.Marshal(s.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode affective values: %w", err)
	}
	return &AffectiveStateModel{
		SyncSeq:       syncSeq,
		CounterpartID: s.CounterpartID,
		Version:       s.Version,
		Values:        string(values),
		Posture:       string(s.Posture),
		UpdatedAt:     s.UpdatedAt,
	}, nil
}

func toAffectiveDomain(m *AffectiveStateModel) (*limbic.State, error) {
	values := make(map[limbic.Variable]float64)
	if m.Values != "" {
		if err := json.Unmarshal([]byte(m.Values), &values); err != nil {
			return nil, fmt.Errorf("failed to decode affective values: %w", err)
		}
	}
	return &limbic.State{
		CounterpartID: m.CounterpartID,
		Version:       m.Version,
		Values:        values,
		Posture:       limbic.Posture(m.Posture),
		UpdatedAt:     m.UpdatedAt,
	}, nil
}
