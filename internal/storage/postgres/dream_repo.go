package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/nafsi/internal/dream"
)

// DreamRepository persists hypotheses and the per-counterpart mining
// watermark.
type DreamRepository struct {
	db *gorm.DB
}

func (r *DreamRepository) List(ctx context.Context, counterpartID uuid.UUID) ([]*dream.Hypothesis, error) {
	var models []HypothesisModel
	err := r.db.WithContext(ctx).
		Where("counterpart_id = ?", counterpartID).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list hypotheses: %w", err)
	}
	out := make([]*dream.Hypothesis, 0, len(models))
	for i := range models {
		h, err := toHypothesisDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (r *DreamRepository) GetByKey(ctx context.Context, counterpartID uuid.UUID, key string) (*dream.Hypothesis, error) {
	var model HypothesisModel
	err := r.db.WithContext(ctx).
		Where("counterpart_id = ? AND key = ?", counterpartID, key).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dream.ErrHypothesisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hypothesis: %w", err)
	}
	return toHypothesisDomain(&model)
}

func (r *DreamRepository) Upsert(ctx context.Context, h *dream.Hypothesis) error {
	model, err := toHypothesisModel(h)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "counterpart_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"claim", "confidence", "supporting", "contradicting",
				"status", "evidence_ids", "version", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert hypothesis: %w", err)
	}
	return nil
}

func (r *DreamRepository) Watermark(ctx context.Context, counterpartID uuid.UUID) (int64, error) {
	var model WatermarkModel
	err := r.db.WithContext(ctx).Where("counterpart_id = ?", counterpartID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get watermark: %w", err)
	}
	return model.Seq, nil
}

func (r *DreamRepository) SetWatermark(ctx context.Context, counterpartID uuid.UUID, seq int64) error {
	model := WatermarkModel{CounterpartID: counterpartID, Seq: seq, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "counterpart_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"seq", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

var _ dream.HypothesisStore = (*DreamRepository)(nil)

func toHypothesisModel(h *dream.Hypothesis) (*HypothesisModel, error) {
	var evidence string
	if len(h.EvidenceIDs) > 0 {
		raw, err := json.Marshal(h.EvidenceIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode evidence ids: %w", err)
		}
		evidence = string(raw)
	}
	return &HypothesisModel{
		ID:            h.ID,
		CounterpartID: h.CounterpartID,
		Key:           h.Key,
		Claim:         h.Claim,
		Confidence:    h.Confidence,
		Supporting:    h.Supporting,
		Contradicting: h.Contradicting,
		Status:        string(h.Status),
		EvidenceIDs:   evidence,
		Version:       h.Version,
		CreatedAt:     h.CreatedAt,
		UpdatedAt:     h.UpdatedAt,
	}, nil
}

func toHypothesisDomain(m *HypothesisModel) (*dream.Hypothesis, error) {
	var evidence []uuid.UUID
	if m.EvidenceIDs != "" {
		if err := json.Unmarshal([]byte(m.EvidenceIDs), &evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence ids: %w", err)
		}
	}
	return &dream.Hypothesis{
		ID:            m.ID,
		CounterpartID: m.CounterpartID,
		Key:           m.Key,
		Claim:         m.Claim,
		Confidence:    m.Confidence,
		Supporting:    m.Supporting,
		Contradicting: m.Contradicting,
		Status:        dream.HypothesisStatus(m.Status),
		EvidenceIDs:   evidence,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

// LeaseRepository provides the dream-cycle mutual-exclusion lease.
type LeaseRepository struct {
	db *gorm.DB
}

func (r *LeaseRepository) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var lease LeaseModel
		err := tx.Where("name = ?", name).First(&lease).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			lease = LeaseModel{Name: name, Owner: owner, ExpiresAt: now.Add(ttl)}
			if err := tx.Create(&lease).Error; err != nil {
				return fmt.Errorf("failed to create lease: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to read lease: %w", err)
		case lease.Owner != owner && now.Before(lease.ExpiresAt):
			// Held by another live owner.
			return nil
		default:
			lease.Owner = owner
			lease.ExpiresAt = now.Add(ttl)
			if err := tx.Save(&lease).Error; err != nil {
				return fmt.Errorf("failed to take over lease: %w", err)
			}
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (r *LeaseRepository) Release(ctx context.Context, name, owner string) error {
	err := r.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, owner).
		Delete(&LeaseModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

var _ dream.LeaseStore = (*LeaseRepository)(nil)
