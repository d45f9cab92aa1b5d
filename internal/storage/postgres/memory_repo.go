package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/nafsi/internal/memory"
)

// MemoryRepository persists episodic records. Append-only; only the
// stale flag is ever updated.
type MemoryRepository struct {
	db *gorm.DB
}

func (r *MemoryRepository) Append(ctx context.Context, rec *memory.Record) error {
	model, err := toMemoryModel(rec)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append memory record: %w", err)
	}
	rec.Seq = model.Seq
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*memory.Record, error) {
	var model MemoryRecordModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, memory.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory record: %w", err)
	}
	rec, err := toMemoryDomain(&model)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *MemoryRepository) Recent(ctx context.Context, counterpartID uuid.UUID, limit int) ([]memory.Record, error) {
	var models []MemoryRecordModel
	q := r.db.WithContext(ctx).
		Where("counterpart_id = ? AND stale = ?", counterpartID, false).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent memory records: %w", err)
	}
	return toMemoryDomainSlice(models)
}

func (r *MemoryRepository) Window(ctx context.Context, counterpartID uuid.UUID, afterSeq int64, limit int) ([]memory.Record, error) {
	var models []MemoryRecordModel
	q := r.db.WithContext(ctx).
		Where("counterpart_id = ? AND seq > ?", counterpartID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to read memory window: %w", err)
	}
	return toMemoryDomainSlice(models)
}

func (r *MemoryRepository) MarkStale(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&MemoryRecordModel{}).
		Where("id IN ?", ids).
		Update("stale", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark memory records stale: %w", err)
	}
	return nil
}

var _ memory.Store = (*MemoryRepository)(nil)

func toMemoryModel(rec *memory.Record) (*MemoryRecordModel, error) {
	var embedding string
	if len(rec.Embedding) > 0 {
		raw, err := json.Marshal(rec.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to encode embedding: %w", err)
		}
		embedding = string(raw)
	}
	return &MemoryRecordModel{
		ID:            rec.ID,
		CounterpartID: rec.CounterpartID,
		Timestamp:     rec.Timestamp,
		Embedding:     embedding,
		Text:          rec.Text,
		Salience:      rec.Salience,
		Participant:   string(rec.Participant),
		Stale:         rec.Stale,
	}, nil
}

func toMemoryDomain(m *MemoryRecordModel) (memory.Record, error) {
	var embedding []float32
	if m.Embedding != "" {
		if err := json.Unmarshal([]byte(m.Embedding), &embedding); err != nil {
			return memory.Record{}, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return memory.Record{
		ID:            m.ID,
		CounterpartID: m.CounterpartID,
		Seq:           m.Seq,
		Timestamp:     m.Timestamp,
		Embedding:     embedding,
		Text:          m.Text,
		Salience:      m.Salience,
		Participant:   memory.Participant(m.Participant),
		Stale:         m.Stale,
	}, nil
}

func toMemoryDomainSlice(models []MemoryRecordModel) ([]memory.Record, error) {
	out := make([]memory.Record, 0, len(models))
	for i := range models {
		rec, err := toMemoryDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
