package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/nafsi/internal/heritage"
)

// HeritageRepository persists heritage entries as versioned append-only
// rows. Superseded versions stay in the table, so the device-sync layer
// can export and retain them.
type HeritageRepository struct {
	db *gorm.DB
}

func (r *HeritageRepository) Get(ctx context.Context, counterpartID uuid.UUID, key string) (*heritage.Entry, error) {
	var model HeritageEntryModel
	err := r.db.WithContext(ctx).
		Where("counterpart_id = ? AND key = ?", counterpartID, key).
		Order("version DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", heritage.ErrEntryNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get heritage entry: %w", err)
	}
	entry := toHeritageDomain(&model)
	return &entry, nil
}

func (r *HeritageRepository) List(ctx context.Context, counterpartID uuid.UUID) ([]heritage.Entry, error) {
	var models []HeritageEntryModel
	err := r.db.WithContext(ctx).
		Where("counterpart_id = ?", counterpartID).
		Order("key ASC, version ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list heritage entries: %w", err)
	}

	// Rows are ordered key asc, version asc; the last row per key is
	// the current one.
	var out []heritage.Entry
	for _, m := range models {
		entry := toHeritageDomain(&m)
		if n := len(out); n > 0 && out[n-1].Key == entry.Key {
			out[n-1] = entry
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *HeritageRepository) Upsert(ctx context.Context, entry *heritage.Entry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev HeritageEntryModel
		err := tx.Where("counterpart_id = ? AND key = ?", entry.CounterpartID, entry.Key).
			Order("version DESC").
			First(&prev).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if entry.Version == 0 {
				entry.Version = 1
			}
		case err != nil:
			return fmt.Errorf("failed to read prior heritage version: %w", err)
		default:
			entry.Version = prev.Version + 1
		}
		entry.UpdatedAt = time.Now().UTC()

		seq, err := nextSyncSeq(tx)
		if err != nil {
			return err
		}
		model := toHeritageModel(entry, seq)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("failed to upsert heritage entry: %w", err)
		}
		return nil
	})
}

var _ heritage.Store = (*HeritageRepository)(nil)

func toHeritageModel(e *heritage.Entry, syncSeq int64) HeritageEntryModel {
	return HeritageEntryModel{
		SyncSeq:       syncSeq,
		CounterpartID: e.CounterpartID,
		Key:           e.Key,
		Value:         e.Value,
		Confidence:    e.Confidence,
		EvidenceCount: e.EvidenceCount,
		Source:        string(e.Source),
		HypothesisID:  e.HypothesisID,
		Version:       e.Version,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toHeritageDomain(m *HeritageEntryModel) heritage.Entry {
	return heritage.Entry{
		CounterpartID: m.CounterpartID,
		Key:           m.Key,
		Value:         m.Value,
		Confidence:    m.Confidence,
		EvidenceCount: m.EvidenceCount,
		Source:        heritage.Source(m.Source),
		HypothesisID:  m.HypothesisID,
		Version:       m.Version,
		UpdatedAt:     m.UpdatedAt,
	}
}
