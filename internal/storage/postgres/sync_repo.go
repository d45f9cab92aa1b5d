package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/nafsi/internal/devicesync"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
)

// SyncRepository exposes the versioned affective and heritage tables as a
// change journal for device sync. Reads and writes share the tables with
// AffectiveRepository and HeritageRepository; the sync cursor column makes
// every committed revision exportable by a single sequence.
type SyncRepository struct {
	db *gorm.DB
}

func (r *SyncRepository) AffectiveSince(ctx context.Context, sinceSeq int64) ([]devicesync.AffectiveRevision, error) {
	var models []AffectiveStateModel
	err := r.db.WithContext(ctx).
		Where("sync_seq > ?", sinceSeq).
		Order("sync_seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read affective journal: %w", err)
	}
	out := make([]devicesync.AffectiveRevision, 0, len(models))
	for i := range models {
		state, err := toAffectiveDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, devicesync.AffectiveRevision{Seq: models[i].SyncSeq, State: *state})
	}
	return out, nil
}

func (r *SyncRepository) HeritageSince(ctx context.Context, sinceSeq int64) ([]devicesync.HeritageRevision, error) {
	var models []HeritageEntryModel
	err := r.db.WithContext(ctx).
		Where("sync_seq > ?", sinceSeq).
		Order("sync_seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read heritage journal: %w", err)
	}
	out := make([]devicesync.HeritageRevision, 0, len(models))
	for i := range models {
		out = append(out, devicesync.HeritageRevision{Seq: models[i].SyncSeq, Entry: toHeritageDomain(&models[i])})
	}
	return out, nil
}

func (r *SyncRepository) MaxSeq(ctx context.Context) (int64, error) {
	var cursor SyncCursorModel
	err := r.db.WithContext(ctx).Where("id = ?", 1).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return cursor.Seq, nil
}

func (r *SyncRepository) LatestAffective(ctx context.Context, counterpartID uuid.UUID) (*limbic.State, error) {
	repo := AffectiveRepository{db: r.db}
	return repo.Latest(ctx, counterpartID)
}

// CommitAffective journals a remote state as-is. The merge layer has
// already resolved the version, so unlike limbic commits nothing is
// reassigned here.
func (r *SyncRepository) CommitAffective(ctx context.Context, s *limbic.State) error {
	repo := AffectiveRepository{db: r.db}
	return repo.Commit(ctx, s)
}

func (r *SyncRepository) LatestHeritage(ctx context.Context, counterpartID uuid.UUID, key string) (*heritage.Entry, error) {
	repo := HeritageRepository{db: r.db}
	return repo.Get(ctx, counterpartID, key)
}

// UpsertHeritage journals a remote entry verbatim, preserving its remote
// version and timestamp.
func (r *SyncRepository) UpsertHeritage(ctx context.Context, e *heritage.Entry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSyncSeq(tx)
		if err != nil {
			return err
		}
		model := toHeritageModel(e, seq)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("failed to journal heritage entry: %w", err)
		}
		return nil
	})
}

func (r *SyncRepository) AppendPrior(ctx context.Context, p *devicesync.PriorVersion) error {
	model := PriorVersionModel{
		ID:            p.ID,
		Kind:          p.Kind,
		CounterpartID: p.CounterpartID,
		Key:           p.Key,
		Version:       p.Version,
		Payload:       p.Payload,
		RetainedAt:    p.RetainedAt,
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to retain prior version: %w", err)
	}
	return nil
}

func (r *SyncRepository) PriorVersions(ctx context.Context, counterpartID uuid.UUID, limit int) ([]devicesync.PriorVersion, error) {
	var models []PriorVersionModel
	q := r.db.WithContext(ctx).
		Where("counterpart_id = ?", counterpartID).
		Order("retained_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list prior versions: %w", err)
	}
	out := make([]devicesync.PriorVersion, 0, len(models))
	for _, m := range models {
		out = append(out, devicesync.PriorVersion{
			ID:            m.ID,
			Kind:          m.Kind,
			CounterpartID: m.CounterpartID,
			Key:           m.Key,
			Version:       m.Version,
			Payload:       m.Payload,
			RetainedAt:    m.RetainedAt,
		})
	}
	return out, nil
}

var _ devicesync.Store = (*SyncRepository)(nil)
