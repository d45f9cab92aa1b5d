package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/domain"
)

// CounterpartRepository persists counterpart identities.
type CounterpartRepository struct {
	db *gorm.DB
}

func (r *CounterpartRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Counterpart, error) {
	var model CounterpartModel
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrCounterpartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counterpart by external id: %w", err)
	}
	return toCounterpartDomain(&model), nil
}

func (r *CounterpartRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Counterpart, error) {
	var model CounterpartModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrCounterpartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counterpart: %w", err)
	}
	return toCounterpartDomain(&model), nil
}

func (r *CounterpartRepository) Create(ctx context.Context, c *domain.Counterpart) error {
	model := toCounterpartModel(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create counterpart: %w", err)
	}
	c.CreatedAt = model.CreatedAt
	c.UpdatedAt = model.UpdatedAt
	return nil
}

var _ core.CounterpartStore = (*CounterpartRepository)(nil)

func toCounterpartModel(c *domain.Counterpart) *CounterpartModel {
	return &CounterpartModel{
		ID:         c.ID,
		ExternalID: c.ExternalID,
		Name:       c.Name,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func toCounterpartDomain(m *CounterpartModel) *domain.Counterpart {
	return &domain.Counterpart{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
