package reversal

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/repo"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

// Repository reads what a SKU consumed and records what it handed back.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ConsumedBySku(ctx context.Context, skuID uuid.UUID) ([]models.ProductionRecordItem, error)
	ReturnedBySku(ctx context.Context, skuID uuid.UUID) ([]models.MaterialReturn, error)
	CreateReturns(ctx context.Context, rows []models.MaterialReturn) error
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) ConsumedBySku(ctx context.Context, skuID uuid.UUID) ([]models.ProductionRecordItem, error) {
	var rows []models.ProductionRecordItem
	if err := r.DB(ctx).Where("sku_id = ?", skuID).Order("batch_id ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load consumed material")
	}
	return rows, nil
}

func (r *repository) ReturnedBySku(ctx context.Context, skuID uuid.UUID) ([]models.MaterialReturn, error) {
	var rows []models.MaterialReturn
	if err := r.DB(ctx).Where("sku_id = ?", skuID).Order("batch_id ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load returned material")
	}
	return rows, nil
}

func (r *repository) CreateReturns(ctx context.Context, rows []models.MaterialReturn) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.DB(ctx).Create(&rows).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record material returns")
	}
	return nil
}
