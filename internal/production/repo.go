package production

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/repo"
	dbpkg "github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

// Repository persists production records. Records are written once and never changed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.ProductionRecord) error
	FindByIdempotencyKey(ctx context.Context, operatorID uuid.UUID, key string) (*models.ProductionRecord, error)
	ListBySku(ctx context.Context, skuID uuid.UUID) ([]models.ProductionRecord, error)
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

// Create inserts the record and its items. A duplicate idempotency key means a concurrent
// run with the same key committed first; the retry will observe it.
func (r *repository) Create(ctx context.Context, record *models.ProductionRecord) error {
	err := r.DB(ctx).Create(record).Error
	switch {
	case err == nil:
		return nil
	case dbpkg.IsUniqueViolation(err, "idempotency_key"):
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "production run with this idempotency key committed concurrently")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create production record")
	}
}

// FindByIdempotencyKey returns nil without error when the operator has not used the key.
// Keys are private to each operator.
func (r *repository) FindByIdempotencyKey(ctx context.Context, operatorID uuid.UUID, key string) (*models.ProductionRecord, error) {
	var record models.ProductionRecord
	err := r.DB(ctx).Preload("Items").Where("operator_id = ? AND idempotency_key = ?", operatorID, key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load production record")
	}
	return &record, nil
}

func (r *repository) ListBySku(ctx context.Context, skuID uuid.UUID) ([]models.ProductionRecord, error) {
	var records []models.ProductionRecord
	if err := r.DB(ctx).Preload("Items").Where("sku_id = ?", skuID).Order("created_at ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list production records")
	}
	return records, nil
}
