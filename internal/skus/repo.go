package skus

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/repo"
	dbpkg "github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
)

// Repository manages persistence for SKU aggregates and their metadata change log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sku *models.SkuAggregate) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SkuAggregate, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.SkuAggregate, error)
	LockBySignature(ctx context.Context, signature string) (*models.SkuAggregate, error)
	Update(ctx context.Context, sku *models.SkuAggregate, updates map[string]any) error
	CreateChangeLog(ctx context.Context, entry *models.SkuChangeLog) error
	ListChangeLogs(ctx context.Context, skuID uuid.UUID, after *pagination.Cursor, limit int) ([]models.SkuChangeLog, error)
	ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
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

// Create inserts a new aggregate. A signature collision means a concurrent run created
// the same recipe first and is reported as a retryable conflict.
func (r *repository) Create(ctx context.Context, sku *models.SkuAggregate) error {
	err := r.DB(ctx).Create(sku).Error
	switch {
	case err == nil:
		return nil
	case dbpkg.IsUniqueViolation(err, "signature"):
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "sku for this recipe was created concurrently")
	case dbpkg.IsUniqueViolation(err, "code"):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sku code already in use").
			WithDetails(map[string]any{"code": sku.Code})
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sku")
	}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SkuAggregate, error) {
	return r.first(r.DB(ctx).Where("id = ?", id), id)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.SkuAggregate, error) {
	return r.first(repo.ForUpdate(r.DB(ctx)).Where("id = ?", id), id)
}

// LockBySignature returns nil without error when no SKU exists for the recipe yet.
func (r *repository) LockBySignature(ctx context.Context, signature string) (*models.SkuAggregate, error) {
	var sku models.SkuAggregate
	err := repo.ForUpdate(r.DB(ctx)).Where("material_signature = ?", signature).First(&sku).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sku by signature")
	}
	return &sku, nil
}

// Update writes the given columns under the version guard and bumps sku.Version on success.
// Callers mirror the new values on the struct themselves.
func (r *repository) Update(ctx context.Context, sku *models.SkuAggregate, updates map[string]any) error {
	if err := r.GuardedUpdate(ctx, &models.SkuAggregate{}, sku.ID, sku.Version, updates); err != nil {
		if dbpkg.IsUniqueViolation(err, "code") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sku code already in use")
		}
		return err
	}
	sku.Version++
	return nil
}

func (r *repository) CreateChangeLog(ctx context.Context, entry *models.SkuChangeLog) error {
	if err := r.DB(ctx).Create(entry).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sku change log")
	}
	return nil
}

func (r *repository) ListChangeLogs(ctx context.Context, skuID uuid.UUID, after *pagination.Cursor, limit int) ([]models.SkuChangeLog, error) {
	q := r.DB(ctx).Where("sku_id = ?", skuID)
	if after != nil {
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}
	var rows []models.SkuChangeLog
	if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sku change logs")
	}
	return rows, nil
}

// ListIDs pages through every SKU id in ascending order, starting after the given id.
func (r *repository) ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	q := r.DB(ctx).Model(&models.SkuAggregate{})
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	var ids []uuid.UUID
	if err := q.Order("id ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sku ids")
	}
	return ids, nil
}

func (r *repository) first(q *gorm.DB, id uuid.UUID) (*models.SkuAggregate, error) {
	var sku models.SkuAggregate
	if err := q.First(&sku).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sku not found").
				WithDetails(map[string]any{"sku_id": id})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sku")
	}
	return &sku, nil
}
