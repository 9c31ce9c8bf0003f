package batches

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/repo"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
)

// Repository manages persistence for material batches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.MaterialBatch) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.MaterialBatch, error)
	LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.MaterialBatch, error)
	SetUsedQuantity(ctx context.Context, batch *models.MaterialBatch, used decimal.Decimal) error
	ListAll(ctx context.Context) ([]models.MaterialBatch, error)
	ListLeaf(ctx context.Context, q LeafQuery) ([]models.MaterialBatch, error)
}

// LeafQuery selects the batches behind one type/specification/quality node.
type LeafQuery struct {
	MaterialType     enums.MaterialType
	Specification    decimal.Decimal
	Quality          enums.QualityGrade
	Search           string
	IncludeExhausted bool
	After            *pagination.Cursor
	Limit            int
}

type repository struct {
	repo.Base
}

// NewRepository returns a batch repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, batch *models.MaterialBatch) error {
	return r.DB(ctx).Create(batch).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error) {
	var batch models.MaterialBatch
	if err := r.DB(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.MaterialBatch, error) {
	var rows []models.MaterialBatch
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.DB(ctx).Where("id IN ?", ids).Order("id ASC").Find(&rows).Error
	return rows, err
}

// LockByIDs loads the batches FOR UPDATE in id order so concurrent runs lock in the same sequence.
func (r *repository) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.MaterialBatch, error) {
	var rows []models.MaterialBatch
	if len(ids) == 0 {
		return rows, nil
	}
	err := repo.ForUpdate(r.DB(ctx)).Where("id IN ?", ids).Order("id ASC").Find(&rows).Error
	return rows, err
}

// SetUsedQuantity persists a new used quantity under the batch's version guard and
// refreshes batch in place. used must stay within [0, original].
func (r *repository) SetUsedQuantity(ctx context.Context, batch *models.MaterialBatch, used decimal.Decimal) error {
	if used.IsNegative() || used.GreaterThan(batch.OriginalQuantity) {
		return pkgerrors.New(pkgerrors.CodeInvariantViolation, "batch used quantity out of range").
			WithDetails(map[string]any{
				"batch_id":          batch.ID,
				"original_quantity": batch.OriginalQuantity.String(),
				"used_quantity":     used.String(),
			})
	}
	if err := r.GuardedUpdate(ctx, &models.MaterialBatch{}, batch.ID, batch.Version, map[string]any{
		"used_quantity": used,
	}); err != nil {
		return err
	}
	batch.UsedQuantity = used
	batch.Version++
	return nil
}

func (r *repository) ListAll(ctx context.Context) ([]models.MaterialBatch, error) {
	var rows []models.MaterialBatch
	err := r.DB(ctx).Order("created_at ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) ListLeaf(ctx context.Context, q LeafQuery) ([]models.MaterialBatch, error) {
	query := r.DB(ctx).
		Where("material_type = ?", q.MaterialType).
		Where("specification = ?", q.Specification)
	if q.Quality == enums.QualityUngraded {
		query = query.Where("(quality IS NULL OR quality = '')")
	} else {
		query = query.Where("quality = ?", q.Quality)
	}
	if !q.IncludeExhausted {
		query = query.Where("original_quantity - used_quantity > 0")
	}
	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		like := "%" + term + "%"
		query = query.Where(
			"(LOWER(code) LIKE ? OR LOWER(COALESCE(supplier_ref, '')) LIKE ? OR LOWER(COALESCE(notes, '')) LIKE ? OR LOWER(material_type) LIKE ?)",
			like, like, like, like,
		)
	}
	if q.After != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", q.After.CreatedAt, q.After.CreatedAt, q.After.ID)
	}

	var rows []models.MaterialBatch
	err := query.Order("created_at ASC").Order("id ASC").Limit(q.Limit).Find(&rows).Error
	return rows, err
}
