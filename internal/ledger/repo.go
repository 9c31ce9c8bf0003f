package ledger

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

// Repository manages persistence for ledger entries. Entries are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	Last(ctx context.Context, skuID uuid.UUID) (*models.LedgerEntry, error)
	FindRefundOf(ctx context.Context, saleID uuid.UUID) (*models.LedgerEntry, error)
	ListBySku(ctx context.Context, skuID uuid.UUID, afterSequence int64, limit int) ([]models.LedgerEntry, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	err := r.DB(ctx).Create(entry).Error
	switch {
	case err == nil:
		return nil
	case dbpkg.IsUniqueViolation(err, "refund_of"):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sale has already been refunded").
			WithDetails(map[string]any{"sale_entry_id": entry.RefundOfID})
	case dbpkg.IsUniqueViolation(err, "sequence"):
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "ledger sequence taken by a concurrent append")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.DB(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found").
				WithDetails(map[string]any{"entry_id": id})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return &entry, nil
}

// Last returns the newest entry of the SKU, or nil when the SKU has no history.
func (r *repository) Last(ctx context.Context, skuID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.DB(ctx).Where("sku_id = ?", skuID).Order("sequence DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load last ledger entry")
	}
	return &entry, nil
}

func (r *repository) FindRefundOf(ctx context.Context, saleID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.DB(ctx).Where("refund_of_id = ?", saleID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
	}
	return &entry, nil
}

// ListBySku returns entries with sequence > afterSequence in sequence order. limit <= 0 means all.
func (r *repository) ListBySku(ctx context.Context, skuID uuid.UUID, afterSequence int64, limit int) ([]models.LedgerEntry, error) {
	q := r.DB(ctx).Where("sku_id = ? AND sequence > ?", skuID, afterSequence).Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.LedgerEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}
