package skus

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/craftstock-backend/pkg/db/types"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type txRunner interface {
	RunInTx(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error
}

// Service exposes SKU reads and metadata edits. Metadata edits never touch stock and
// are recorded in the change log instead of the ledger.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.SkuAggregate, error)
	UpdateMetadata(ctx context.Context, operator types.Operator, skuID uuid.UUID, patch MetadataPatch) (*models.SkuAggregate, error)
	ListChanges(ctx context.Context, skuID uuid.UUID, params pagination.Params) (*ChangePage, error)
}

// MetadataPatch carries optional edits; nil fields are left untouched. ClearPrice removes the price.
type MetadataPatch struct {
	Name         *string
	SellingPrice *decimal.Decimal
	ClearPrice   bool
	Status       *enums.SkuStatus
	PhotoURLs    *[]string
}

type ChangePage struct {
	Changes    []models.SkuChangeLog `json:"changes"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
}

func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("sku repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, tx: tx, logg: logg}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.SkuAggregate, error) {
	return s.repo.FindByID(ctx, id)
}

type fieldChange struct {
	field    string
	column   string
	oldValue string
	newValue string
	value    any
	apply    func(*models.SkuAggregate)
}

func (s *service) UpdateMetadata(ctx context.Context, operator types.Operator, skuID uuid.UUID, patch MetadataPatch) (*models.SkuAggregate, error) {
	if !operator.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity required")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	var updated *models.SkuAggregate
	err := s.tx.RunInTx(ctx, "sku.update_metadata", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sku, err := repo.LockByID(ctx, skuID)
		if err != nil {
			return err
		}

		changes := diff(sku, patch)
		if len(changes) == 0 {
			updated = sku
			return nil
		}

		updates := make(map[string]any, len(changes))
		for _, c := range changes {
			updates[c.column] = c.value
		}
		if err := repo.Update(ctx, sku, updates); err != nil {
			return err
		}
		for _, c := range changes {
			c.apply(sku)
			if err := repo.CreateChangeLog(ctx, &models.SkuChangeLog{
				SkuID:        sku.ID,
				Field:        c.field,
				OldValue:     c.oldValue,
				NewValue:     c.newValue,
				OperatorID:   operator.ID,
				OperatorRole: operator.Role,
			}); err != nil {
				return err
			}
		}
		updated = sku
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOperator(ctx, operator.ID.String(), operator.Role)
	s.logg.Info(s.logg.WithSKUID(logCtx, skuID.String()), "skus.update_metadata")
	return updated, nil
}

func (s *service) ListChanges(ctx context.Context, skuID uuid.UUID, params pagination.Params) (*ChangePage, error) {
	if _, err := s.repo.FindByID(ctx, skuID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListChangeLogs(ctx, skuID, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &ChangePage{Changes: rows}
	if len(rows) > limit {
		page.Changes = rows[:limit]
		last := page.Changes[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func validatePatch(patch MetadataPatch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "name cannot be blank")
	}
	if patch.SellingPrice != nil && patch.ClearPrice {
		return pkgerrors.New(pkgerrors.CodeValidation, "selling_price cannot be set and cleared at once")
	}
	if patch.SellingPrice != nil && !patch.SellingPrice.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "selling_price must be positive")
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", *patch.Status))
	}
	return nil
}

func diff(sku *models.SkuAggregate, patch MetadataPatch) []fieldChange {
	var changes []fieldChange
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name != sku.Name {
			changes = append(changes, fieldChange{
				field: "name", column: "name", oldValue: sku.Name, newValue: name, value: name,
				apply: func(s *models.SkuAggregate) { s.Name = name },
			})
		}
	}
	if patch.SellingPrice != nil || patch.ClearPrice {
		next := decimal.NullDecimal{}
		if patch.SellingPrice != nil {
			next = decimal.NewNullDecimal(patch.SellingPrice.Round(2))
		}
		if next.Valid != sku.SellingPrice.Valid || (next.Valid && !next.Decimal.Equal(sku.SellingPrice.Decimal)) {
			changes = append(changes, fieldChange{
				field: "selling_price", column: "selling_price",
				oldValue: nullString(sku.SellingPrice), newValue: nullString(next), value: next,
				apply: func(s *models.SkuAggregate) { s.SellingPrice = next },
			})
		}
	}
	if patch.Status != nil && *patch.Status != sku.Status {
		status := *patch.Status
		changes = append(changes, fieldChange{
			field: "status", column: "status", oldValue: string(sku.Status), newValue: string(status), value: status,
			apply: func(s *models.SkuAggregate) { s.Status = status },
		})
	}
	if patch.PhotoURLs != nil {
		photos := dbtypes.StringArray(*patch.PhotoURLs).Normalized()
		if strings.Join(photos, "\n") != strings.Join(sku.PhotoURLs, "\n") {
			changes = append(changes, fieldChange{
				field: "photo_urls", column: "photo_urls",
				oldValue: strings.Join(sku.PhotoURLs, ","), newValue: strings.Join(photos, ","), value: photos,
				apply: func(s *models.SkuAggregate) { s.PhotoURLs = photos },
			})
		}
	}
	return changes
}

func nullString(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}
