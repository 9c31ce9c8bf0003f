package batches

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
)

func seedBatch(t *testing.T, db *gorm.DB, b models.MaterialBatch) models.MaterialBatch {
	t.Helper()
	if b.Code == "" {
		b.Code = "B-" + uuid.NewString()[:8]
	}
	if b.MaterialType == "" {
		b.MaterialType = enums.MaterialTypeLooseBeads
	}
	if b.AcquiredAt.IsZero() {
		b.AcquiredAt = time.Now().UTC()
	}
	require.NoError(t, db.Create(&b).Error)
	return b
}

func TestSetUsedQuantityGuardsVersionAndRange(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, db, models.MaterialBatch{
		OriginalQuantity: decimal.NewFromInt(100),
		UnitCost:         decimal.NewFromInt(2),
	})
	stale := batch

	require.NoError(t, r.SetUsedQuantity(ctx, &batch, decimal.NewFromInt(20)))
	require.EqualValues(t, 2, batch.Version)

	err := r.SetUsedQuantity(ctx, &stale, decimal.NewFromInt(30))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConcurrencyConflict), "got %v", err)

	err = r.SetUsedQuantity(ctx, &batch, decimal.NewFromInt(101))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvariantViolation))
	err = r.SetUsedQuantity(ctx, &batch, decimal.NewFromInt(-1))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvariantViolation))

	stored, err := r.FindByID(ctx, batch.ID)
	require.NoError(t, err)
	require.True(t, stored.UsedQuantity.Equal(decimal.NewFromInt(20)))
	require.True(t, stored.Remaining().Equal(decimal.NewFromInt(80)))
}

func TestLockByIDsOrdersByID(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRepository(db)

	a := seedBatch(t, db, models.MaterialBatch{OriginalQuantity: decimal.NewFromInt(1), UnitCost: decimal.Zero})
	b := seedBatch(t, db, models.MaterialBatch{OriginalQuantity: decimal.NewFromInt(1), UnitCost: decimal.Zero})

	rows, err := r.LockByIDs(context.Background(), []uuid.UUID{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].ID.String() < rows[1].ID.String())
}

func TestListLeafFiltersAndPaginates(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRepository(db)
	ctx := context.Background()

	grade := enums.QualityA
	spec := decimal.NewFromInt(6)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ungraded []models.MaterialBatch
	for i := 0; i < 3; i++ {
		ungraded = append(ungraded, seedBatch(t, db, models.MaterialBatch{
			Specification:    spec,
			OriginalQuantity: decimal.NewFromInt(10),
			UnitCost:         decimal.NewFromInt(1),
			Notes:            "amethyst lot",
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
	seedBatch(t, db, models.MaterialBatch{
		Specification:    spec,
		Quality:          &grade,
		OriginalQuantity: decimal.NewFromInt(10),
		UnitCost:         decimal.NewFromInt(1),
	})
	seedBatch(t, db, models.MaterialBatch{
		Specification:    spec,
		OriginalQuantity: decimal.NewFromInt(10),
		UsedQuantity:     decimal.NewFromInt(10),
		UnitCost:         decimal.NewFromInt(1),
		CreatedAt:        base.Add(time.Hour),
	})

	page, err := r.ListLeaf(ctx, LeafQuery{
		MaterialType:  enums.MaterialTypeLooseBeads,
		Specification: spec,
		Quality:       enums.QualityUngraded,
		Limit:         2,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ungraded[0].ID, page[0].ID)

	next, err := r.ListLeaf(ctx, LeafQuery{
		MaterialType:  enums.MaterialTypeLooseBeads,
		Specification: spec,
		Quality:       enums.QualityUngraded,
		After:         &pagination.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID},
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, next, 1, "exhausted batch stays hidden")
	require.Equal(t, ungraded[2].ID, next[0].ID)

	withExhausted, err := r.ListLeaf(ctx, LeafQuery{
		MaterialType:     enums.MaterialTypeLooseBeads,
		Specification:    spec,
		Quality:          enums.QualityUngraded,
		IncludeExhausted: true,
		Limit:            10,
	})
	require.NoError(t, err)
	require.Len(t, withExhausted, 4)

	searched, err := r.ListLeaf(ctx, LeafQuery{
		MaterialType:  enums.MaterialTypeLooseBeads,
		Specification: spec,
		Quality:       enums.QualityUngraded,
		Search:        "AMETHYST",
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, searched, 3)

	graded, err := r.ListLeaf(ctx, LeafQuery{
		MaterialType:  enums.MaterialTypeLooseBeads,
		Specification: spec,
		Quality:       enums.QualityA,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, graded, 1)
}
