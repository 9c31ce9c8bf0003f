package reversal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

var operator = types.Operator{ID: uuid.MustParse("a4c1e7b0-3f6d-4e2a-9c8b-1d0e5f4a3b2c"), Role: "owner"}

type fixture struct {
	engine *Engine
	conn   *gorm.DB
	a, b   *models.MaterialBatch
	skuID  uuid.UUID
}

// newFixture models a SKU built from batch A (5 per unit) and batch B (3 per unit), 4 units produced.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.NewDB(t)
	engine, err := NewEngine(NewRepository(conn), batches.NewRepository(conn), outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.NoError(t, err)

	mk := func(used string) *models.MaterialBatch {
		b := &models.MaterialBatch{
			Code:             "B-" + uuid.NewString()[:8],
			MaterialType:     enums.MaterialTypeLooseBeads,
			Specification:    decimal.NewFromInt(6),
			OriginalQuantity: decimal.NewFromInt(100),
			UsedQuantity:     decimal.RequireFromString(used),
			UnitCost:         decimal.NewFromInt(1),
			AcquiredAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, conn.Create(b).Error)
		return b
	}
	f := &fixture{engine: engine, conn: conn, a: mk("20"), b: mk("12"), skuID: uuid.New()}
	record := &models.ProductionRecord{
		SkuID:        f.skuID,
		Mode:         enums.ProductionModeCombinationCraft,
		Quantity:     4,
		MaterialCost: decimal.NewFromInt(8),
		LaborCost:    decimal.Zero,
		CraftCost:    decimal.Zero,
		TotalCost:    decimal.NewFromInt(8),
		OperatorID:   operator.ID,
		OperatorRole: operator.Role,
		RequestHash:  "h",
		Items: []models.ProductionRecordItem{
			{SkuID: f.skuID, BatchID: f.a.ID, PerUnitQuantity: decimal.NewFromInt(5), ConsumedQuantity: decimal.NewFromInt(20), UnitCost: decimal.NewFromInt(1)},
			{SkuID: f.skuID, BatchID: f.b.ID, PerUnitQuantity: decimal.NewFromInt(3), ConsumedQuantity: decimal.NewFromInt(12), UnitCost: decimal.NewFromInt(1)},
		},
	}
	require.NoError(t, conn.Create(record).Error)
	return f
}

func (f *fixture) apply(t *testing.T, req Request) ([]models.MaterialReturn, error) {
	t.Helper()
	entry := &models.LedgerEntry{ID: uuid.New(), SkuID: f.skuID}
	var rows []models.MaterialReturn
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = f.engine.Apply(context.Background(), tx, operator, entry, req)
		return err
	})
	return rows, err
}

func (f *fixture) used(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	var b models.MaterialBatch
	require.NoError(t, f.conn.First(&b, "id = ?", id).Error)
	return b.UsedQuantity
}

func TestApplyProportionalReturnsPerUnitShare(t *testing.T) {
	f := newFixture(t)

	rows, err := f.apply(t, Request{Policy: enums.ReturnPolicyProportional, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, f.used(t, f.a.ID).Equal(decimal.NewFromInt(10)), f.used(t, f.a.ID).String())
	require.True(t, f.used(t, f.b.ID).Equal(decimal.NewFromInt(6)), f.used(t, f.b.ID).String())

	outstanding, err := f.engine.Outstanding(context.Background(), f.conn, f.skuID)
	require.NoError(t, err)
	for _, o := range outstanding {
		require.True(t, o.Outstanding.Equal(o.PerUnit.Mul(decimal.NewFromInt(2))), "batch %s outstanding %s", o.BatchID, o.Outstanding)
	}

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventMaterialReturned).Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestApplyCustomRejectsExcessWithoutWriting(t *testing.T) {
	f := newFixture(t)

	_, err := f.apply(t, Request{Policy: enums.ReturnPolicyCustom, Quantity: 1, Custom: []BatchAmount{
		{BatchID: f.a.ID, Quantity: decimal.NewFromInt(3)},
		{BatchID: f.b.ID, Quantity: decimal.NewFromInt(13)},
	}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidReturnQuantity), err)
	require.True(t, f.used(t, f.a.ID).Equal(decimal.NewFromInt(20)))

	rows, err := f.apply(t, Request{Policy: enums.ReturnPolicyCustom, Quantity: 1, Custom: []BatchAmount{
		{BatchID: f.b.ID, Quantity: decimal.RequireFromString("2.5")},
	}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, f.used(t, f.b.ID).Equal(decimal.RequireFromString("9.5")))
	require.True(t, f.used(t, f.a.ID).Equal(decimal.NewFromInt(20)))
}

func TestApplyNoneLeavesBatches(t *testing.T) {
	f := newFixture(t)
	rows, err := f.apply(t, Request{Policy: enums.ReturnPolicyNone, Quantity: 4})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.True(t, f.used(t, f.a.ID).Equal(decimal.NewFromInt(20)))

	var count int64
	require.NoError(t, f.conn.Model(&models.MaterialReturn{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestApplyCannotReturnMoreThanConsumed(t *testing.T) {
	f := newFixture(t)
	_, err := f.apply(t, Request{Policy: enums.ReturnPolicyProportional, Quantity: 4})
	require.NoError(t, err)

	rows, err := f.apply(t, Request{Policy: enums.ReturnPolicyProportional, Quantity: 1})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.True(t, f.used(t, f.a.ID).IsZero())
	require.True(t, f.used(t, f.b.ID).IsZero())
}
