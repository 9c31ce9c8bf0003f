package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/internal/ledger"
	"github.com/angelmondragon/craftstock-backend/internal/production"
	"github.com/angelmondragon/craftstock-backend/internal/reversal"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

var clerk = types.Operator{ID: uuid.MustParse("c3d2e1f0-1a2b-4c3d-8e4f-5a6b7c8d9e0f"), Role: "clerk"}

type stack struct {
	inventory  Service
	production production.Service
	conn       *gorm.DB
	actions    map[string]int
	mu         sync.Mutex
}

func (s *stack) ObserveOperation(action string, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action]++
}

func newStack(t *testing.T) *stack {
	t.Helper()
	client, conn := testutil.NewClient(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	entries := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(entries, func(tx *gorm.DB) ledger.SkuWriter {
		return skus.NewRepository(tx)
	}, emitter, nil)
	require.NoError(t, err)
	batchRepo := batches.NewRepository(conn)
	skuRepo := skus.NewRepository(conn)
	engine, err := reversal.NewEngine(reversal.NewRepository(conn), batchRepo, emitter, nil)
	require.NoError(t, err)

	s := &stack{conn: conn, actions: map[string]int{}}
	s.production, err = production.NewService(production.Dependencies{
		Tx:      client,
		Records: production.NewRepository(conn),
		Batches: batchRepo,
		Skus:    skuRepo,
		Ledger:  ledgerSvc,
		Emitter: emitter,
	})
	require.NoError(t, err)
	s.inventory, err = NewService(Dependencies{
		Tx:              client,
		Skus:            skuRepo,
		Ledger:          ledgerSvc,
		Entries:         entries,
		Reversal:        engine,
		Metrics:         s,
		HistoryPageSize: 50,
	})
	require.NoError(t, err)
	return s
}

func (s *stack) batch(t *testing.T, original string) *models.MaterialBatch {
	t.Helper()
	b := &models.MaterialBatch{
		Code:             "B-" + uuid.NewString()[:8],
		MaterialType:     enums.MaterialTypeLooseBeads,
		Specification:    decimal.NewFromInt(8),
		OriginalQuantity: decimal.RequireFromString(original),
		UsedQuantity:     decimal.Zero,
		UnitCost:         decimal.NewFromInt(1),
		AcquiredAt:       time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.conn.Create(b).Error)
	return b
}

func (s *stack) produce(t *testing.T, qty int64, lines ...production.RecipeLine) *models.SkuAggregate {
	t.Helper()
	sku, err := s.production.Produce(context.Background(), clerk, production.ProduceInput{
		Plan:     production.CombinationCraft{Recipe: lines},
		Quantity: qty,
	})
	require.NoError(t, err)
	return sku
}

func (s *stack) sku(t *testing.T, id uuid.UUID) *models.SkuAggregate {
	t.Helper()
	var sku models.SkuAggregate
	require.NoError(t, s.conn.First(&sku, "id = ?", id).Error)
	return &sku
}

func (s *stack) remaining(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	var b models.MaterialBatch
	require.NoError(t, s.conn.First(&b, "id = ?", id).Error)
	return b.Remaining()
}

func perUnit(id uuid.UUID, v string) production.RecipeLine {
	return production.RecipeLine{BatchID: id, PerUnit: decimal.RequireFromString(v)}
}

func TestSellRecordsBeforeAfterAndRejectsOversell(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sku := s.produce(t, 10, perUnit(s.batch(t, "100").ID, "1"))

	price := decimal.RequireFromString("24.5")
	entry, err := s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 3, Buyer: " Ana ", Channel: "market", UnitPrice: &price})
	require.NoError(t, err)
	require.Equal(t, enums.LedgerActionSell, entry.Action)
	require.Equal(t, int64(10), entry.QuantityBefore)
	require.Equal(t, int64(7), entry.QuantityAfter)
	require.Equal(t, "Ana", entry.Buyer)
	require.Equal(t, "24.50", entry.UnitPrice.Decimal.StringFixed(2))
	require.Equal(t, int64(7), s.sku(t, sku.ID).AvailableQuantity)

	_, err = s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 8})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock), err)
	require.Equal(t, int64(7), s.sku(t, sku.ID).AvailableQuantity)
	require.Equal(t, 2, s.actions["sell"])

	_, err = s.inventory.Sell(ctx, clerk, SellInput{SkuID: uuid.New(), Quantity: 1})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err)
}

func TestSellUsesListPriceAndRejectsInactive(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sku := s.produce(t, 2, perUnit(s.batch(t, "10").ID, "1"))
	require.NoError(t, s.conn.Model(&models.SkuAggregate{}).Where("id = ?", sku.ID).
		Update("selling_price", decimal.RequireFromString("15")).Error)

	entry, err := s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 1})
	require.NoError(t, err)
	require.True(t, entry.UnitPrice.Valid)
	require.Equal(t, "15.00", entry.UnitPrice.Decimal.StringFixed(2))

	require.NoError(t, s.conn.Model(&models.SkuAggregate{}).Where("id = ?", sku.ID).
		Update("status", enums.SkuStatusInactive).Error)
	_, err = s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 1})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)
}

func TestDestroyProportionalReturnsMaterial(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	a := s.batch(t, "100")
	b := s.batch(t, "60")
	sku := s.produce(t, 4, perUnit(a.ID, "5"), perUnit(b.ID, "3"))
	require.True(t, s.remaining(t, a.ID).Equal(decimal.NewFromInt(80)))
	require.True(t, s.remaining(t, b.ID).Equal(decimal.NewFromInt(48)))

	entry, err := s.inventory.Destroy(ctx, clerk, DestroyInput{SkuID: sku.ID, Quantity: 2, Reason: "cracked", Policy: enums.ReturnPolicyProportional})
	require.NoError(t, err)
	require.Equal(t, enums.LedgerActionDestroy, entry.Action)
	require.NotNil(t, entry.ReturnPolicy)
	require.True(t, s.remaining(t, a.ID).Equal(decimal.NewFromInt(90)), s.remaining(t, a.ID).String())
	require.True(t, s.remaining(t, b.ID).Equal(decimal.NewFromInt(54)), s.remaining(t, b.ID).String())

	var returns []models.MaterialReturn
	require.NoError(t, s.conn.Where("ledger_entry_id = ?", entry.ID).Find(&returns).Error)
	require.Len(t, returns, 2)

	updated := s.sku(t, sku.ID)
	require.Equal(t, int64(2), updated.AvailableQuantity)
	require.Equal(t, int64(4), updated.TotalQuantity)
}

func TestProduceThenDestroyAllRestoresBatches(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	a := s.batch(t, "37.5")
	b := s.batch(t, "12")
	before := []decimal.Decimal{s.remaining(t, a.ID), s.remaining(t, b.ID)}
	sku := s.produce(t, 3, perUnit(a.ID, "2.5"), perUnit(b.ID, "4"))

	_, err := s.inventory.Destroy(ctx, clerk, DestroyInput{SkuID: sku.ID, Quantity: 3, Reason: "recipe retired", Policy: enums.ReturnPolicyProportional})
	require.NoError(t, err)
	require.True(t, s.remaining(t, a.ID).Equal(before[0]), s.remaining(t, a.ID).String())
	require.True(t, s.remaining(t, b.ID).Equal(before[1]), s.remaining(t, b.ID).String())
}

func TestDestroyPoliciesAndErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	a := s.batch(t, "50")
	sku := s.produce(t, 5, perUnit(a.ID, "2"))

	_, err := s.inventory.Destroy(ctx, clerk, DestroyInput{SkuID: sku.ID, Quantity: 1, Reason: "lost", Policy: enums.ReturnPolicyNone})
	require.NoError(t, err)
	require.True(t, s.remaining(t, a.ID).Equal(decimal.NewFromInt(40)))

	_, err = s.inventory.Destroy(ctx, clerk, DestroyInput{
		SkuID: sku.ID, Quantity: 1, Reason: "broken clasp", Policy: enums.ReturnPolicyCustom,
		Custom: []reversal.BatchAmount{{BatchID: a.ID, Quantity: decimal.NewFromInt(11)}},
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidReturnQuantity), err)
	require.Equal(t, int64(4), s.sku(t, sku.ID).AvailableQuantity)

	_, err = s.inventory.Destroy(ctx, clerk, DestroyInput{
		SkuID: sku.ID, Quantity: 1, Reason: "broken clasp", Policy: enums.ReturnPolicyCustom,
		Custom: []reversal.BatchAmount{{BatchID: a.ID, Quantity: decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.True(t, s.remaining(t, a.ID).Equal(decimal.NewFromInt(41)))

	_, err = s.inventory.Destroy(ctx, clerk, DestroyInput{SkuID: sku.ID, Quantity: 4, Reason: "flood", Policy: enums.ReturnPolicyProportional})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock), err)

	_, err = s.inventory.Destroy(ctx, clerk, DestroyInput{SkuID: sku.ID, Quantity: 1, Policy: enums.ReturnPolicyNone})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)
}

func TestRefundRestoresSaleOnce(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sku := s.produce(t, 6, perUnit(s.batch(t, "60").ID, "1"))
	other := s.produce(t, 1, perUnit(s.batch(t, "5").ID, "1"))

	sale, err := s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 4, Channel: "online"})
	require.NoError(t, err)

	refund, err := s.inventory.Refund(ctx, clerk, RefundInput{SkuID: sku.ID, SaleEntryID: sale.ID, Reason: "wrong size"})
	require.NoError(t, err)
	require.Equal(t, enums.LedgerActionRefund, refund.Action)
	require.Equal(t, int64(4), refund.QuantityDelta)
	require.Equal(t, "online", refund.Channel)
	require.Equal(t, sale.ID, *refund.RefundOfID)

	updated := s.sku(t, sku.ID)
	require.Equal(t, int64(6), updated.AvailableQuantity)
	require.Equal(t, int64(6), updated.TotalQuantity)

	_, err = s.inventory.Refund(ctx, clerk, RefundInput{SkuID: sku.ID, SaleEntryID: sale.ID})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), err)

	_, err = s.inventory.Refund(ctx, clerk, RefundInput{SkuID: sku.ID, SaleEntryID: refund.ID})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)

	_, err = s.inventory.Refund(ctx, clerk, RefundInput{SkuID: other.ID, SaleEntryID: sale.ID})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)

	_, err = s.inventory.Refund(ctx, clerk, RefundInput{SkuID: sku.ID, SaleEntryID: uuid.New()})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err)
}

func TestAdjustBounds(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	beads := s.batch(t, "5")
	sku := s.produce(t, 5, perUnit(beads.ID, "1"))

	cases := []struct {
		input AdjustInput
		code  pkgerrors.Code
	}{
		{AdjustInput{SkuID: sku.ID, Delta: 0, Reason: "recount"}, pkgerrors.CodeValidation},
		{AdjustInput{SkuID: sku.ID, Delta: -1}, pkgerrors.CodeValidation},
		{AdjustInput{SkuID: sku.ID, Delta: 1, Reason: "found one"}, pkgerrors.CodeValidation},
		{AdjustInput{SkuID: sku.ID, Delta: -6, Reason: "recount"}, pkgerrors.CodeInsufficientStock},
	}
	for _, tc := range cases {
		_, err := s.inventory.Adjust(ctx, clerk, tc.input)
		require.True(t, pkgerrors.HasCode(err, tc.code), "input %+v: %v", tc.input, err)
	}

	entry, err := s.inventory.Adjust(ctx, clerk, AdjustInput{SkuID: sku.ID, Delta: -2, Reason: "recount"})
	require.NoError(t, err)
	require.Equal(t, int64(3), entry.QuantityAfter)

	entry, err = s.inventory.Adjust(ctx, clerk, AdjustInput{SkuID: sku.ID, Delta: 2, Reason: "found in drawer"})
	require.NoError(t, err)
	require.Equal(t, int64(5), entry.QuantityAfter)
	require.True(t, s.remaining(t, beads.ID).IsZero())
}

func TestHistoryPagesBySequence(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sku := s.produce(t, 5, perUnit(s.batch(t, "5").ID, "1"))
	for i := 0; i < 3; i++ {
		_, err := s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 1})
		require.NoError(t, err)
	}

	first, err := s.inventory.History(ctx, sku.ID, pagination.Params{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	require.Equal(t, enums.LedgerActionCreate, first.Entries[0].Action)
	require.NotEmpty(t, first.NextCursor)

	second, err := s.inventory.History(ctx, sku.ID, pagination.Params{Limit: 3, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	require.Equal(t, int64(4), second.Entries[0].Sequence)
	require.Empty(t, second.NextCursor)

	_, err = s.inventory.History(ctx, sku.ID, pagination.Params{Cursor: "not-a-cursor"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)
}

func TestVerifyAndDefensiveCheck(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sku := s.produce(t, 8, perUnit(s.batch(t, "8").ID, "1"))
	sale, err := s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 3})
	require.NoError(t, err)
	_, err = s.inventory.Refund(ctx, clerk, RefundInput{SkuID: sku.ID, SaleEntryID: sale.ID})
	require.NoError(t, err)
	_, err = s.inventory.Destroy(ctx, clerk, DestroyInput{SkuID: sku.ID, Quantity: 2, Reason: "scratched", Policy: enums.ReturnPolicyProportional})
	require.NoError(t, err)

	report, err := s.inventory.Verify(ctx, sku.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "%+v", report.Replay)
	require.Equal(t, int64(6), report.Replay.Available)

	require.NoError(t, s.conn.Model(&models.SkuAggregate{}).Where("id = ?", sku.ID).
		Update("available_quantity", 7).Error)
	report, err = s.inventory.Verify(ctx, sku.ID)
	require.NoError(t, err)
	require.False(t, report.Consistent)

	_, err = s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 1})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvariantViolation), err)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newStack(t)
	sku := s.produce(t, 10, perUnit(s.batch(t, "10").ID, "1"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sold     int
		rejected int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.inventory.Sell(context.Background(), clerk, SellInput{SkuID: sku.ID, Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, sold)
	require.Equal(t, 5, rejected)
	require.Zero(t, s.sku(t, sku.ID).AvailableQuantity)

	report, err := s.inventory.Verify(context.Background(), sku.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent)
}

func TestOperatorRequired(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	_, err := s.inventory.Sell(ctx, types.Operator{}, SellInput{SkuID: uuid.New(), Quantity: 1})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized), err)
	_, err = s.inventory.Adjust(ctx, types.Operator{ID: uuid.New()}, AdjustInput{SkuID: uuid.New(), Delta: 1, Reason: "x"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized), err)
}

func TestEntryIsScopedToSku(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sku := s.produce(t, 3, perUnit(s.batch(t, "30").ID, "1"))
	other := s.produce(t, 1, perUnit(s.batch(t, "5").ID, "1"))

	sale, err := s.inventory.Sell(ctx, clerk, SellInput{SkuID: sku.ID, Quantity: 1})
	require.NoError(t, err)

	got, err := s.inventory.Entry(ctx, sku.ID, sale.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LedgerActionSell, got.Action)
	require.Equal(t, int64(2), got.QuantityAfter)

	_, err = s.inventory.Entry(ctx, other.ID, sale.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err)

	_, err = s.inventory.Entry(ctx, sku.ID, uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err)
}

func TestProductionRecordsListEveryRun(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	b := s.batch(t, "50")
	sku := s.produce(t, 2, perUnit(b.ID, "1"))
	s.produce(t, 3, perUnit(b.ID, "1"))

	records, err := s.production.Records(ctx, sku.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.ElementsMatch(t, []int64{2, 3}, []int64{records[0].Quantity, records[1].Quantity})
	for _, record := range records {
		require.Equal(t, sku.ID, record.SkuID)
		require.Len(t, record.Items, 1)
	}

	_, err = s.production.Records(ctx, uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err)
}
