package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/internal/ledger"
	"github.com/angelmondragon/craftstock-backend/internal/reversal"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type txRunner interface {
	RunInTx(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error
}

// OperationObserver records the outcome of a stock operation.
type OperationObserver interface {
	ObserveOperation(action string, err error)
}

// Service drives the SKU stock state machine. Every call appends exactly one ledger entry.
type Service interface {
	Sell(ctx context.Context, operator types.Operator, input SellInput) (*models.LedgerEntry, error)
	Destroy(ctx context.Context, operator types.Operator, input DestroyInput) (*models.LedgerEntry, error)
	Refund(ctx context.Context, operator types.Operator, input RefundInput) (*models.LedgerEntry, error)
	Adjust(ctx context.Context, operator types.Operator, input AdjustInput) (*models.LedgerEntry, error)
	History(ctx context.Context, skuID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	Entry(ctx context.Context, skuID, entryID uuid.UUID) (*models.LedgerEntry, error)
	Verify(ctx context.Context, skuID uuid.UUID) (*Verification, error)
}

type SellInput struct {
	SkuID    uuid.UUID
	Quantity int64
	Buyer    string
	Channel  string
	// UnitPrice defaults to the SKU's selling price.
	UnitPrice *decimal.Decimal
	Reference string
}

type DestroyInput struct {
	SkuID    uuid.UUID
	Quantity int64
	Reason   string
	Policy   enums.ReturnPolicy
	Custom   []reversal.BatchAmount
}

// RefundInput reverses one prior sale in full.
type RefundInput struct {
	SkuID       uuid.UUID
	SaleEntryID uuid.UUID
	Reason      string
}

type AdjustInput struct {
	SkuID  uuid.UUID
	Delta  int64
	Reason string
}

type HistoryPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Verification compares the aggregate with a replay of its ledger.
type Verification struct {
	SkuID             uuid.UUID            `json:"sku_id"`
	AvailableQuantity int64                `json:"available_quantity"`
	TotalQuantity     int64                `json:"total_quantity"`
	LedgerSequence    int64                `json:"ledger_sequence"`
	Replay            *ledger.ReplayResult `json:"replay"`
	Consistent        bool                 `json:"consistent"`
}

// Dependencies groups the collaborators of the inventory service.
type Dependencies struct {
	Tx              txRunner
	Skus            skus.Repository
	Ledger          ledger.Service
	Entries         ledger.Repository
	Reversal        *reversal.Engine
	Invalidator     batches.Invalidator
	Metrics         OperationObserver
	Logger          *logger.Logger
	HistoryPageSize int
}

type service struct {
	tx          txRunner
	skus        skus.Repository
	ledger      ledger.Service
	entries     ledger.Repository
	reversal    *reversal.Engine
	invalidator batches.Invalidator
	metrics     OperationObserver
	logg        *logger.Logger
	pageSize    int
}

func NewService(deps Dependencies) (Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Skus == nil {
		return nil, fmt.Errorf("sku repository required")
	}
	if deps.Ledger == nil || deps.Entries == nil {
		return nil, fmt.Errorf("ledger service and repository required")
	}
	if deps.Reversal == nil {
		return nil, fmt.Errorf("reversal engine required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:          deps.Tx,
		skus:        deps.Skus,
		ledger:      deps.Ledger,
		entries:     deps.Entries,
		reversal:    deps.Reversal,
		invalidator: deps.Invalidator,
		metrics:     deps.Metrics,
		logg:        logg,
		pageSize:    pagination.NormalizeLimit(deps.HistoryPageSize),
	}, nil
}

func (s *service) Sell(ctx context.Context, operator types.Operator, input SellInput) (entry *models.LedgerEntry, err error) {
	defer func() { s.finish(ctx, "sell", operator, input.SkuID, entry, err) }()

	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sell quantity must be positive")
	}
	if input.UnitPrice != nil && input.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
	}

	err = s.tx.RunInTx(ctx, "inventory.sell", func(tx *gorm.DB) error {
		sku, err := s.skus.WithTx(tx).LockByID(ctx, input.SkuID)
		if err != nil {
			return err
		}
		if sku.Status != enums.SkuStatusActive {
			return pkgerrors.New(pkgerrors.CodeValidation, "inactive sku cannot be sold").
				WithDetails(map[string]any{"sku_id": sku.ID, "status": sku.Status})
		}
		if err := requireAvailable(sku, input.Quantity); err != nil {
			return err
		}
		price := sku.SellingPrice
		if input.UnitPrice != nil {
			price = decimal.NewNullDecimal(input.UnitPrice.Round(2))
		}
		entry, err = s.ledger.Append(ctx, tx, sku, ledger.Transition{
			Action:    enums.LedgerActionSell,
			Delta:     -input.Quantity,
			Operator:  operator,
			Buyer:     strings.TrimSpace(input.Buyer),
			Channel:   strings.TrimSpace(input.Channel),
			UnitPrice: price,
			Reference: strings.TrimSpace(input.Reference),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Destroy writes units off and, unless the policy is NONE, hands their material back.
func (s *service) Destroy(ctx context.Context, operator types.Operator, input DestroyInput) (entry *models.LedgerEntry, err error) {
	defer func() { s.finish(ctx, "destroy", operator, input.SkuID, entry, err) }()

	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destroy reason is required")
	}
	req := reversal.Request{Policy: input.Policy, Quantity: input.Quantity, Custom: input.Custom}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var metadata json.RawMessage
	if len(input.Custom) > 0 {
		raw, err := json.Marshal(map[string]any{"custom_returns": input.Custom})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode custom returns")
		}
		metadata = raw
	}

	var returned int
	err = s.tx.RunInTx(ctx, "inventory.destroy", func(tx *gorm.DB) error {
		sku, err := s.skus.WithTx(tx).LockByID(ctx, input.SkuID)
		if err != nil {
			return err
		}
		if err := requireAvailable(sku, input.Quantity); err != nil {
			return err
		}
		policy := input.Policy
		entry, err = s.ledger.Append(ctx, tx, sku, ledger.Transition{
			Action:       enums.LedgerActionDestroy,
			Delta:        -input.Quantity,
			Operator:     operator,
			Reason:       reason,
			ReturnPolicy: &policy,
			Metadata:     metadata,
		})
		if err != nil {
			return err
		}
		rows, err := s.reversal.Apply(ctx, tx, operator, entry, req)
		returned = len(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if returned > 0 && s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
	return entry, nil
}

// Refund restores the units of one sale to available stock. Total production is unchanged.
func (s *service) Refund(ctx context.Context, operator types.Operator, input RefundInput) (entry *models.LedgerEntry, err error) {
	defer func() { s.finish(ctx, "refund", operator, input.SkuID, entry, err) }()

	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	if input.SaleEntryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale_entry_id is required")
	}

	err = s.tx.RunInTx(ctx, "inventory.refund", func(tx *gorm.DB) error {
		sku, err := s.skus.WithTx(tx).LockByID(ctx, input.SkuID)
		if err != nil {
			return err
		}
		entries := s.entries.WithTx(tx)
		sale, err := entries.FindByID(ctx, input.SaleEntryID)
		if err != nil {
			return err
		}
		if sale.Action != enums.LedgerActionSell || sale.SkuID != sku.ID {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund must reference a sale of this sku").
				WithDetails(map[string]any{"sale_entry_id": sale.ID, "action": sale.Action})
		}
		prior, err := entries.FindRefundOf(ctx, sale.ID)
		if err != nil {
			return err
		}
		if prior != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "sale has already been refunded").
				WithDetails(map[string]any{"sale_entry_id": sale.ID, "refund_entry_id": prior.ID})
		}
		qty := -sale.QuantityDelta
		if sku.AvailableQuantity+qty > sku.TotalQuantity {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund would raise available stock above total produced").
				WithDetails(map[string]any{"available": sku.AvailableQuantity, "total": sku.TotalQuantity, "refund": qty})
		}
		saleID := sale.ID
		entry, err = s.ledger.Append(ctx, tx, sku, ledger.Transition{
			Action:     enums.LedgerActionRefund,
			Delta:      qty,
			Operator:   operator,
			Reason:     strings.TrimSpace(input.Reason),
			Buyer:      sale.Buyer,
			Channel:    sale.Channel,
			UnitPrice:  sale.UnitPrice,
			RefundOfID: &saleID,
			Reference:  sale.Reference,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Adjust corrects stock after a recount. Batches are never touched.
func (s *service) Adjust(ctx context.Context, operator types.Operator, input AdjustInput) (entry *models.LedgerEntry, err error) {
	defer func() { s.finish(ctx, "adjust", operator, input.SkuID, entry, err) }()

	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment delta must be non-zero")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}

	err = s.tx.RunInTx(ctx, "inventory.adjust", func(tx *gorm.DB) error {
		sku, err := s.skus.WithTx(tx).LockByID(ctx, input.SkuID)
		if err != nil {
			return err
		}
		after := sku.AvailableQuantity + input.Delta
		switch {
		case after < 0:
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "adjustment would make available stock negative").
				WithDetails(map[string]any{"available": sku.AvailableQuantity, "delta": input.Delta})
		case after > sku.TotalQuantity:
			return pkgerrors.New(pkgerrors.CodeValidation, "adjustment would raise available stock above total produced").
				WithDetails(map[string]any{"available": sku.AvailableQuantity, "total": sku.TotalQuantity, "delta": input.Delta})
		}
		entry, err = s.ledger.Append(ctx, tx, sku, ledger.Transition{
			Action:   enums.LedgerActionAdjust,
			Delta:    input.Delta,
			Operator: operator,
			Reason:   reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History pages through stock transitions in sequence order.
func (s *service) History(ctx context.Context, skuID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if _, err := s.skus.FindByID(ctx, skuID); err != nil {
		return nil, err
	}
	after, err := pagination.ParseSequenceCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := s.pageSize
	if params.Limit > 0 {
		limit = pagination.NormalizeLimit(params.Limit)
	}
	rows, err := s.ledger.List(ctx, skuID, after, limit+1)
	if err != nil {
		return nil, err
	}
	page := &HistoryPage{Entries: rows}
	if len(rows) > limit {
		page.Entries = rows[:limit]
		page.NextCursor = pagination.EncodeSequenceCursor(page.Entries[limit-1].Sequence)
	}
	return page, nil
}

// Entry returns one ledger entry. An entry of another SKU is reported as not found.
func (s *service) Entry(ctx context.Context, skuID, entryID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.ledger.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.SkuID != skuID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found").
			WithDetails(map[string]any{"entry_id": entryID})
	}
	return entry, nil
}

func (s *service) Verify(ctx context.Context, skuID uuid.UUID) (*Verification, error) {
	sku, err := s.skus.FindByID(ctx, skuID)
	if err != nil {
		return nil, err
	}
	replay, err := s.ledger.Replay(ctx, skuID)
	if err != nil {
		return nil, err
	}
	out := &Verification{
		SkuID:             sku.ID,
		AvailableQuantity: sku.AvailableQuantity,
		TotalQuantity:     sku.TotalQuantity,
		LedgerSequence:    sku.LedgerSequence,
		Replay:            replay,
	}
	out.Consistent = replay.ChainIntact &&
		replay.Available == sku.AvailableQuantity &&
		replay.Produced == sku.TotalQuantity &&
		replay.LastSequence == sku.LedgerSequence
	if !out.Consistent {
		err := pkgerrors.New(pkgerrors.CodeInvariantViolation, "sku aggregate disagrees with ledger replay").
			WithDetails(out)
		s.logg.Error(s.logg.WithSKUID(ctx, skuID.String()), "inventory.verify_failed", err)
	}
	return out, nil
}

func (s *service) finish(ctx context.Context, action string, operator types.Operator, skuID uuid.UUID, entry *models.LedgerEntry, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(action, err)
	}
	logCtx := s.logg.WithOperator(ctx, operator.ID.String(), operator.Role)
	logCtx = s.logg.WithSKUID(logCtx, skuID.String())
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "inventory."+action+"_failed")
		return
	}
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"ledger_entry_id": entry.ID.String(),
		"sequence":        entry.Sequence,
		"before":          entry.QuantityBefore,
		"after":           entry.QuantityAfter,
	}), "inventory."+action)
}

func requireOperator(operator types.Operator) error {
	if !operator.Valid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity required")
	}
	return nil
}

func requireAvailable(sku *models.SkuAggregate, qty int64) error {
	if sku.AvailableQuantity < qty {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough units in stock").
			WithDetails(map[string]any{
				"sku_id":    sku.ID,
				"available": sku.AvailableQuantity,
				"requested": qty,
			})
	}
	return nil
}
