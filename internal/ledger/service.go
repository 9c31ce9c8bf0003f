package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

// SkuWriter persists the aggregate side of an append.
type SkuWriter interface {
	Update(ctx context.Context, sku *models.SkuAggregate, updates map[string]any) error
}

// SkuWriterFactory binds a SkuWriter to the running transaction.
type SkuWriterFactory func(tx *gorm.DB) SkuWriter

// Service appends stock transitions and replays SKU history.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, sku *models.SkuAggregate, t Transition) (*models.LedgerEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	List(ctx context.Context, skuID uuid.UUID, afterSequence int64, limit int) ([]models.LedgerEntry, error)
	Replay(ctx context.Context, skuID uuid.UUID) (*ReplayResult, error)
}

// Transition is one requested stock change. TotalDelta is non-zero only for CREATE.
type Transition struct {
	Action             enums.LedgerAction
	Delta              int64
	TotalDelta         int64
	Operator           types.Operator
	Reason             string
	Reference          string
	Buyer              string
	Channel            string
	UnitPrice          decimal.NullDecimal
	RefundOfID         *uuid.UUID
	ProductionRecordID *uuid.UUID
	ReturnPolicy       *enums.ReturnPolicy
	Metadata           json.RawMessage
	// SkuUpdates are extra aggregate columns written with the quantities (cost snapshot on CREATE).
	SkuUpdates map[string]any
}

// ReplayResult is the stock reconstructed from the ledger alone.
type ReplayResult struct {
	SkuID        uuid.UUID `json:"sku_id"`
	Entries      int       `json:"entries"`
	Available    int64     `json:"available"`
	Produced     int64     `json:"produced"`
	LastSequence int64     `json:"last_sequence"`
	// ChainIntact is false when sequences have gaps or an entry's before differs from the previous after.
	ChainIntact bool `json:"chain_intact"`
}

type service struct {
	repo    Repository
	skus    SkuWriterFactory
	emitter outbox.Emitter
	logg    *logger.Logger
}

// NewService wires the ledger. emitter may be nil when the reporting feed is disabled.
func NewService(repo Repository, skus SkuWriterFactory, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if skus == nil {
		return nil, fmt.Errorf("sku writer required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, skus: skus, emitter: emitter, logg: logg}, nil
}

// Append records t against sku inside tx: the aggregate quantities and the entry are
// written together, so a decrement can never exist without its entry. sku must have
// been locked by the caller in the same transaction; it is updated in place.
func (s *service) Append(ctx context.Context, tx *gorm.DB, sku *models.SkuAggregate, t Transition) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if !t.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger action %q", t.Action))
	}
	if !t.Operator.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity required")
	}
	repo := s.repo.WithTx(tx)

	if err := s.checkHead(ctx, repo, sku); err != nil {
		return nil, err
	}

	before := sku.AvailableQuantity
	after := before + t.Delta
	total := sku.TotalQuantity + t.TotalDelta
	if after < 0 || after > total {
		err := pkgerrors.New(pkgerrors.CodeInvariantViolation, "available quantity would leave [0, total]").
			WithDetails(map[string]any{
				"sku_id": sku.ID,
				"action": t.Action,
				"before": before,
				"delta":  t.Delta,
				"after":  after,
				"total":  total,
			})
		s.logg.Error(s.logg.WithSKUID(ctx, sku.ID.String()), "ledger.invariant_violation", err)
		return nil, err
	}

	entry := &models.LedgerEntry{
		ID:                 uuid.New(),
		SkuID:              sku.ID,
		Sequence:           sku.LedgerSequence + 1,
		Action:             t.Action,
		QuantityDelta:      t.Delta,
		QuantityBefore:     before,
		QuantityAfter:      after,
		OperatorID:         t.Operator.ID,
		OperatorRole:       t.Operator.Role,
		Reason:             t.Reason,
		Reference:          t.Reference,
		Buyer:              t.Buyer,
		Channel:            t.Channel,
		UnitPrice:          t.UnitPrice,
		RefundOfID:         t.RefundOfID,
		ProductionRecordID: t.ProductionRecordID,
		ReturnPolicy:       t.ReturnPolicy,
		Metadata:           t.Metadata,
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"available_quantity": after,
		"total_quantity":     total,
		"ledger_sequence":    entry.Sequence,
	}
	for k, v := range t.SkuUpdates {
		updates[k] = v
	}
	if err := s.skus(tx).Update(ctx, sku, updates); err != nil {
		return nil, err
	}
	sku.AvailableQuantity = after
	sku.TotalQuantity = total
	sku.LedgerSequence = entry.Sequence

	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockChanged,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Operator:      &t.Operator,
			Data: payloads.StockChangedEvent{
				LedgerEntryID:  entry.ID,
				SkuID:          sku.ID,
				Sequence:       entry.Sequence,
				Action:         entry.Action,
				QuantityDelta:  entry.QuantityDelta,
				QuantityBefore: entry.QuantityBefore,
				QuantityAfter:  entry.QuantityAfter,
				Reason:         entry.Reason,
				Reference:      entry.Reference,
				Channel:        entry.Channel,
				UnitPrice:      entry.UnitPrice,
				RecordedAt:     entry.CreatedAt,
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue stock_changed event")
		}
	}

	logCtx := s.logg.WithFields(s.logg.WithSKUID(ctx, sku.ID.String()), map[string]any{
		"action":   entry.Action,
		"sequence": entry.Sequence,
		"before":   before,
		"after":    after,
	})
	s.logg.Debug(logCtx, "ledger.append")
	return entry, nil
}

// checkHead verifies the aggregate still agrees with the newest ledger entry.
func (s *service) checkHead(ctx context.Context, repo Repository, sku *models.SkuAggregate) error {
	last, err := repo.Last(ctx, sku.ID)
	if err != nil {
		return err
	}
	var wantAvailable, wantSequence int64
	if last != nil {
		wantAvailable, wantSequence = last.QuantityAfter, last.Sequence
	}
	if sku.AvailableQuantity == wantAvailable && sku.LedgerSequence == wantSequence {
		return nil
	}
	err = pkgerrors.New(pkgerrors.CodeInvariantViolation, "sku stock disagrees with its ledger").
		WithDetails(map[string]any{
			"sku_id":             sku.ID,
			"available_quantity": sku.AvailableQuantity,
			"ledger_available":   wantAvailable,
			"ledger_sequence":    sku.LedgerSequence,
			"last_sequence":      wantSequence,
		})
	s.logg.Error(s.logg.WithSKUID(ctx, sku.ID.String()), "ledger.invariant_violation", err)
	return err
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) List(ctx context.Context, skuID uuid.UUID, afterSequence int64, limit int) ([]models.LedgerEntry, error) {
	return s.repo.ListBySku(ctx, skuID, afterSequence, limit)
}

// Replay folds every entry of the SKU in sequence order.
func (s *service) Replay(ctx context.Context, skuID uuid.UUID) (*ReplayResult, error) {
	entries, err := s.repo.ListBySku(ctx, skuID, 0, 0)
	if err != nil {
		return nil, err
	}
	return Fold(skuID, entries), nil
}

// Fold replays entries that are already in sequence order.
func Fold(skuID uuid.UUID, entries []models.LedgerEntry) *ReplayResult {
	out := &ReplayResult{SkuID: skuID, Entries: len(entries), ChainIntact: true}
	for _, e := range entries {
		if e.Sequence != out.LastSequence+1 || e.QuantityBefore != out.Available || e.QuantityBefore+e.QuantityDelta != e.QuantityAfter {
			out.ChainIntact = false
		}
		out.Available += e.QuantityDelta
		if e.Action == enums.LedgerActionCreate {
			out.Produced += e.QuantityDelta
		}
		out.LastSequence = e.Sequence
	}
	return out
}
