package reversal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

// Engine returns material from destroyed SKU units to their source batches. It runs
// inside the destroy transaction and never opens its own.
type Engine struct {
	repo    Repository
	batches batches.Repository
	emitter outbox.Emitter
	logg    *logger.Logger
}

func NewEngine(repo Repository, batchRepo batches.Repository, emitter outbox.Emitter, logg *logger.Logger) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("reversal repository required")
	}
	if batchRepo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{repo: repo, batches: batchRepo, emitter: emitter, logg: logg}, nil
}

// Outstanding reports what the SKU can still hand back, per batch.
func (e *Engine) Outstanding(ctx context.Context, tx *gorm.DB, skuID uuid.UUID) ([]Outstanding, error) {
	repo := e.repo.WithTx(tx)
	consumed, err := repo.ConsumedBySku(ctx, skuID)
	if err != nil {
		return nil, err
	}
	returned, err := repo.ReturnedBySku(ctx, skuID)
	if err != nil {
		return nil, err
	}
	return Tally(consumed, returned), nil
}

// Apply hands material back for the DESTROY entry. With ReturnPolicyNone it writes nothing.
func (e *Engine) Apply(ctx context.Context, tx *gorm.DB, operator types.Operator, entry *models.LedgerEntry, req Request) ([]models.MaterialReturn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Policy == enums.ReturnPolicyNone {
		return nil, nil
	}
	outstanding, err := e.Outstanding(ctx, tx, entry.SkuID)
	if err != nil {
		return nil, err
	}
	amounts, err := Compute(req, outstanding)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(amounts))
	for _, a := range amounts {
		ids = append(ids, a.BatchID)
	}
	batchRepo := e.batches.WithTx(tx)
	locked, err := batchRepo.LockByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock batches")
	}
	byID := make(map[uuid.UUID]*models.MaterialBatch, len(locked))
	for i := range locked {
		byID[locked[i].ID] = &locked[i]
	}

	rows := make([]models.MaterialReturn, 0, len(amounts))
	for _, a := range amounts {
		batch, ok := byID[a.BatchID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeInvariantViolation, "consumed batch no longer exists").
				WithDetails(map[string]any{"batch_id": a.BatchID})
		}
		if err := batchRepo.SetUsedQuantity(ctx, batch, batch.UsedQuantity.Sub(a.Quantity)); err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeInvariantViolation) {
				e.logg.Error(e.logg.WithSKUID(ctx, entry.SkuID.String()), "reversal.invariant_violation", err)
			}
			return nil, err
		}
		rows = append(rows, models.MaterialReturn{
			SkuID:         entry.SkuID,
			BatchID:       a.BatchID,
			LedgerEntryID: entry.ID,
			Quantity:      a.Quantity,
		})
	}
	if err := e.repo.WithTx(tx).CreateReturns(ctx, rows); err != nil {
		return nil, err
	}

	if e.emitter != nil {
		returned := make([]payloads.BatchQuantity, 0, len(amounts))
		for _, a := range amounts {
			returned = append(returned, payloads.BatchQuantity{BatchID: a.BatchID, Quantity: a.Quantity})
		}
		if err := e.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMaterialReturned,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Operator:      &operator,
			Data: payloads.MaterialReturnedEvent{
				LedgerEntryID: entry.ID,
				SkuID:         entry.SkuID,
				Policy:        req.Policy,
				Returned:      returned,
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue material_returned event")
		}
	}

	e.logg.Debug(e.logg.WithFields(e.logg.WithSKUID(ctx, entry.SkuID.String()), map[string]any{
		"policy":  req.Policy,
		"batches": len(rows),
	}), "reversal.apply")
	return rows, nil
}
