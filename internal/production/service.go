package production

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/internal/costing"
	"github.com/angelmondragon/craftstock-backend/internal/ledger"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/craftstock-backend/pkg/db/types"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox"
	"github.com/angelmondragon/craftstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type txRunner interface {
	RunInTx(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error
}

// OperationObserver records the outcome of a service operation.
type OperationObserver interface {
	ObserveOperation(action string, err error)
}

// Service converts batch material into SKU units.
type Service interface {
	Produce(ctx context.Context, operator types.Operator, input ProduceInput) (*models.SkuAggregate, error)
	Feasibility(ctx context.Context, plan Plan) (*Bottleneck, error)
	Records(ctx context.Context, skuID uuid.UUID) ([]models.ProductionRecord, error)
}

// ProduceInput is one production run of Quantity SKU units.
type ProduceInput struct {
	Plan           Plan
	Quantity       int64
	Sku            SkuFields
	IdempotencyKey string
}

// SkuFields describe the SKU the run feeds. Code and Name only apply when the recipe has
// no SKU yet; costs refresh the SKU's cost snapshot on every run.
type SkuFields struct {
	Code         string
	Name         string
	LaborCost    decimal.Decimal
	CraftCost    decimal.Decimal
	SellingPrice *decimal.Decimal
	TargetMargin *decimal.Decimal
	PhotoURLs    []string
}

// Dependencies groups the collaborators of the production service.
type Dependencies struct {
	Tx          txRunner
	Records     Repository
	Batches     batches.Repository
	Skus        skus.Repository
	Ledger      ledger.Service
	Emitter     outbox.Emitter
	Invalidator batches.Invalidator
	Metrics     OperationObserver
	Logger      *logger.Logger
}

type service struct {
	tx          txRunner
	records     Repository
	batches     batches.Repository
	skus        skus.Repository
	ledger      ledger.Service
	emitter     outbox.Emitter
	invalidator batches.Invalidator
	metrics     OperationObserver
	logg        *logger.Logger
}

func NewService(deps Dependencies) (Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Records == nil {
		return nil, fmt.Errorf("production repository required")
	}
	if deps.Batches == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if deps.Skus == nil {
		return nil, fmt.Errorf("sku repository required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:          deps.Tx,
		records:     deps.Records,
		batches:     deps.Batches,
		skus:        deps.Skus,
		ledger:      deps.Ledger,
		emitter:     deps.Emitter,
		invalidator: deps.Invalidator,
		metrics:     deps.Metrics,
		logg:        logg,
	}, nil
}

func (s *service) Produce(ctx context.Context, operator types.Operator, input ProduceInput) (sku *models.SkuAggregate, err error) {
	defer func() { s.observe("produce", err) }()

	if !operator.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity required")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	signature := Signature(input.Plan)
	requestHash := hashRequest(signature, input)
	key := strings.TrimSpace(input.IdempotencyKey)

	var (
		record   *models.ProductionRecord
		replayed bool
	)
	err = s.tx.RunInTx(ctx, "production.produce", func(tx *gorm.DB) error {
		sku, record, replayed = nil, nil, false
		if key != "" {
			prior, err := s.records.WithTx(tx).FindByIdempotencyKey(ctx, operator.ID, key)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.RequestHash != requestHash {
					return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was used for a different production request").
						WithDetails(map[string]any{"idempotency_key": key})
				}
				sku, err = s.skus.WithTx(tx).FindByID(ctx, prior.SkuID)
				record, replayed = prior, true
				return err
			}
		}
		var err error
		sku, record, err = s.commit(ctx, tx, operator, input, signature, requestHash, key)
		return err
	})
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "production.produce_failed")
		return nil, err
	}

	logCtx := s.logg.WithOperator(ctx, operator.ID.String(), operator.Role)
	logCtx = s.logg.WithFields(s.logg.WithSKUID(logCtx, sku.ID.String()), map[string]any{
		"production_record_id": record.ID.String(),
		"mode":                 record.Mode,
		"quantity":             record.Quantity,
		"replayed":             replayed,
	})
	if replayed {
		s.logg.Info(logCtx, "production.replayed")
		return sku, nil
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
	s.logg.Info(logCtx, "production.commit")
	return sku, nil
}

func (s *service) commit(
	ctx context.Context,
	tx *gorm.DB,
	operator types.Operator,
	input ProduceInput,
	signature, requestHash, key string,
) (*models.SkuAggregate, *models.ProductionRecord, error) {
	// Lock order: SKU, then batches. Destroy takes them in the same order.
	existing, err := s.skus.WithTx(tx).LockBySignature(ctx, signature)
	if err != nil {
		return nil, nil, err
	}
	lines := input.Plan.Lines()
	locked, err := s.lockBatches(ctx, tx, lines)
	if err != nil {
		return nil, nil, err
	}
	if err := input.Plan.checkBatches(locked); err != nil {
		return nil, nil, err
	}

	limit := MaxProducible(lines, locked)
	if input.Quantity > limit.MaxProducible {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "requested quantity exceeds what the recipe's batches allow").
			WithDetails(map[string]any{
				"bottleneck_batch_id": limit.BatchID,
				"max_producible":      limit.MaxProducible,
				"requested":           input.Quantity,
			})
	}

	priced := make([]costing.PricedLine, 0, len(lines))
	for _, line := range lines {
		priced = append(priced, costing.PricedLine{
			BatchID:  line.BatchID,
			Quantity: line.PerUnit,
			UnitCost: locked[line.BatchID].UnitCost,
		})
	}
	breakdown, err := costing.Price(priced, input.Sku.LaborCost, input.Sku.CraftCost, input.Sku.TargetMargin, nil)
	if err != nil {
		return nil, nil, err
	}

	batchRepo := s.batches.WithTx(tx)
	qty := decimal.NewFromInt(input.Quantity)
	consumed := make([]payloads.BatchQuantity, 0, len(lines))
	for _, line := range lines {
		batch := locked[line.BatchID]
		amount := line.PerUnit.Mul(qty)
		if err := batchRepo.SetUsedQuantity(ctx, batch, batch.UsedQuantity.Add(amount)); err != nil {
			return nil, nil, err
		}
		consumed = append(consumed, payloads.BatchQuantity{BatchID: batch.ID, Quantity: amount})
	}

	sku := existing
	if sku == nil {
		if sku, err = s.createSku(ctx, tx, input, signature, breakdown); err != nil {
			return nil, nil, err
		}
	}

	record := &models.ProductionRecord{
		ID:           uuid.New(),
		SkuID:        sku.ID,
		Mode:         input.Plan.Mode(),
		Quantity:     input.Quantity,
		MaterialCost: breakdown.MaterialCost,
		LaborCost:    breakdown.LaborCost,
		CraftCost:    breakdown.CraftCost,
		TotalCost:    breakdown.TotalCost,
		OperatorID:   operator.ID,
		OperatorRole: operator.Role,
		RequestHash:  requestHash,
	}
	if key != "" {
		record.IdempotencyKey = &key
	}
	for _, line := range breakdown.Lines {
		record.Items = append(record.Items, models.ProductionRecordItem{
			SkuID:            sku.ID,
			BatchID:          line.BatchID,
			PerUnitQuantity:  line.Quantity,
			ConsumedQuantity: line.Quantity.Mul(qty),
			UnitCost:         line.UnitCost,
		})
	}
	if err := s.records.WithTx(tx).Create(ctx, record); err != nil {
		return nil, nil, err
	}

	updates := map[string]any{
		"material_cost": breakdown.MaterialCost,
		"labor_cost":    breakdown.LaborCost,
		"craft_cost":    breakdown.CraftCost,
		"total_cost":    breakdown.TotalCost,
	}
	if price := sellingPrice(input.Sku, breakdown); price.Valid {
		updates["selling_price"] = price
	}
	if _, err := s.ledger.Append(ctx, tx, sku, ledger.Transition{
		Action:             enums.LedgerActionCreate,
		Delta:              input.Quantity,
		TotalDelta:         input.Quantity,
		Operator:           operator,
		Reference:          record.ID.String(),
		ProductionRecordID: &record.ID,
		SkuUpdates:         updates,
	}); err != nil {
		return nil, nil, err
	}
	sku.MaterialCost = breakdown.MaterialCost
	sku.LaborCost = breakdown.LaborCost
	sku.CraftCost = breakdown.CraftCost
	sku.TotalCost = breakdown.TotalCost
	if price, ok := updates["selling_price"].(decimal.NullDecimal); ok {
		sku.SellingPrice = price
	}

	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductionRecorded,
			AggregateType: enums.AggregateSku,
			AggregateID:   sku.ID,
			Operator:      &operator,
			Data: payloads.ProductionRecordedEvent{
				ProductionRecordID: record.ID,
				SkuID:              sku.ID,
				Mode:               record.Mode,
				Quantity:           record.Quantity,
				TotalCost:          record.TotalCost,
				Consumed:           consumed,
			},
		}); err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue production_recorded event")
		}
	}
	return sku, record, nil
}

func (s *service) lockBatches(ctx context.Context, tx *gorm.DB, lines []RecipeLine) (map[uuid.UUID]*models.MaterialBatch, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.BatchID)
	}
	rows, err := s.batches.WithTx(tx).LockByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock batches")
	}
	locked := make(map[uuid.UUID]*models.MaterialBatch, len(rows))
	for i := range rows {
		locked[rows[i].ID] = &rows[i]
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found").
				WithDetails(map[string]any{"batch_id": id})
		}
	}
	return locked, nil
}

// createSku inserts the aggregate for a signature seen for the first time. A concurrent
// first run loses on the unique signature and retries into the locked path.
func (s *service) createSku(ctx context.Context, tx *gorm.DB, input ProduceInput, signature string, breakdown *costing.CostBreakdown) (*models.SkuAggregate, error) {
	code := strings.TrimSpace(input.Sku.Code)
	if code == "" {
		code = "SKU-" + strings.ToUpper(signature[:8])
	}
	name := strings.TrimSpace(input.Sku.Name)
	if name == "" {
		name = code
	}
	sku := &models.SkuAggregate{
		ID:                uuid.New(),
		Code:              code,
		Name:              name,
		MaterialSignature: signature,
		ProductionMode:    input.Plan.Mode(),
		MaterialCost:      breakdown.MaterialCost,
		LaborCost:         breakdown.LaborCost,
		CraftCost:         breakdown.CraftCost,
		TotalCost:         breakdown.TotalCost,
		Status:            enums.SkuStatusActive,
		PhotoURLs:         dbtypes.StringArray(input.Sku.PhotoURLs).Normalized(),
	}
	if err := s.skus.WithTx(tx).Create(ctx, sku); err != nil {
		return nil, err
	}
	return sku, nil
}

// Feasibility reports how many units the recipe allows right now. It takes no locks.
func (s *service) Feasibility(ctx context.Context, plan Plan) (*Bottleneck, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	lines := plan.Lines()
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.BatchID)
	}
	rows, err := s.batches.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batches")
	}
	found := make(map[uuid.UUID]*models.MaterialBatch, len(rows))
	for i := range rows {
		found[rows[i].ID] = &rows[i]
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found").
				WithDetails(map[string]any{"batch_id": id})
		}
	}
	if err := plan.checkBatches(found); err != nil {
		return nil, err
	}
	limit := MaxProducible(lines, found)
	return &limit, nil
}

// Records lists the cost snapshots of every run that produced the SKU, oldest first.
func (s *service) Records(ctx context.Context, skuID uuid.UUID) ([]models.ProductionRecord, error) {
	if _, err := s.skus.FindByID(ctx, skuID); err != nil {
		return nil, err
	}
	return s.records.ListBySku(ctx, skuID)
}

func (s *service) observe(action string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(action, err)
	}
}

func validateInput(input ProduceInput) error {
	if err := validatePlan(input.Plan); err != nil {
		return err
	}
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "production quantity must be positive")
	}
	if input.Sku.LaborCost.IsNegative() || input.Sku.CraftCost.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "labor and craft costs must be non-negative")
	}
	if input.Sku.SellingPrice != nil && input.Sku.TargetMargin != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "provide either a selling price or a target margin, not both")
	}
	if input.Sku.SellingPrice != nil && !input.Sku.SellingPrice.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "selling price must be positive")
	}
	return nil
}

// sellingPrice is the explicit price, else the margin-derived suggestion, else unset.
func sellingPrice(fields SkuFields, breakdown *costing.CostBreakdown) decimal.NullDecimal {
	switch {
	case fields.SellingPrice != nil:
		return decimal.NewNullDecimal(fields.SellingPrice.Round(2))
	case breakdown.SuggestedPrice != nil:
		return decimal.NewNullDecimal(*breakdown.SuggestedPrice)
	default:
		return decimal.NullDecimal{}
	}
}

type requestFingerprint struct {
	Signature    string   `json:"signature"`
	Quantity     int64    `json:"quantity"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	LaborCost    string   `json:"labor_cost"`
	CraftCost    string   `json:"craft_cost"`
	SellingPrice string   `json:"selling_price"`
	TargetMargin string   `json:"target_margin"`
	PhotoURLs    []string `json:"photo_urls"`
}

func hashRequest(signature string, input ProduceInput) string {
	fp := requestFingerprint{
		Signature: signature,
		Quantity:  input.Quantity,
		Code:      strings.TrimSpace(input.Sku.Code),
		Name:      strings.TrimSpace(input.Sku.Name),
		LaborCost: input.Sku.LaborCost.String(),
		CraftCost: input.Sku.CraftCost.String(),
		PhotoURLs: dbtypes.StringArray(input.Sku.PhotoURLs).Normalized(),
	}
	if input.Sku.SellingPrice != nil {
		fp.SellingPrice = input.Sku.SellingPrice.String()
	}
	if input.Sku.TargetMargin != nil {
		fp.TargetMargin = input.Sku.TargetMargin.String()
	}
	raw, _ := json.Marshal(fp)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
