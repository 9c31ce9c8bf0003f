package reversal

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

// Request selects how Quantity destroyed units hand material back.
type Request struct {
	Policy   enums.ReturnPolicy
	Quantity int64
	// Custom lists explicit per-batch amounts; only valid with ReturnPolicyCustom.
	Custom []BatchAmount
}

type BatchAmount struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Outstanding is material a SKU consumed from one batch and has not returned yet.
type Outstanding struct {
	BatchID     uuid.UUID       `json:"batch_id"`
	PerUnit     decimal.Decimal `json:"per_unit"`
	Consumed    decimal.Decimal `json:"consumed"`
	Returned    decimal.Decimal `json:"returned"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Validate checks the request shape before any row is touched.
func (r Request) Validate() error {
	if !r.Policy.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "return policy must be PROPORTIONAL, CUSTOM or NONE")
	}
	if r.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "destroyed quantity must be positive")
	}
	if r.Policy != enums.ReturnPolicyCustom {
		if len(r.Custom) > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "custom return lines require the CUSTOM policy")
		}
		return nil
	}
	if len(r.Custom) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "CUSTOM policy needs at least one return line")
	}
	seen := make(map[uuid.UUID]struct{}, len(r.Custom))
	for _, line := range r.Custom {
		if _, dup := seen[line.BatchID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "each batch may appear once").
				WithDetails(map[string]any{"batch_id": line.BatchID})
		}
		seen[line.BatchID] = struct{}{}
	}
	return nil
}

// Tally folds consumption and prior returns into per-batch outstanding amounts, ordered by batch id.
func Tally(consumed []models.ProductionRecordItem, returned []models.MaterialReturn) []Outstanding {
	byBatch := make(map[uuid.UUID]*Outstanding)
	for _, item := range consumed {
		o, ok := byBatch[item.BatchID]
		if !ok {
			o = &Outstanding{BatchID: item.BatchID, Consumed: decimal.Zero, Returned: decimal.Zero}
			byBatch[item.BatchID] = o
		}
		o.Consumed = o.Consumed.Add(item.ConsumedQuantity)
		o.PerUnit = item.PerUnitQuantity
	}
	for _, ret := range returned {
		if o, ok := byBatch[ret.BatchID]; ok {
			o.Returned = o.Returned.Add(ret.Quantity)
		}
	}
	out := make([]Outstanding, 0, len(byBatch))
	for _, o := range byBatch {
		o.Outstanding = o.Consumed.Sub(o.Returned)
		if o.Outstanding.IsNegative() {
			o.Outstanding = decimal.Zero
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID.String() < out[j].BatchID.String() })
	return out
}

// Compute decides the per-batch return amounts. It has no side effects.
func Compute(req Request, outstanding []Outstanding) ([]BatchAmount, error) {
	switch req.Policy {
	case enums.ReturnPolicyNone:
		return nil, nil
	case enums.ReturnPolicyProportional:
		qty := decimal.NewFromInt(req.Quantity)
		var out []BatchAmount
		for _, o := range outstanding {
			amount := decimal.Min(o.PerUnit.Mul(qty), o.Outstanding)
			if !amount.IsPositive() {
				continue
			}
			out = append(out, BatchAmount{BatchID: o.BatchID, Quantity: amount})
		}
		return out, nil
	case enums.ReturnPolicyCustom:
		byBatch := make(map[uuid.UUID]Outstanding, len(outstanding))
		for _, o := range outstanding {
			byBatch[o.BatchID] = o
		}
		out := make([]BatchAmount, 0, len(req.Custom))
		for _, line := range req.Custom {
			o, ok := byBatch[line.BatchID]
			if !ok {
				return nil, pkgerrors.New(pkgerrors.CodeInvalidReturnQuantity, "batch is not part of this sku's recipe").
					WithDetails(map[string]any{"batch_id": line.BatchID})
			}
			if !line.Quantity.IsPositive() || line.Quantity.GreaterThan(o.Outstanding) {
				return nil, pkgerrors.New(pkgerrors.CodeInvalidReturnQuantity, "return quantity must be positive and within the outstanding consumption").
					WithDetails(map[string]any{
						"batch_id":    line.BatchID,
						"requested":   line.Quantity.String(),
						"outstanding": o.Outstanding.String(),
					})
			}
			out = append(out, line)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].BatchID.String() < out[j].BatchID.String() })
		return out, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown return policy")
	}
}
