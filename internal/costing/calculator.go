package costing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

var (
	hundred        = decimal.NewFromInt(100)
	pricePrecision = int32(2)
)

// Line is a proposed consumption of one batch.
type Line struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// CostInput drives a cost preview. At most one of TargetMargin (percent) and
// TargetPrice may be set.
type CostInput struct {
	Materials    []Line
	LaborCost    decimal.Decimal
	CraftCost    decimal.Decimal
	TargetMargin *decimal.Decimal
	TargetPrice  *decimal.Decimal
}

// BatchSnapshot is the batch state the calculator needs.
type BatchSnapshot struct {
	ID        uuid.UUID
	UnitCost  decimal.Decimal
	Remaining decimal.Decimal
}

// PricedLine is a line with its cost resolved.
type PricedLine struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Cost     decimal.Decimal `json:"cost"`
}

type CostBreakdown struct {
	Lines          []PricedLine     `json:"lines"`
	MaterialCost   decimal.Decimal  `json:"material_cost"`
	LaborCost      decimal.Decimal  `json:"labor_cost"`
	CraftCost      decimal.Decimal  `json:"craft_cost"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	SuggestedPrice *decimal.Decimal `json:"suggested_price,omitempty"`
	Margin         *decimal.Decimal `json:"margin,omitempty"`
}

// Compute validates the proposed consumption against batch stock and prices it.
// It has no side effects: equal inputs always yield equal breakdowns.
func Compute(input CostInput, batches map[uuid.UUID]BatchSnapshot) (*CostBreakdown, error) {
	if len(input.Materials) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one material line is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Materials))
	priced := make([]PricedLine, 0, len(input.Materials))
	for _, line := range input.Materials {
		if line.BatchID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch_id is required")
		}
		if _, dup := seen[line.BatchID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "each batch may appear once").
				WithDetails(map[string]any{"batch_id": line.BatchID})
		}
		seen[line.BatchID] = struct{}{}
		if !line.Quantity.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"batch_id": line.BatchID})
		}
		batch, ok := batches[line.BatchID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found").
				WithDetails(map[string]any{"batch_id": line.BatchID})
		}
		if line.Quantity.GreaterThan(batch.Remaining) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "batch has insufficient remaining quantity").
				WithDetails(map[string]any{
					"batch_id":  line.BatchID,
					"requested": line.Quantity.String(),
					"remaining": batch.Remaining.String(),
				})
		}
		priced = append(priced, PricedLine{
			BatchID:  line.BatchID,
			Quantity: line.Quantity,
			UnitCost: batch.UnitCost,
		})
	}
	return Price(priced, input.LaborCost, input.CraftCost, input.TargetMargin, input.TargetPrice)
}

// Price totals already-resolved lines and derives a suggested price or margin.
func Price(lines []PricedLine, labor, craft decimal.Decimal, margin, price *decimal.Decimal) (*CostBreakdown, error) {
	if labor.IsNegative() || craft.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "labor and craft costs must be non-negative")
	}
	if margin != nil && price != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide either a target margin or a target price, not both")
	}

	out := &CostBreakdown{
		Lines:     make([]PricedLine, 0, len(lines)),
		LaborCost: labor,
		CraftCost: craft,
	}
	material := decimal.Zero
	for _, line := range lines {
		line.Cost = line.UnitCost.Mul(line.Quantity)
		material = material.Add(line.Cost)
		out.Lines = append(out.Lines, line)
	}
	out.MaterialCost = material
	out.TotalCost = material.Add(labor).Add(craft)

	switch {
	case margin != nil:
		if margin.IsNegative() || margin.GreaterThanOrEqual(hundred) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("margin must be in [0, 100), got %s", margin.String()))
		}
		divisor := decimal.NewFromInt(1).Sub(margin.Div(hundred))
		suggested := out.TotalCost.Div(divisor).Round(pricePrecision)
		m := margin.Round(pricePrecision)
		out.SuggestedPrice = &suggested
		out.Margin = &m
	case price != nil:
		if !price.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "target price must be positive")
		}
		m := price.Sub(out.TotalCost).Div(*price).Mul(hundred).Round(pricePrecision)
		p := price.Round(pricePrecision)
		out.SuggestedPrice = &p
		out.Margin = &m
	}
	return out, nil
}
