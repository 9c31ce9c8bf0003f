package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/api/responses"
	"github.com/angelmondragon/craftstock-backend/api/validators"
	"github.com/angelmondragon/craftstock-backend/internal/costing"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
)

type costLineRequest struct {
	BatchID  uuid.UUID       `json:"batch_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type costPreviewRequest struct {
	Materials    []costLineRequest `json:"materials" validate:"required,min=1,dive"`
	LaborCost    decimal.Decimal   `json:"labor_cost"`
	CraftCost    decimal.Decimal   `json:"craft_cost"`
	TargetMargin *decimal.Decimal  `json:"target_margin,omitempty"`
	TargetPrice  *decimal.Decimal  `json:"target_price,omitempty"`
}

func (r costPreviewRequest) toInput() costing.CostInput {
	lines := make([]costing.Line, 0, len(r.Materials))
	for _, m := range r.Materials {
		lines = append(lines, costing.Line{BatchID: m.BatchID, Quantity: m.Quantity})
	}
	return costing.CostInput{
		Materials:    lines,
		LaborCost:    r.LaborCost,
		CraftCost:    r.CraftCost,
		TargetMargin: r.TargetMargin,
		TargetPrice:  r.TargetPrice,
	}
}

// CostingPreview prices a prospective recipe without writing anything.
func CostingPreview(svc costing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "costing")
			return
		}

		var payload costPreviewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		breakdown, err := svc.Calculate(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, breakdown)
	}
}
