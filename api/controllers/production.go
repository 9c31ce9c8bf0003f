package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/api/middleware"
	"github.com/angelmondragon/craftstock-backend/api/responses"
	"github.com/angelmondragon/craftstock-backend/api/validators"
	"github.com/angelmondragon/craftstock-backend/internal/production"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
)

type recipeLineRequest struct {
	BatchID uuid.UUID       `json:"batch_id" validate:"required"`
	PerUnit decimal.Decimal `json:"per_unit"`
}

// planRequest is the tagged production plan: batch_id for direct_transform, recipe otherwise.
type planRequest struct {
	Mode    string              `json:"mode" validate:"required,oneof=direct_transform combination_craft"`
	BatchID *uuid.UUID          `json:"batch_id,omitempty"`
	Recipe  []recipeLineRequest `json:"recipe,omitempty" validate:"omitempty,dive"`
}

func (p planRequest) toPlan() (production.Plan, error) {
	switch enums.ProductionMode(strings.TrimSpace(p.Mode)) {
	case enums.ProductionModeDirectTransform:
		if p.BatchID == nil || len(p.Recipe) > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "direct_transform takes exactly one batch_id and no recipe")
		}
		return production.DirectTransform{BatchID: *p.BatchID}, nil
	case enums.ProductionModeCombinationCraft:
		if p.BatchID != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "combination_craft takes a recipe, not batch_id")
		}
		lines := make([]production.RecipeLine, 0, len(p.Recipe))
		for _, line := range p.Recipe {
			lines = append(lines, production.RecipeLine{BatchID: line.BatchID, PerUnit: line.PerUnit})
		}
		return production.CombinationCraft{Recipe: lines}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown production mode").
		WithDetails(map[string]any{"mode": p.Mode})
}

type produceSkuRequest struct {
	Code         string           `json:"code,omitempty" validate:"omitempty,max=64"`
	Name         string           `json:"name,omitempty" validate:"omitempty,max=200"`
	LaborCost    decimal.Decimal  `json:"labor_cost"`
	CraftCost    decimal.Decimal  `json:"craft_cost"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	TargetMargin *decimal.Decimal `json:"target_margin,omitempty"`
	PhotoURLs    []string         `json:"photo_urls,omitempty" validate:"omitempty,dive,url"`
}

type produceRequest struct {
	Plan     planRequest       `json:"plan"`
	Quantity int64             `json:"quantity" validate:"required,min=1"`
	Sku      produceSkuRequest `json:"sku"`
}

// ProduceRun commits one production run. The Idempotency-Key header doubles as the
// run's durable idempotency token.
func ProduceRun(svc production.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "production")
			return
		}
		op, ok := requireOperator(w, r, logg)
		if !ok {
			return
		}

		var payload produceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := payload.Plan.toPlan()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sku, err := svc.Produce(r.Context(), op, production.ProduceInput{
			Plan:     plan,
			Quantity: payload.Quantity,
			Sku: production.SkuFields{
				Code:         validators.SanitizeString(payload.Sku.Code, 64),
				Name:         validators.SanitizeString(payload.Sku.Name, 200),
				LaborCost:    payload.Sku.LaborCost,
				CraftCost:    payload.Sku.CraftCost,
				SellingPrice: payload.Sku.SellingPrice,
				TargetMargin: payload.Sku.TargetMargin,
				PhotoURLs:    payload.Sku.PhotoURLs,
			},
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sku)
	}
}

// ProductionFeasibility reports how many units a plan could produce right now.
func ProductionFeasibility(svc production.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "production")
			return
		}

		var payload planRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := payload.toPlan()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bottleneck, err := svc.Feasibility(r.Context(), plan)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bottleneck)
	}
}

// SkuProductionRecords lists the production runs behind a SKU with their cost snapshots.
func SkuProductionRecords(svc production.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "production")
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		records, err := svc.Records(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, records)
	}
}
