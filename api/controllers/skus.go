package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/api/responses"
	"github.com/angelmondragon/craftstock-backend/api/validators"
	"github.com/angelmondragon/craftstock-backend/internal/inventory"
	"github.com/angelmondragon/craftstock-backend/internal/reversal"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

const (
	skuIDParam   = "skuId"
	entryIDParam = "entryId"
)

type patchSkuRequest struct {
	Name         *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	ClearPrice   bool             `json:"clear_price,omitempty"`
	Status       *string          `json:"status,omitempty"`
	PhotoURLs    *[]string        `json:"photo_urls,omitempty" validate:"omitempty,dive,url"`
}

func (r patchSkuRequest) toPatch() (skus.MetadataPatch, error) {
	patch := skus.MetadataPatch{
		Name:         r.Name,
		SellingPrice: r.SellingPrice,
		ClearPrice:   r.ClearPrice,
		PhotoURLs:    r.PhotoURLs,
	}
	if r.ClearPrice && r.SellingPrice != nil {
		return skus.MetadataPatch{}, pkgerrors.New(pkgerrors.CodeValidation, "selling_price and clear_price are mutually exclusive")
	}
	if r.Status != nil {
		status, err := enums.ParseSkuStatus(strings.TrimSpace(*r.Status))
		if err != nil {
			return skus.MetadataPatch{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		patch.Status = &status
	}
	return patch, nil
}

func GetSku(svc skus.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "sku")
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sku, err := svc.Get(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sku)
	}
}

// UpdateSku edits descriptive fields; stock never moves through this route.
func UpdateSku(svc skus.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "sku")
			return
		}
		op, ok := requireOperator(w, r, logg)
		if !ok {
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload patchSkuRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := payload.toPatch()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sku, err := svc.UpdateMetadata(r.Context(), op, skuID, patch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sku)
	}
}

func SkuChanges(svc skus.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "sku")
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListChanges(r.Context(), skuID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func SkuHistory(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "inventory")
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), skuID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func SkuEntry(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "inventory")
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := validators.ParseUUIDParam(r, entryIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Entry(r.Context(), skuID, entryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}

// SkuVerify replays the ledger and compares it with the stored aggregate.
func SkuVerify(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "inventory")
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Verify(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type sellRequest struct {
	Quantity  int64            `json:"quantity" validate:"required,min=1"`
	Buyer     string           `json:"buyer,omitempty" validate:"omitempty,max=200"`
	Channel   string           `json:"channel,omitempty" validate:"omitempty,max=64"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Reference string           `json:"reference,omitempty" validate:"omitempty,max=200"`
}

type batchAmountRequest struct {
	BatchID  uuid.UUID       `json:"batch_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type destroyRequest struct {
	Quantity int64                `json:"quantity" validate:"required,min=1"`
	Reason   string               `json:"reason" validate:"required,max=500"`
	Policy   string               `json:"return_policy" validate:"required"`
	Custom   []batchAmountRequest `json:"custom_returns,omitempty" validate:"omitempty,dive"`
}

type refundRequest struct {
	SaleEntryID uuid.UUID `json:"sale_entry_id" validate:"required"`
	Reason      string    `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type adjustRequest struct {
	Delta  int64  `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// SkuSell records a sale.
func SkuSell(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, func(r *http.Request, op types.Operator, skuID uuid.UUID) (*models.LedgerEntry, error) {
		var payload sellRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Sell(r.Context(), op, inventory.SellInput{
			SkuID:     skuID,
			Quantity:  payload.Quantity,
			Buyer:     validators.SanitizeString(payload.Buyer, 200),
			Channel:   validators.SanitizeString(payload.Channel, 64),
			UnitPrice: payload.UnitPrice,
			Reference: validators.SanitizeString(payload.Reference, 200),
		})
	})
}

// SkuDestroy writes units off and optionally returns their materials.
func SkuDestroy(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, func(r *http.Request, op types.Operator, skuID uuid.UUID) (*models.LedgerEntry, error) {
		var payload destroyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		policy, err := enums.ParseReturnPolicy(strings.TrimSpace(payload.Policy))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return_policy")
		}
		custom := make([]reversal.BatchAmount, 0, len(payload.Custom))
		for _, line := range payload.Custom {
			custom = append(custom, reversal.BatchAmount{BatchID: line.BatchID, Quantity: line.Quantity})
		}
		return svc.Destroy(r.Context(), op, inventory.DestroyInput{
			SkuID:    skuID,
			Quantity: payload.Quantity,
			Reason:   validators.SanitizeString(payload.Reason, 500),
			Policy:   policy,
			Custom:   custom,
		})
	})
}

// SkuRefund reverses one prior sale.
func SkuRefund(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, func(r *http.Request, op types.Operator, skuID uuid.UUID) (*models.LedgerEntry, error) {
		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Refund(r.Context(), op, inventory.RefundInput{
			SkuID:       skuID,
			SaleEntryID: payload.SaleEntryID,
			Reason:      validators.SanitizeString(payload.Reason, 500),
		})
	})
}

// SkuAdjust applies a manual correction.
func SkuAdjust(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, func(r *http.Request, op types.Operator, skuID uuid.UUID) (*models.LedgerEntry, error) {
		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Adjust(r.Context(), op, inventory.AdjustInput{
			SkuID:  skuID,
			Delta:  payload.Delta,
			Reason: validators.SanitizeString(payload.Reason, 500),
		})
	})
}

type movementFunc func(r *http.Request, op types.Operator, skuID uuid.UUID) (*models.LedgerEntry, error)

func stockMovement(svc inventory.Service, logg *logger.Logger, move movementFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "inventory")
			return
		}
		op, ok := requireOperator(w, r, logg)
		if !ok {
			return
		}
		skuID, err := validators.ParseUUIDParam(r, skuIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithSKUID(ctx, skuID.String())
		}

		entry, err := move(r.WithContext(ctx), op, skuID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}
