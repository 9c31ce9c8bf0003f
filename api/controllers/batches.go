package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/api/responses"
	"github.com/angelmondragon/craftstock-backend/api/validators"
	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/internal/hierarchy"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
)

type registerBatchRequest struct {
	Code             string          `json:"code,omitempty" validate:"omitempty,max=64"`
	MaterialType     string          `json:"material_type" validate:"required"`
	Specification    decimal.Decimal `json:"specification"`
	Quality          *string         `json:"quality,omitempty"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	SupplierRef      string          `json:"supplier_ref,omitempty" validate:"omitempty,max=128"`
	AcquiredAt       *time.Time      `json:"acquired_at,omitempty"`
	PhotoURLs        []string        `json:"photo_urls,omitempty" validate:"omitempty,dive,url"`
	Notes            string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

func (r registerBatchRequest) toInput() (batches.RegisterInput, error) {
	materialType, err := enums.ParseMaterialType(strings.TrimSpace(r.MaterialType))
	if err != nil {
		return batches.RegisterInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid material_type")
	}
	input := batches.RegisterInput{
		Code:             validators.SanitizeString(r.Code, 64),
		MaterialType:     materialType,
		Specification:    r.Specification,
		OriginalQuantity: r.OriginalQuantity,
		UnitCost:         r.UnitCost,
		SupplierRef:      validators.SanitizeString(r.SupplierRef, 128),
		PhotoURLs:        r.PhotoURLs,
		Notes:            validators.SanitizeString(r.Notes, 2000),
	}
	if r.Quality != nil && strings.TrimSpace(*r.Quality) != "" {
		quality, err := enums.ParseQualityGrade(strings.TrimSpace(*r.Quality))
		if err != nil {
			return batches.RegisterInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quality")
		}
		input.Quality = &quality
	}
	if r.AcquiredAt != nil {
		input.AcquiredAt = *r.AcquiredAt
	}
	return input, nil
}

// RegisterBatch records a purchased material lot.
func RegisterBatch(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "batch")
			return
		}
		op, ok := requireOperator(w, r, logg)
		if !ok {
			return
		}

		var payload registerBatchRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		batch, err := svc.Register(r.Context(), op, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

func GetBatch(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "batch")
			return
		}
		id, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}

// HierarchyTree returns the type > specification > quality rollup.
func HierarchyTree(svc hierarchy.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "hierarchy")
			return
		}
		filters, err := parseHierarchyFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tree, err := svc.Tree(r.Context(), filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tree)
	}
}

// HierarchyLeaf pages the batches under one type/specification/quality leaf.
func HierarchyLeaf(svc hierarchy.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "hierarchy")
			return
		}
		leaf, err := parseLeafFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.LeafBatches(r.Context(), leaf, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseHierarchyFilters(r *http.Request) (hierarchy.Filters, error) {
	filters := hierarchy.Filters{
		Search: validators.SanitizeString(r.URL.Query().Get("search"), 128),
	}
	for _, raw := range validators.ParseQueryList(r, "material_type") {
		filters.MaterialTypes = append(filters.MaterialTypes, enums.MaterialType(raw))
	}
	for _, raw := range validators.ParseQueryList(r, "quality") {
		filters.Qualities = append(filters.Qualities, enums.QualityGrade(raw))
	}

	var err error
	if filters.SpecMin, err = validators.ParseQueryDecimal(r, "spec_min"); err != nil {
		return hierarchy.Filters{}, err
	}
	if filters.SpecMax, err = validators.ParseQueryDecimal(r, "spec_max"); err != nil {
		return hierarchy.Filters{}, err
	}
	if filters.IncludeExhausted, err = validators.ParseQueryBool(r, "include_exhausted"); err != nil {
		return hierarchy.Filters{}, err
	}
	if filters.LowStockOnly, err = validators.ParseQueryBool(r, "low_stock_only"); err != nil {
		return hierarchy.Filters{}, err
	}
	return filters, nil
}

func parseLeafFilters(r *http.Request) (hierarchy.LeafFilters, error) {
	q := r.URL.Query()
	materialType, err := enums.ParseMaterialType(strings.TrimSpace(q.Get("material_type")))
	if err != nil {
		return hierarchy.LeafFilters{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid material_type")
	}
	spec, err := validators.ParseQueryDecimal(r, "specification")
	if err != nil {
		return hierarchy.LeafFilters{}, err
	}
	if spec == nil {
		return hierarchy.LeafFilters{}, pkgerrors.New(pkgerrors.CodeValidation, "specification is required").
			WithDetails(map[string]any{"field": "specification"})
	}
	includeExhausted, err := validators.ParseQueryBool(r, "include_exhausted")
	if err != nil {
		return hierarchy.LeafFilters{}, err
	}
	return hierarchy.LeafFilters{
		MaterialType:     materialType,
		Specification:    *spec,
		Quality:          enums.QualityGrade(strings.TrimSpace(q.Get("quality"))),
		Search:           validators.SanitizeString(q.Get("search"), 128),
		IncludeExhausted: includeExhausted,
	}, nil
}

func parsePagination(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
