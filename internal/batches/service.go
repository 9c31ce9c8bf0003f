package batches

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	dbpkg "github.com/angelmondragon/craftstock-backend/pkg/db"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/craftstock-backend/pkg/db/types"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

// Invalidator is notified after the batch set changes so cached reads can be dropped.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Service handles purchase intake and batch lookups.
type Service interface {
	Register(ctx context.Context, operator types.Operator, input RegisterInput) (*models.MaterialBatch, error)
	Get(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error)
}

// RegisterInput is the purchase intake event for one lot.
type RegisterInput struct {
	Code             string
	MaterialType     enums.MaterialType
	Specification    decimal.Decimal
	Quality          *enums.QualityGrade
	OriginalQuantity decimal.Decimal
	UnitCost         decimal.Decimal
	SupplierRef      string
	AcquiredAt       time.Time
	PhotoURLs        []string
	Notes            string
}

type service struct {
	repo        Repository
	invalidator Invalidator
	logg        *logger.Logger
	now         func() time.Time
}

// NewService wires the intake service. invalidator may be nil.
func NewService(repo Repository, invalidator Invalidator, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, invalidator: invalidator, logg: logg, now: time.Now}, nil
}

func (s *service) Register(ctx context.Context, operator types.Operator, input RegisterInput) (*models.MaterialBatch, error) {
	if !operator.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity required")
	}
	if err := validateRegister(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid batch")
	}

	acquired := input.AcquiredAt
	if acquired.IsZero() {
		acquired = s.now()
	}
	batch := &models.MaterialBatch{
		ID:               uuid.New(),
		Code:             strings.TrimSpace(input.Code),
		MaterialType:     input.MaterialType,
		Specification:    input.Specification,
		Quality:          input.Quality,
		OriginalQuantity: input.OriginalQuantity,
		UsedQuantity:     decimal.Zero,
		UnitCost:         input.UnitCost,
		SupplierRef:      strings.TrimSpace(input.SupplierRef),
		AcquiredAt:       acquired.UTC(),
		PhotoURLs:        dbtypes.StringArray(input.PhotoURLs).Normalized(),
		Notes:            strings.TrimSpace(input.Notes),
	}
	if batch.Code == "" {
		batch.Code = defaultCode(batch)
	}

	if err := s.repo.Create(ctx, batch); err != nil {
		if dbpkg.IsUniqueViolation(err, "code") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "batch code already exists").
				WithDetails(map[string]any{"code": batch.Code})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create batch")
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
	logCtx := s.logg.WithOperator(ctx, operator.ID.String(), operator.Role)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"batch_id":      batch.ID.String(),
		"material_type": batch.MaterialType,
		"quantity":      batch.OriginalQuantity.String(),
	})
	s.logg.Info(logCtx, "batches.register")
	return batch, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsRecordNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found").
				WithDetails(map[string]any{"batch_id": id})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batch")
	}
	return batch, nil
}

func validateRegister(input RegisterInput) error {
	var errs error
	if !input.MaterialType.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("material_type %q is not supported", input.MaterialType))
	}
	if input.Specification.IsNegative() {
		errs = multierr.Append(errs, fmt.Errorf("specification must be non-negative"))
	}
	if input.Quality != nil && !input.Quality.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("quality %q is not a storable grade", *input.Quality))
	}
	if !input.OriginalQuantity.IsPositive() {
		errs = multierr.Append(errs, fmt.Errorf("original_quantity must be positive"))
	}
	if input.UnitCost.IsNegative() {
		errs = multierr.Append(errs, fmt.Errorf("unit_cost must be non-negative"))
	}
	return errs
}

func defaultCode(batch *models.MaterialBatch) string {
	prefix := strings.ToUpper(strings.ReplaceAll(string(batch.MaterialType), "_", ""))
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(batch.ID.String()[:8]))
}
