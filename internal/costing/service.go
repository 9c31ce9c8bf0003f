package costing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

// Service previews costs against live batch data.
type Service interface {
	Calculate(ctx context.Context, input CostInput) (*CostBreakdown, error)
}

type service struct {
	batches batches.Repository
}

func NewService(batchRepo batches.Repository) (Service, error) {
	if batchRepo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	return &service{batches: batchRepo}, nil
}

func (s *service) Calculate(ctx context.Context, input CostInput) (*CostBreakdown, error) {
	ids := make([]uuid.UUID, 0, len(input.Materials))
	for _, line := range input.Materials {
		ids = append(ids, line.BatchID)
	}
	rows, err := s.batches.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batches")
	}
	snapshots := make(map[uuid.UUID]BatchSnapshot, len(rows))
	for _, b := range rows {
		snapshots[b.ID] = BatchSnapshot{ID: b.ID, UnitCost: b.UnitCost, Remaining: b.Remaining()}
	}
	return Compute(input, snapshots)
}
