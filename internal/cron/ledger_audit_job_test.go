package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/craftstock-backend/internal/app"
	"github.com/angelmondragon/craftstock-backend/internal/inventory"
	"github.com/angelmondragon/craftstock-backend/internal/production"
	"github.com/angelmondragon/craftstock-backend/internal/skus"
	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type pagedLister struct {
	ids   []uuid.UUID
	pages int
}

func (p *pagedLister) ListIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	p.pages++
	start := 0
	if after != uuid.Nil {
		for i, id := range p.ids {
			if id == after {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(p.ids) {
		end = len(p.ids)
	}
	return p.ids[start:end], nil
}

type stubVerifier struct {
	drifted map[uuid.UUID]bool
	err     error
	calls   int
}

func (s *stubVerifier) Verify(_ context.Context, skuID uuid.UUID) (*inventory.Verification, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &inventory.Verification{SkuID: skuID, Consistent: !s.drifted[skuID]}, nil
}

func TestLedgerAuditJobPagesThroughAllSkus(t *testing.T) {
	lister := &pagedLister{ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}}
	verifier := &stubVerifier{}
	job, err := NewLedgerAuditJob(LedgerAuditJobParams{
		Logger:    testLogger(),
		Skus:      lister,
		Inventory: verifier,
		PageSize:  2,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, 5, verifier.calls)
	require.Equal(t, 3, lister.pages)
}

func TestLedgerAuditJobReportsDrift(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	findings := countingFindings{}
	job, err := NewLedgerAuditJob(LedgerAuditJobParams{
		Logger:    testLogger(),
		Skus:      &pagedLister{ids: ids},
		Inventory: &stubVerifier{drifted: map[uuid.UUID]bool{ids[1]: true}},
		Findings:  findings,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeInvariantViolation, pkgerrors.As(err).Code())
	require.Equal(t, 1, findings["ledger-audit/drifted"])
}

func TestLedgerAuditJobStopsOnVerifyError(t *testing.T) {
	job, err := NewLedgerAuditJob(LedgerAuditJobParams{
		Logger:    testLogger(),
		Skus:      &pagedLister{ids: []uuid.UUID{uuid.New()}},
		Inventory: &stubVerifier{err: errors.New("db down")},
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

func TestLedgerAuditJobDetectsTamperedAggregate(t *testing.T) {
	client, conn := testutil.NewClient(t)
	services, err := app.NewServices(app.Options{
		DB: client,
		Inventory: config.InventoryConfig{
			LowStockThreshold: decimal.NewFromInt(10),
			HistoryPageSize:   50,
		},
	})
	require.NoError(t, err)

	batch := &models.MaterialBatch{
		Code:             "B-AUDIT",
		MaterialType:     enums.MaterialTypeLooseBeads,
		Specification:    decimal.NewFromInt(8),
		OriginalQuantity: decimal.NewFromInt(100),
		UsedQuantity:     decimal.Zero,
		UnitCost:         decimal.RequireFromString("0.5"),
		AcquiredAt:       time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, conn.Create(batch).Error)

	operator := types.Operator{ID: uuid.New(), Role: "clerk"}
	sku, err := services.Production.Produce(context.Background(), operator, production.ProduceInput{
		Plan:     production.CombinationCraft{Recipe: []production.RecipeLine{{BatchID: batch.ID, PerUnit: decimal.NewFromInt(5)}}},
		Quantity: 4,
	})
	require.NoError(t, err)

	job, err := NewLedgerAuditJob(LedgerAuditJobParams{
		Logger:    testLogger(),
		Skus:      skus.NewRepository(conn),
		Inventory: services.Inventory,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	require.NoError(t, conn.Model(&models.SkuAggregate{}).
		Where("id = ?", sku.ID).
		Update("available_quantity", 9).Error)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeInvariantViolation, pkgerrors.As(err).Code())
}
