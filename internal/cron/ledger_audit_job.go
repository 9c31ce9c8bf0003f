package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/craftstock-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
)

const (
	defaultAuditPageSize = 200
	maxReportedDrift     = 20
)

type skuLister interface {
	ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type ledgerVerifier interface {
	Verify(ctx context.Context, skuID uuid.UUID) (*inventory.Verification, error)
}

type LedgerAuditJobParams struct {
	Logger    *logger.Logger
	Skus      skuLister
	Inventory ledgerVerifier
	PageSize  int
	Findings  FindingsRecorder
}

// NewLedgerAuditJob replays every SKU's ledger and compares it with the stored
// aggregate. Any drift fails the run with an invariant violation.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Skus == nil {
		return nil, fmt.Errorf("sku repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	}
	return &ledgerAuditJob{
		logg:      params.Logger,
		skus:      params.Skus,
		inventory: params.Inventory,
		pageSize:  pageSize,
		findings:  params.Findings,
	}, nil
}

type ledgerAuditJob struct {
	logg      *logger.Logger
	skus      skuLister
	inventory ledgerVerifier
	pageSize  int
	findings  FindingsRecorder
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	var (
		after   uuid.UUID
		checked int
		drifted []uuid.UUID
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := j.skus.ListIDs(ctx, after, j.pageSize)
		if err != nil {
			return fmt.Errorf("ledger audit: %w", err)
		}
		for _, id := range ids {
			result, err := j.inventory.Verify(ctx, id)
			if err != nil {
				return fmt.Errorf("ledger audit sku %s: %w", id, err)
			}
			checked++
			if !result.Consistent {
				drifted = append(drifted, id)
			}
		}
		if len(ids) < j.pageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	if j.findings != nil {
		j.findings.AddFindings(j.Name(), "drifted", len(drifted))
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"skus_checked": checked,
		"skus_drifted": len(drifted),
	})
	if len(drifted) == 0 {
		j.logg.Info(logCtx, "ledger audit clean")
		return nil
	}

	reported := drifted
	if len(reported) > maxReportedDrift {
		reported = reported[:maxReportedDrift]
	}
	return pkgerrors.New(pkgerrors.CodeInvariantViolation, "sku aggregates disagree with their ledgers").
		WithDetails(map[string]any{
			"drifted_count": len(drifted),
			"sku_ids":       reported,
		})
}
