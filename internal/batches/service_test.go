package batches

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) { c.calls++ }

func testOperator() types.Operator {
	return types.Operator{ID: uuid.New(), Role: "owner"}
}

func TestRegisterCreatesBatch(t *testing.T) {
	db := testutil.NewDB(t)
	inv := &countingInvalidator{}
	svc, err := NewService(NewRepository(db), inv, nil)
	require.NoError(t, err)

	grade := enums.QualityAA
	batch, err := svc.Register(context.Background(), testOperator(), RegisterInput{
		MaterialType:     enums.MaterialTypeLooseBeads,
		Specification:    decimal.RequireFromString("8"),
		Quality:          &grade,
		OriginalQuantity: decimal.NewFromInt(100),
		UnitCost:         decimal.RequireFromString("2.0"),
		SupplierRef:      " SUP-1 ",
		PhotoURLs:        []string{" https://cdn/a.jpg ", ""},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(batch.Code, "LOOS-"), batch.Code)
	require.Equal(t, "SUP-1", batch.SupplierRef)
	require.Len(t, batch.PhotoURLs, 1)
	require.False(t, batch.AcquiredAt.IsZero())
	require.Equal(t, 1, inv.calls)

	stored, err := svc.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	require.True(t, stored.Remaining().Equal(decimal.NewFromInt(100)))
	require.Equal(t, enums.QualityAA, stored.QualityOrUngraded())
	require.Equal(t, []string{"https://cdn/a.jpg"}, []string(stored.PhotoURLs))
}

func TestRegisterValidation(t *testing.T) {
	db := testutil.NewDB(t)
	svc, err := NewService(NewRepository(db), nil, nil)
	require.NoError(t, err)

	bad := enums.QualityUngraded
	_, err = svc.Register(context.Background(), testOperator(), RegisterInput{
		MaterialType:     "glass",
		Specification:    decimal.NewFromInt(-1),
		Quality:          &bad,
		OriginalQuantity: decimal.Zero,
		UnitCost:         decimal.NewFromInt(-3),
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
	for _, fragment := range []string{"material_type", "specification", "quality", "original_quantity", "unit_cost"} {
		require.Contains(t, err.(*pkgerrors.Error).Unwrap().Error(), fragment)
	}

	_, err = svc.Register(context.Background(), types.Operator{}, RegisterInput{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestRegisterDuplicateCode(t *testing.T) {
	db := testutil.NewDB(t)
	svc, err := NewService(NewRepository(db), nil, nil)
	require.NoError(t, err)

	input := RegisterInput{
		Code:             "JADE-001",
		MaterialType:     enums.MaterialTypePendant,
		Specification:    decimal.NewFromInt(20),
		OriginalQuantity: decimal.NewFromInt(5),
		UnitCost:         decimal.NewFromInt(12),
	}
	_, err = svc.Register(context.Background(), testOperator(), input)
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), testOperator(), input)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestGetUnknownBatch(t *testing.T) {
	db := testutil.NewDB(t)
	svc, err := NewService(NewRepository(db), nil, nil)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(nil, nil, nil); err == nil {
		t.Fatal("expected error without repository")
	}
}
