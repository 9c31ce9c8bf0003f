package skus

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

func newSkuService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := testutil.NewClient(t)
	svc, err := NewService(NewRepository(conn), client, nil)
	require.NoError(t, err)
	return svc, conn
}

func seed(t *testing.T, conn *gorm.DB) *models.SkuAggregate {
	t.Helper()
	sku := &models.SkuAggregate{
		Code:              "BRC-0001",
		Name:              "Rose quartz bracelet",
		MaterialSignature: "sig-" + uuid.NewString(),
		ProductionMode:    enums.ProductionModeCombinationCraft,
		TotalQuantity:     3,
		AvailableQuantity: 3,
		MaterialCost:      decimal.NewFromInt(4),
		LaborCost:         decimal.NewFromInt(2),
		CraftCost:         decimal.NewFromInt(1),
		TotalCost:         decimal.NewFromInt(7),
	}
	require.NoError(t, conn.Create(sku).Error)
	return sku
}

func owner() types.Operator {
	return types.Operator{ID: uuid.New(), Role: "owner"}
}

func TestUpdateMetadataRecordsChanges(t *testing.T) {
	svc, conn := newSkuService(t)
	sku := seed(t, conn)
	ctx := context.Background()

	name := "  Rose quartz cuff "
	price := decimal.RequireFromString("19.999")
	updated, err := svc.UpdateMetadata(ctx, owner(), sku.ID, MetadataPatch{Name: &name, SellingPrice: &price})
	require.NoError(t, err)
	require.Equal(t, "Rose quartz cuff", updated.Name)
	require.True(t, updated.SellingPrice.Valid)
	require.Equal(t, "20.00", updated.SellingPrice.Decimal.StringFixed(2))

	stored, err := svc.Get(ctx, sku.ID)
	require.NoError(t, err)
	require.Equal(t, "Rose quartz cuff", stored.Name)
	require.Equal(t, int64(3), stored.AvailableQuantity)
	require.Equal(t, int64(2), stored.Version)

	page, err := svc.ListChanges(ctx, sku.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Changes, 2)
	fields := map[string]models.SkuChangeLog{}
	for _, c := range page.Changes {
		fields[c.Field] = c
	}
	require.Equal(t, "Rose quartz bracelet", fields["name"].OldValue)
	require.Equal(t, "", fields["selling_price"].OldValue)
	require.Equal(t, "20.00", fields["selling_price"].NewValue)

	var entries int64
	require.NoError(t, conn.Model(&models.LedgerEntry{}).Count(&entries).Error)
	require.Zero(t, entries)
}

func TestUpdateMetadataNoopWritesNothing(t *testing.T) {
	svc, conn := newSkuService(t)
	sku := seed(t, conn)

	same := sku.Name
	updated, err := svc.UpdateMetadata(context.Background(), owner(), sku.ID, MetadataPatch{Name: &same})
	require.NoError(t, err)
	require.Equal(t, sku.Version, updated.Version)

	page, err := svc.ListChanges(context.Background(), sku.ID, pagination.Params{})
	require.NoError(t, err)
	require.Empty(t, page.Changes)
}

func TestUpdateMetadataStatusAndPaging(t *testing.T) {
	svc, conn := newSkuService(t)
	sku := seed(t, conn)
	ctx := context.Background()

	inactive := enums.SkuStatusInactive
	photos := []string{" https://cdn/sku.jpg ", ""}
	_, err := svc.UpdateMetadata(ctx, owner(), sku.ID, MetadataPatch{Status: &inactive, PhotoURLs: &photos})
	require.NoError(t, err)

	page, err := svc.ListChanges(ctx, sku.ID, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	require.NotEmpty(t, page.NextCursor)

	stored, err := svc.Get(ctx, sku.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SkuStatusInactive, stored.Status)
	require.Equal(t, []string{"https://cdn/sku.jpg"}, []string(stored.PhotoURLs))
}

func TestUpdateMetadataValidation(t *testing.T) {
	svc, conn := newSkuService(t)
	sku := seed(t, conn)
	ctx := context.Background()

	blank := " "
	_, err := svc.UpdateMetadata(ctx, owner(), sku.ID, MetadataPatch{Name: &blank})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)

	negative := decimal.NewFromInt(-1)
	_, err = svc.UpdateMetadata(ctx, owner(), sku.ID, MetadataPatch{SellingPrice: &negative})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)

	bogus := enums.SkuStatus("archived")
	_, err = svc.UpdateMetadata(ctx, owner(), sku.ID, MetadataPatch{Status: &bogus})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)

	_, err = svc.UpdateMetadata(ctx, types.Operator{}, sku.ID, MetadataPatch{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized), err)

	_, err = svc.UpdateMetadata(ctx, owner(), uuid.New(), MetadataPatch{Name: &sku.Name})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), err)
}

func TestRepositoryCreateMapsUniqueViolations(t *testing.T) {
	conn := testutil.NewDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	first := seed(t, conn)

	dupSignature := &models.SkuAggregate{
		Code: "BRC-0002", Name: "dup", MaterialSignature: first.MaterialSignature,
		ProductionMode: enums.ProductionModeCombinationCraft,
	}
	err := repo.Create(ctx, dupSignature)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConcurrencyConflict), err)

	dupCode := &models.SkuAggregate{
		Code: first.Code, Name: "dup", MaterialSignature: "other",
		ProductionMode: enums.ProductionModeCombinationCraft,
	}
	err = repo.Create(ctx, dupCode)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), err)

	missing, err := repo.LockBySignature(ctx, "absent")
	require.NoError(t, err)
	require.Nil(t, missing)
}
