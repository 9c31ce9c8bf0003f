package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/craftstock-backend/pkg/db/types"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
)

// SkuAggregate holds the current stock of one sellable recipe. TotalQuantity counts
// every unit ever produced; AvailableQuantity is current stock.
type SkuAggregate struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code              string               `gorm:"column:code;not null;uniqueIndex:ux_sku_aggregates_code" json:"code"`
	Name              string               `gorm:"column:name;not null" json:"name"`
	MaterialSignature string               `gorm:"column:material_signature;not null;uniqueIndex:ux_sku_aggregates_signature" json:"material_signature"`
	ProductionMode    enums.ProductionMode `gorm:"column:production_mode;type:text;not null" json:"production_mode"`
	TotalQuantity     int64                `gorm:"column:total_quantity;not null;default:0" json:"total_quantity"`
	AvailableQuantity int64                `gorm:"column:available_quantity;not null;default:0" json:"available_quantity"`
	MaterialCost      decimal.Decimal      `gorm:"column:material_cost;type:numeric(18,4);not null" json:"material_cost"`
	LaborCost         decimal.Decimal      `gorm:"column:labor_cost;type:numeric(18,4);not null" json:"labor_cost"`
	CraftCost         decimal.Decimal      `gorm:"column:craft_cost;type:numeric(18,4);not null" json:"craft_cost"`
	TotalCost         decimal.Decimal      `gorm:"column:total_cost;type:numeric(18,4);not null" json:"total_cost"`
	SellingPrice      decimal.NullDecimal  `gorm:"column:selling_price;type:numeric(18,2)" json:"selling_price"`
	Status            enums.SkuStatus      `gorm:"column:status;type:text;not null;default:active" json:"status"`
	PhotoURLs         dbtypes.StringArray  `gorm:"column:photo_urls" json:"photo_urls"`
	LedgerSequence    int64                `gorm:"column:ledger_sequence;not null;default:0" json:"ledger_sequence"`
	Version           int64                `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (s *SkuAggregate) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Status == "" {
		s.Status = enums.SkuStatusActive
	}
	return nil
}
