package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/pkg/enums"
)

// ProductionRecord is the immutable snapshot of one production run. Costs are per SKU unit
// as they stood when the run committed.
type ProductionRecord struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SkuID          uuid.UUID              `gorm:"column:sku_id;type:uuid;not null;index" json:"sku_id"`
	Mode           enums.ProductionMode   `gorm:"column:mode;type:text;not null" json:"mode"`
	Quantity       int64                  `gorm:"column:quantity;not null" json:"quantity"`
	MaterialCost   decimal.Decimal        `gorm:"column:material_cost;type:numeric(18,4);not null" json:"material_cost"`
	LaborCost      decimal.Decimal        `gorm:"column:labor_cost;type:numeric(18,4);not null" json:"labor_cost"`
	CraftCost      decimal.Decimal        `gorm:"column:craft_cost;type:numeric(18,4);not null" json:"craft_cost"`
	TotalCost      decimal.Decimal        `gorm:"column:total_cost;type:numeric(18,4);not null" json:"total_cost"`
	OperatorID     uuid.UUID              `gorm:"column:operator_id;type:uuid;not null;uniqueIndex:ux_production_records_operator_idempotency_key,priority:1" json:"operator_id"`
	OperatorRole   string                 `gorm:"column:operator_role;not null" json:"operator_role"`
	IdempotencyKey *string                `gorm:"column:idempotency_key;uniqueIndex:ux_production_records_operator_idempotency_key,priority:2" json:"idempotency_key,omitempty"`
	RequestHash    string                 `gorm:"column:request_hash;not null" json:"-"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	Items          []ProductionRecordItem `gorm:"foreignKey:ProductionRecordID" json:"items"`
}

func (r *ProductionRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ProductionRecordItem is one batch consumed by a run.
type ProductionRecordItem struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductionRecordID uuid.UUID       `gorm:"column:production_record_id;type:uuid;not null;index" json:"production_record_id"`
	SkuID              uuid.UUID       `gorm:"column:sku_id;type:uuid;not null;index:ix_production_record_items_sku_batch" json:"sku_id"`
	BatchID            uuid.UUID       `gorm:"column:batch_id;type:uuid;not null;index:ix_production_record_items_sku_batch" json:"batch_id"`
	PerUnitQuantity    decimal.Decimal `gorm:"column:per_unit_quantity;type:numeric(18,4);not null" json:"per_unit_quantity"`
	ConsumedQuantity   decimal.Decimal `gorm:"column:consumed_quantity;type:numeric(18,4);not null" json:"consumed_quantity"`
	UnitCost           decimal.Decimal `gorm:"column:unit_cost;type:numeric(18,4);not null" json:"unit_cost"`
}

func (i *ProductionRecordItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
