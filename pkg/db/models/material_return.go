package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MaterialReturn is the quantity handed back to one batch by a DESTROY entry.
type MaterialReturn struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SkuID         uuid.UUID       `gorm:"column:sku_id;type:uuid;not null;index:ix_material_returns_sku_batch" json:"sku_id"`
	BatchID       uuid.UUID       `gorm:"column:batch_id;type:uuid;not null;index:ix_material_returns_sku_batch" json:"batch_id"`
	LedgerEntryID uuid.UUID       `gorm:"column:ledger_entry_id;type:uuid;not null;index" json:"ledger_entry_id"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:numeric(18,4);not null" json:"quantity"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (r *MaterialReturn) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
