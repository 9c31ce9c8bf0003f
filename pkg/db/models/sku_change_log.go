package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SkuChangeLog records metadata edits; these never touch stock or the ledger.
type SkuChangeLog struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SkuID        uuid.UUID `gorm:"column:sku_id;type:uuid;not null;index" json:"sku_id"`
	Field        string    `gorm:"column:field;not null" json:"field"`
	OldValue     string    `gorm:"column:old_value" json:"old_value"`
	NewValue     string    `gorm:"column:new_value" json:"new_value"`
	OperatorID   uuid.UUID `gorm:"column:operator_id;type:uuid;not null" json:"operator_id"`
	OperatorRole string    `gorm:"column:operator_role;not null" json:"operator_role"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (l *SkuChangeLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
