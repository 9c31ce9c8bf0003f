package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/craftstock-backend/pkg/enums"
)

// LedgerEntry records one immutable stock transition of a SKU. Replaying
// QuantityDelta in Sequence order reconstructs the SKU's available quantity.
type LedgerEntry struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SkuID              uuid.UUID           `gorm:"column:sku_id;type:uuid;not null;uniqueIndex:ux_ledger_entries_sku_sequence,priority:1" json:"sku_id"`
	Sequence           int64               `gorm:"column:sequence;not null;uniqueIndex:ux_ledger_entries_sku_sequence,priority:2" json:"sequence"`
	Action             enums.LedgerAction  `gorm:"column:action;type:text;not null" json:"action"`
	QuantityDelta      int64               `gorm:"column:quantity_delta;not null" json:"quantity_delta"`
	QuantityBefore     int64               `gorm:"column:quantity_before;not null" json:"quantity_before"`
	QuantityAfter      int64               `gorm:"column:quantity_after;not null" json:"quantity_after"`
	OperatorID         uuid.UUID           `gorm:"column:operator_id;type:uuid;not null" json:"operator_id"`
	OperatorRole       string              `gorm:"column:operator_role;not null" json:"operator_role"`
	Reason             string              `gorm:"column:reason" json:"reason,omitempty"`
	Reference          string              `gorm:"column:reference" json:"reference,omitempty"`
	Buyer              string              `gorm:"column:buyer" json:"buyer,omitempty"`
	Channel            string              `gorm:"column:channel" json:"channel,omitempty"`
	UnitPrice          decimal.NullDecimal `gorm:"column:unit_price;type:numeric(18,2)" json:"unit_price"`
	RefundOfID         *uuid.UUID          `gorm:"column:refund_of_id;type:uuid;uniqueIndex:ux_ledger_entries_refund_of" json:"refund_of_id,omitempty"`
	ProductionRecordID *uuid.UUID          `gorm:"column:production_record_id;type:uuid" json:"production_record_id,omitempty"`
	ReturnPolicy       *enums.ReturnPolicy `gorm:"column:return_policy;type:text" json:"return_policy,omitempty"`
	Metadata           json.RawMessage     `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
