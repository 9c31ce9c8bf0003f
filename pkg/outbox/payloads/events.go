package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/craftstock-backend/pkg/enums"
)

// StockChangedEvent mirrors one ledger entry for the reporting feed.
type StockChangedEvent struct {
	LedgerEntryID  uuid.UUID           `json:"ledger_entry_id"`
	SkuID          uuid.UUID           `json:"sku_id"`
	Sequence       int64               `json:"sequence"`
	Action         enums.LedgerAction  `json:"action"`
	QuantityDelta  int64               `json:"quantity_delta"`
	QuantityBefore int64               `json:"quantity_before"`
	QuantityAfter  int64               `json:"quantity_after"`
	Reason         string              `json:"reason,omitempty"`
	Reference      string              `json:"reference,omitempty"`
	Channel        string              `json:"channel,omitempty"`
	UnitPrice      decimal.NullDecimal `json:"unit_price"`
	RecordedAt     time.Time           `json:"recorded_at"`
}

// ProductionRecordedEvent summarises a committed production run.
type ProductionRecordedEvent struct {
	ProductionRecordID uuid.UUID            `json:"production_record_id"`
	SkuID              uuid.UUID            `json:"sku_id"`
	Mode               enums.ProductionMode `json:"mode"`
	Quantity           int64                `json:"quantity"`
	TotalCost          decimal.Decimal      `json:"total_cost"`
	Consumed           []BatchQuantity      `json:"consumed"`
}

// MaterialReturnedEvent lists material handed back to batches by a destroy.
type MaterialReturnedEvent struct {
	LedgerEntryID uuid.UUID          `json:"ledger_entry_id"`
	SkuID         uuid.UUID          `json:"sku_id"`
	Policy        enums.ReturnPolicy `json:"policy"`
	Returned      []BatchQuantity    `json:"returned"`
}

type BatchQuantity struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}
