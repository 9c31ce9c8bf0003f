package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/craftstock-backend/pkg/db/types"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
)

// MaterialBatch is a purchased lot of raw material. Only production and
// material returns move UsedQuantity; rows are never deleted.
type MaterialBatch struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code             string              `gorm:"column:code;not null;uniqueIndex:ux_material_batches_code" json:"code"`
	MaterialType     enums.MaterialType  `gorm:"column:material_type;type:text;not null;index" json:"material_type"`
	Specification    decimal.Decimal     `gorm:"column:specification;type:numeric(12,3);not null" json:"specification"`
	Quality          *enums.QualityGrade `gorm:"column:quality;type:text" json:"quality,omitempty"`
	OriginalQuantity decimal.Decimal     `gorm:"column:original_quantity;type:numeric(18,4);not null" json:"original_quantity"`
	UsedQuantity     decimal.Decimal     `gorm:"column:used_quantity;type:numeric(18,4);not null;default:0" json:"used_quantity"`
	UnitCost         decimal.Decimal     `gorm:"column:unit_cost;type:numeric(18,4);not null" json:"unit_cost"`
	SupplierRef      string              `gorm:"column:supplier_ref" json:"supplier_ref,omitempty"`
	AcquiredAt       time.Time           `gorm:"column:acquired_at;not null" json:"acquired_at"`
	PhotoURLs        dbtypes.StringArray `gorm:"column:photo_urls" json:"photo_urls"`
	Notes            string              `gorm:"column:notes" json:"notes,omitempty"`
	Version          int64               `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (b *MaterialBatch) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return nil
}

// Remaining is original minus used.
func (b MaterialBatch) Remaining() decimal.Decimal {
	return b.OriginalQuantity.Sub(b.UsedQuantity)
}

// IsExhausted reports whether nothing remains.
func (b MaterialBatch) IsExhausted() bool {
	return !b.Remaining().IsPositive()
}

// QualityOrUngraded returns the grade or the ungraded bucket.
func (b MaterialBatch) QualityOrUngraded() enums.QualityGrade {
	if b.Quality == nil || *b.Quality == "" {
		return enums.QualityUngraded
	}
	return *b.Quality
}
