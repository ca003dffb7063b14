package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Vendor is a seller entity. The commission rate and per-order fees frozen
// onto orders at checkout originate here.
type Vendor struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name                string    `gorm:"column:name;not null"`
	Active              bool      `gorm:"column:active;not null"`
	CommissionRateBps   int64     `gorm:"column:commission_rate_bps;not null;default:1000"`
	DeliveryFeeCents    int64     `gorm:"column:delivery_fee_cents;not null;default:0"`
	PackagingFeeCents   int64     `gorm:"column:packaging_fee_cents;not null;default:0"`
	TaxRateBps          int64     `gorm:"column:tax_rate_bps;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Vendor) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
