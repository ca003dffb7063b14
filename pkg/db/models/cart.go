package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// Cart is owned by exactly one of CustomerID or SessionToken. Cached totals
// are a derived function of items plus applied discounts; they are recomputed
// on every mutation and never patched incrementally.
type Cart struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID   *uuid.UUID       `gorm:"column:customer_id;type:uuid;index"`
	SessionToken *string          `gorm:"column:session_token;index"`
	Status       enums.CartStatus `gorm:"column:status;not null;default:'active'"`

	SubtotalCents     int64 `gorm:"column:subtotal_cents;not null;default:0"`
	TaxCents          int64 `gorm:"column:tax_cents;not null;default:0"`
	DeliveryFeeCents  int64 `gorm:"column:delivery_fee_cents;not null;default:0"`
	PackagingFeeCents int64 `gorm:"column:packaging_fee_cents;not null;default:0"`
	ServiceFeeCents   int64 `gorm:"column:service_fee_cents;not null;default:0"`
	DiscountCents     int64 `gorm:"column:discount_cents;not null;default:0"`
	TotalCents        int64 `gorm:"column:total_cents;not null;default:0"`

	AppliedDiscounts types.AppliedDiscounts `gorm:"column:applied_discounts;type:jsonb;serializer:json"`
	Items            []CartItem             `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`

	LastActivityAt time.Time `gorm:"column:last_activity_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = time.Now().UTC()
	}
	return nil
}
