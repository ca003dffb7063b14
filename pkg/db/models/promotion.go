package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/gastonanderson039-glitch/supermarketpro/pkg/db/types"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// Promotion is an immutable discount rule. Scope is explicit: VendorID must
// be set when Scope is vendor and nil when global. An empty
// ApplicableProductIDs list means the promotion covers every item in scope.
type Promotion struct {
	ID    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code  *string             `gorm:"column:code;uniqueIndex"`
	Type  enums.PromotionType `gorm:"column:type;not null"`
	Scope enums.DiscountScope `gorm:"column:scope;not null;default:'global'"`

	VendorID   *uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	PercentBps int64      `gorm:"column:percent_bps;not null;default:0"`
	AmountCents int64     `gorm:"column:amount_cents;not null;default:0"`
	BuyQty     int        `gorm:"column:buy_qty;not null;default:0"`
	GetQty     int        `gorm:"column:get_qty;not null;default:0"`

	StartsAt         time.Time `gorm:"column:starts_at;not null"`
	EndsAt           time.Time `gorm:"column:ends_at;not null"`
	MinPurchaseCents int64     `gorm:"column:min_purchase_cents;not null;default:0"`
	MaxDiscountCents int64     `gorm:"column:max_discount_cents;not null;default:0"`

	PerCustomerLimit int `gorm:"column:per_customer_limit;not null;default:0"`
	TotalLimit       int `gorm:"column:total_limit;not null;default:0"`
	UsageCount       int `gorm:"column:usage_count;not null;default:0"`

	ApplicableProductIDs dbtypes.UUIDArray `gorm:"column:applicable_product_ids;type:uuid[]"`

	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Promotion) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// InWindow reports whether the promotion is live at the given instant.
func (p *Promotion) InWindow(now time.Time) bool {
	return !now.Before(p.StartsAt) && !now.After(p.EndsAt)
}

// Covers reports whether the promotion applies to the given product.
func (p *Promotion) Covers(productID uuid.UUID) bool {
	if len(p.ApplicableProductIDs) == 0 {
		return true
	}
	for _, id := range p.ApplicableProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// PromotionRedemption records one use of a promotion, backing per-customer
// usage limits.
type PromotionRedemption struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	PromotionID uuid.UUID  `gorm:"column:promotion_id;type:uuid;not null;index"`
	CustomerID  uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;index"`
	OrderID     *uuid.UUID `gorm:"column:order_id;type:uuid"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (p *PromotionRedemption) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
