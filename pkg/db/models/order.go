package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// Order is the settlement unit: one per vendor per checkout. Line items,
// fees, and the earnings split are frozen at creation and never re-derived
// from live product or vendor data. Status writes are guarded by the Version
// column (optimistic concurrency).
type Order struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string    `gorm:"column:order_number;uniqueIndex;not null"`
	CheckoutGroupID uuid.UUID `gorm:"column:checkout_group_id;type:uuid;not null;index"`
	CustomerID      uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	VendorID        uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`

	Status         enums.OrderStatus    `gorm:"column:status;not null;default:'pending'"`
	PaymentStatus  enums.PaymentStatus  `gorm:"column:payment_status;not null;default:'pending'"`
	DeliveryStatus *enums.DeliveryStatus `gorm:"column:delivery_status"`
	Version        int64                `gorm:"column:version;not null;default:0"`

	SubtotalCents     int64 `gorm:"column:subtotal_cents;not null"`
	TaxCents          int64 `gorm:"column:tax_cents;not null;default:0"`
	DeliveryFeeCents  int64 `gorm:"column:delivery_fee_cents;not null;default:0"`
	PackagingFeeCents int64 `gorm:"column:packaging_fee_cents;not null;default:0"`
	ServiceFeeCents   int64 `gorm:"column:service_fee_cents;not null;default:0"`
	DiscountCents     int64 `gorm:"column:discount_cents;not null;default:0"`
	TotalCents        int64 `gorm:"column:total_cents;not null"`

	CommissionRateBps     int64 `gorm:"column:commission_rate_bps;not null"`
	CommissionAmountCents int64 `gorm:"column:commission_amount_cents;not null"`
	VendorEarningsCents   int64 `gorm:"column:vendor_earnings_cents;not null"`
	DeliveryEarningsCents int64 `gorm:"column:delivery_earnings_cents;not null;default:0"`
	PlatformEarningsCents int64 `gorm:"column:platform_earnings_cents;not null"`
	EarningsFinalized     bool  `gorm:"column:earnings_finalized;not null;default:false"`

	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;not null"`
	ShippingAddress *types.Address      `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	NotifyDegraded  bool                `gorm:"column:notify_degraded;not null;default:false"`

	CancellationReason *string    `gorm:"column:cancellation_reason"`
	ReturnReason       *string    `gorm:"column:return_reason"`
	ActualDeliveryTime *time.Time `gorm:"column:actual_delivery_time"`

	Items         []OrderLineItem      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	StatusHistory []OrderStatusHistory `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment       *Payment             `gorm:"foreignKey:OrderID"`
	Assignment    *OrderAssignment     `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// CheckMoneyIdentity verifies the two order-level financial invariants:
// total == subtotal + tax + fees - discount and
// total == commission + vendorEarnings + deliveryEarnings.
func (o *Order) CheckMoneyIdentity() bool {
	breakdown := o.SubtotalCents + o.TaxCents + o.DeliveryFeeCents + o.PackagingFeeCents + o.ServiceFeeCents - o.DiscountCents
	if breakdown != o.TotalCents {
		return false
	}
	split := o.CommissionAmountCents + o.VendorEarningsCents + o.DeliveryEarningsCents
	return split == o.TotalCents
}
