package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// Payment is one-to-one with an Order. RefundedCents is the running sum of
// completed refunds and may never exceed AmountCents.
type Payment struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	AmountCents   int64               `gorm:"column:amount_cents;not null"`
	Method        enums.PaymentMethod `gorm:"column:method;not null"`
	Provider      string              `gorm:"column:provider;not null;default:'noop'"`
	ProviderRef   *string             `gorm:"column:provider_ref"`
	Status        enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	RefundedCents int64               `gorm:"column:refunded_cents;not null;default:0"`

	PlatformFeeCents int64 `gorm:"column:platform_fee_cents;not null;default:0"`
	VendorAmountCents int64 `gorm:"column:vendor_amount_cents;not null;default:0"`

	Refunds []Refund `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// RemainingRefundableCents is the amount still eligible for refund.
func (p *Payment) RemainingRefundableCents() int64 {
	return p.AmountCents - p.RefundedCents
}

// Refund is an append-only record on a payment.
type Refund struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID   uuid.UUID          `gorm:"column:payment_id;type:uuid;not null;index"`
	AmountCents int64              `gorm:"column:amount_cents;not null"`
	Reason      string             `gorm:"column:reason;not null"`
	Status      enums.RefundStatus `gorm:"column:status;not null;default:'pending'"`
	Target      enums.RefundTarget `gorm:"column:target;not null;default:'provider'"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Refund) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
