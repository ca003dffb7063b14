package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// OrderCreatedEvent signals a checkout split into per-vendor orders.
type OrderCreatedEvent struct {
	CheckoutGroupID uuid.UUID   `json:"checkout_group_id"`
	CustomerID      uuid.UUID   `json:"customer_id"`
	OrderIDs        []uuid.UUID `json:"order_ids"`
	TotalCents      int64       `json:"total_cents"`
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	VendorID    uuid.UUID         `json:"vendor_id"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	FromStatus  enums.OrderStatus `json:"from_status"`
	ToStatus    enums.OrderStatus `json:"to_status"`
	ActorRole   enums.ActorRole   `json:"actor_role"`
	Note        string            `json:"note,omitempty"`
}

// OrderDeliveredEvent carries the settlement figures computed at delivery.
type OrderDeliveredEvent struct {
	OrderID               uuid.UUID `json:"order_id"`
	OrderNumber           string    `json:"order_number"`
	VendorID              uuid.UUID `json:"vendor_id"`
	CustomerID            uuid.UUID `json:"customer_id"`
	DeliveredAt           time.Time `json:"delivered_at"`
	VendorEarningsCents   int64     `json:"vendor_earnings_cents"`
	DeliveryEarningsCents int64     `json:"delivery_earnings_cents"`
	PlatformEarningsCents int64     `json:"platform_earnings_cents"`
}

// OrderCancelledEvent is emitted whenever an order is cancelled pre-delivery.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	VendorID    uuid.UUID       `json:"vendor_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	ActorRole   enums.ActorRole `json:"actor_role"`
	CancelledAt time.Time       `json:"cancelled_at"`
	Reason      string          `json:"reason,omitempty"`
}

// PaymentConfirmedEvent reports a successful charge against an order.
type PaymentConfirmedEvent struct {
	PaymentID   uuid.UUID           `json:"payment_id"`
	OrderID     uuid.UUID           `json:"order_id"`
	AmountCents int64               `json:"amount_cents"`
	Method      enums.PaymentMethod `json:"method"`
	Provider    string              `json:"provider,omitempty"`
	ProviderRef string              `json:"provider_ref,omitempty"`
}

// PaymentRefundedEvent reports a full or partial refund.
type PaymentRefundedEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	RefundID       uuid.UUID           `json:"refund_id"`
	OrderID        uuid.UUID           `json:"order_id"`
	AmountCents    int64               `json:"amount_cents"`
	RemainingCents int64               `json:"remaining_cents"`
	Target         enums.RefundTarget  `json:"target"`
	Status         enums.PaymentStatus `json:"payment_status"`
	Reason         string              `json:"reason,omitempty"`
}

// WalletTransactionEvent mirrors a ledgered wallet movement.
type WalletTransactionEvent struct {
	WalletID          uuid.UUID                   `json:"wallet_id"`
	TransactionID     uuid.UUID                   `json:"transaction_id"`
	UserID            uuid.UUID                   `json:"user_id"`
	Type              enums.WalletTransactionType `json:"type"`
	AmountCents       int64                       `json:"amount_cents"`
	BalanceAfterCents int64                       `json:"balance_after_cents"`
	Reference         string                      `json:"reference,omitempty"`
}

// NotificationRequestedEvent asks downstream channels to alert a user.
type NotificationRequestedEvent struct {
	RecipientID uuid.UUID       `json:"recipient_id"`
	Role        enums.ActorRole `json:"role"`
	Template    string          `json:"template"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
	Body        string          `json:"body,omitempty"`
}
