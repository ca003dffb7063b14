package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// OrderAssignment binds a delivery agent to an order and tracks the courier
// sub-state independently of order status.
type OrderAssignment struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	AgentID     uuid.UUID            `gorm:"column:agent_id;type:uuid;not null;index"`
	Status      enums.DeliveryStatus `gorm:"column:status;not null;default:'assigned'"`
	AssignedAt  time.Time            `gorm:"column:assigned_at;not null"`
	PickedUpAt  *time.Time           `gorm:"column:picked_up_at"`
	DeliveredAt *time.Time           `gorm:"column:delivered_at"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *OrderAssignment) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.AssignedAt.IsZero() {
		o.AssignedAt = time.Now().UTC()
	}
	return nil
}

// DeliveryAgent carries the counters the state machine updates on completed
// deliveries. Geospatial matching lives outside the core.
type DeliveryAgent struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID              uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Active              bool      `gorm:"column:active;not null"`
	CompletedDeliveries int64     `gorm:"column:completed_deliveries;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *DeliveryAgent) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
