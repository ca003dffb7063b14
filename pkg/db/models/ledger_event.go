package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// LedgerEvent is an append-only, order-scoped settlement record. Events are
// never edited; HasEvent checks make delivery finalization idempotent.
type LedgerEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID    uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index"`
	ActorID     uuid.UUID             `gorm:"column:actor_id;type:uuid;not null"`
	Type        enums.LedgerEventType `gorm:"column:type;not null"`
	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (l *LedgerEvent) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
