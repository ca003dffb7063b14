package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// Notification is a materialized in-app message for one recipient. EventID
// carries the originating outbox event so consumer redeliveries collapse on
// the unique index instead of duplicating rows.
type Notification struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID     *uuid.UUID      `gorm:"column:event_id;type:uuid;uniqueIndex"`
	RecipientID uuid.UUID       `gorm:"column:recipient_id;type:uuid;not null;index"`
	Role        enums.ActorRole `gorm:"column:role;not null"`
	OrderID     *uuid.UUID      `gorm:"column:order_id;type:uuid"`
	Template    string          `gorm:"column:template;not null"`
	Body        string          `gorm:"column:body;not null"`
	ReadAt      *time.Time      `gorm:"column:read_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
