package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderCounter backs the human-legible daily order number sequence. One row
// per (vendor, day); LastSeq is advanced with an atomic upsert-increment.
type OrderCounter struct {
	VendorID  uuid.UUID `gorm:"column:vendor_id;type:uuid;primaryKey"`
	Day       string    `gorm:"column:day;primaryKey"`
	LastSeq   int64     `gorm:"column:last_seq;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
