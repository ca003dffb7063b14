package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// Wallet holds a non-negative balance derived from its append-only
// transaction ledger. Mutations are version-checked so concurrent debits
// cannot both pass the zero floor.
type Wallet struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	Version      int64     `gorm:"column:version;not null;default:0"`

	Transactions []WalletTransaction `gorm:"foreignKey:WalletID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// WalletTransaction is one immutable ledger entry with the balance snapshot
// taken after the entry was applied.
type WalletTransaction struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	WalletID          uuid.UUID                   `gorm:"column:wallet_id;type:uuid;not null;index"`
	Type              enums.WalletTransactionType `gorm:"column:type;not null"`
	AmountCents       int64                       `gorm:"column:amount_cents;not null"`
	BalanceAfterCents int64                       `gorm:"column:balance_after_cents;not null"`
	Reference         *string                     `gorm:"column:reference"`
	CreatedAt         time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (w *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// SignedAmountCents returns the ledger-signed amount of the entry.
func (w WalletTransaction) SignedAmountCents() int64 {
	if w.Type.Debits() {
		return -w.AmountCents
	}
	return w.AmountCents
}
