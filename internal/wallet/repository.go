package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
)

// Repository persists wallets and their append-only transaction ledger.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByUserID loads the user's wallet, or nil when none exists.
func (r *Repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).First(&wallet, "user_id = ?", userID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// Create inserts a fresh zero-balance wallet.
func (r *Repository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

// UpdateBalanceVersioned writes the new balance only if nobody else changed
// the wallet since it was read. Returns false on a version miss.
func (r *Repository) UpdateBalanceVersioned(ctx context.Context, walletID uuid.UUID, version, newBalance int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND version = ?", walletID, version).
		Updates(map[string]any{
			"balance_cents": newBalance,
			"version":       version + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AppendTransaction inserts one immutable ledger entry.
func (r *Repository) AppendTransaction(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListTransactions returns the newest entries first.
func (r *Repository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SumTransactions derives the balance from the full ledger.
func (r *Repository) SumTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, row := range rows {
		sum += row.SignedAmountCents()
	}
	return sum, nil
}
