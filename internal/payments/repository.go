package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

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

// FindByID loads the payment with its refund history.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Preload("Refunds").First(&payment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByOrderID loads the order's payment, or nil when none exists.
func (r *Repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Preload("Refunds").First(&payment, "order_id = ?", orderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// MarkPaidGuarded flips a pending payment to paid. Returns false when the
// payment already left pending, which makes webhook retries harmless.
func (r *Repository) MarkPaidGuarded(ctx context.Context, paymentID uuid.UUID, providerRef string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":       enums.PaymentStatusPaid,
			"provider_ref": providerRef,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ApplyRefundGuarded bumps the running refunded sum and sets the new status
// only when no concurrent refund moved it first.
func (r *Repository) ApplyRefundGuarded(ctx context.Context, payment *models.Payment, amountCents int64, newStatus enums.PaymentStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND refunded_cents = ? AND status = ?", payment.ID, payment.RefundedCents, payment.Status).
		Updates(map[string]any{
			"refunded_cents": payment.RefundedCents + amountCents,
			"status":         newStatus,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// InsertRefund appends one refund record.
func (r *Repository) InsertRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

// FindRefund loads a single refund row.
func (r *Repository) FindRefund(ctx context.Context, refundID uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).First(&refund, "id = ?", refundID).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// UpdateRefundStatus moves a refund out of pending.
func (r *Repository) UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, from, to enums.RefundStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("id = ? AND status = ?", refundID, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListPendingRefunds returns refunds awaiting a provider retry, oldest first.
func (r *Repository) ListPendingRefunds(ctx context.Context, limit int) ([]models.Refund, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.RefundStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SetOrderPaymentStatus mirrors the payment dimension onto the order row.
func (r *Repository) SetOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_status", status).Error
}
