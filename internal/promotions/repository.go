package promotions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
)

// Repository handles promotion and redemption persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByCode loads a promotion by its coupon code.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.Promotion, error) {
	var promo models.Promotion
	if err := r.db.WithContext(ctx).First(&promo, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &promo, nil
}

// FindByID loads a promotion by ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	var promo models.Promotion
	if err := r.db.WithContext(ctx).First(&promo, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &promo, nil
}

// Create inserts a new promotion.
func (r *Repository) Create(ctx context.Context, promo *models.Promotion) (*models.Promotion, error) {
	if err := r.db.WithContext(ctx).Create(promo).Error; err != nil {
		return nil, err
	}
	return promo, nil
}

// Deactivate flips a promotion inactive without deleting history.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Promotion{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// List returns promotions, most recent first.
func (r *Repository) List(ctx context.Context, activeOnly bool, limit int) ([]models.Promotion, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var rows []models.Promotion
	err := query.Find(&rows).Error
	return rows, err
}

// CountCustomerRedemptions returns how many times the customer used the promotion.
func (r *Repository) CountCustomerRedemptions(ctx context.Context, promotionID, customerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PromotionRedemption{}).
		Where("promotion_id = ? AND customer_id = ?", promotionID, customerID).
		Count(&count).Error
	return count, err
}

// InsertRedemption records one use of the promotion.
func (r *Repository) InsertRedemption(ctx context.Context, redemption *models.PromotionRedemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}

// IncrementUsage bumps usage_count only while the total limit has headroom.
// Returns false when the limit was hit by a concurrent redemption.
func (r *Repository) IncrementUsage(ctx context.Context, promotionID uuid.UUID) (bool, error) {
	update := r.db.WithContext(ctx).
		Model(&models.Promotion{}).
		Where("id = ? AND (total_limit = 0 OR usage_count < total_limit)", promotionID).
		Update("usage_count", gorm.Expr("usage_count + 1"))
	if update.Error != nil {
		return false, update.Error
	}
	return update.RowsAffected > 0, nil
}
