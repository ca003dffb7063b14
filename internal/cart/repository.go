package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// Repository persists carts and cart items.
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

// FindByID loads a cart with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&cart, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindActiveByCustomer returns the customer's active cart, or nil when none
// exists.
func (r *Repository) FindActiveByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ? AND status = ?", customerID, enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// FindActiveBySession returns the guest session's active cart, or nil when
// none exists.
func (r *Repository) FindActiveBySession(ctx context.Context, sessionToken string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("session_token = ? AND status = ?", sessionToken, enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// Create inserts a fresh cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

// UpsertItem inserts the item or, when the cart already holds the product,
// replaces the existing row's quantity and totals.
func (r *Repository) UpsertItem(ctx context.Context, item *models.CartItem) error {
	var existing models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", item.CartID, item.ProductID).
		First(&existing).Error
	switch {
	case err == nil:
		existing.Quantity = item.Quantity
		existing.UnitPriceCents = item.UnitPriceCents
		existing.LineTotalCents = item.LineTotalCents
		*item = existing
		return r.db.WithContext(ctx).Save(&existing).Error
	case err == gorm.ErrRecordNotFound:
		return r.db.WithContext(ctx).Create(item).Error
	default:
		return err
	}
}

// UpdateItem saves quantity and totals on an existing item row.
func (r *Repository) UpdateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Model(&models.CartItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"quantity":         item.Quantity,
			"line_total_cents": item.LineTotalCents,
			"unit_price_cents": item.UnitPriceCents,
		}).Error
}

// DeleteItem removes a single item row.
func (r *Repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.CartItem{}, "id = ?", itemID).Error
}

// DeleteItems removes the given item rows in one statement.
func (r *Repository) DeleteItems(ctx context.Context, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Delete(&models.CartItem{}, "id IN ?", itemIDs).Error
}

// DeleteVendorItems removes every item a vendor contributed to the cart.
// Checkout uses it to drop converted items out of the cart.
func (r *Repository) DeleteVendorItems(ctx context.Context, cartID, vendorID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&models.CartItem{}, "cart_id = ? AND vendor_id = ?", cartID, vendorID).Error
}

// SaveTotals writes the repriced totals, applied discounts, and activity
// stamp onto the cart row.
func (r *Repository) SaveTotals(ctx context.Context, cartID uuid.UUID, totals Totals, discounts types.AppliedDiscounts, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("id = ?", cartID).
		Select("subtotal_cents", "tax_cents", "delivery_fee_cents", "packaging_fee_cents",
			"service_fee_cents", "discount_cents", "total_cents", "applied_discounts", "last_activity_at").
		Updates(models.Cart{
			SubtotalCents:     totals.SubtotalCents,
			TaxCents:          totals.TaxCents,
			DeliveryFeeCents:  totals.DeliveryFeeCents,
			PackagingFeeCents: totals.PackagingFeeCents,
			ServiceFeeCents:   totals.ServiceFeeCents,
			DiscountCents:     totals.DiscountCents,
			TotalCents:        totals.TotalCents,
			AppliedDiscounts:  discounts,
			LastActivityAt:    now,
		}).Error
}

// UpdateStatus moves the cart to a new lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, cartID uuid.UUID, status enums.CartStatus) error {
	return r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("status", status).Error
}

// ExpireInactiveBefore marks active carts untouched since the cutoff as
// expired and returns how many were swept.
func (r *Repository) ExpireInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("status = ? AND last_activity_at < ?", enums.CartStatusActive, cutoff).
		Update("status", enums.CartStatusExpired)
	return result.RowsAffected, result.Error
}
