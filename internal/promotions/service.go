package promotions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/money"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// SnapshotItem is the slice of a cart the resolver prices against.
type SnapshotItem struct {
	ProductID      uuid.UUID
	VendorID       uuid.UUID
	Quantity       int
	UnitPriceCents int64
	LineTotalCents int64
}

// CartSnapshot carries everything the resolver needs; it never touches the
// cart tables itself.
type CartSnapshot struct {
	Items []SnapshotItem
	// DeliveryFeeCents maps vendor to the delivery fee currently priced on
	// the cart; used by free_delivery promotions.
	DeliveryFeeCents map[uuid.UUID]int64
}

// SubtotalCents sums all item line totals.
func (s CartSnapshot) SubtotalCents() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.LineTotalCents
	}
	return total
}

// Service resolves coupon codes against cart snapshots and records
// redemptions at checkout.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds the promotions service.
func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("promotions repository required")
	}
	return &Service{repo: repo, logg: logg, now: time.Now}, nil
}

// Resolve validates the coupon against the snapshot and computes the
// discount amount. It never mutates state.
func (s *Service) Resolve(ctx context.Context, code string, snapshot CartSnapshot, customerID uuid.UUID) (*types.AppliedDiscount, error) {
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}

	promo, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon invalid")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
	}
	if !promo.Active || !promo.InWindow(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon invalid")
	}

	covered := coveredItems(promo, snapshot.Items)
	if len(covered) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon does not apply to any item in the cart")
	}

	var coveredSubtotal int64
	for _, item := range covered {
		coveredSubtotal += item.LineTotalCents
	}
	if promo.MinPurchaseCents > 0 && coveredSubtotal < promo.MinPurchaseCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("minimum purchase of %d cents not met", promo.MinPurchaseCents))
	}

	if promo.TotalLimit > 0 && promo.UsageCount >= promo.TotalLimit {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon usage limit exceeded")
	}
	if promo.PerCustomerLimit > 0 && customerID != uuid.Nil {
		used, err := s.repo.CountCustomerRedemptions(ctx, promo.ID, customerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count redemptions")
		}
		if used >= int64(promo.PerCustomerLimit) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon usage limit exceeded")
		}
	}

	amount, err := discountAmount(promo, covered, coveredSubtotal, snapshot)
	if err != nil {
		return nil, err
	}
	if promo.MaxDiscountCents > 0 {
		amount = money.Clamp(amount, 0, promo.MaxDiscountCents)
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon yields no discount for this cart")
	}

	resolved := &types.AppliedDiscount{
		PromotionID: promo.ID,
		Code:        code,
		Type:        promo.Type,
		Scope:       promo.Scope,
		AmountCents: amount,
	}
	if promo.Scope == enums.DiscountScopeVendor {
		resolved.VendorID = promo.VendorID
	}
	return resolved, nil
}

// Redeem consumes one use of the promotion inside the caller's transaction.
// The conditional increment is the race guard: two checkouts fighting over
// the last redemption cannot both win.
func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, promotionID, customerID uuid.UUID, orderID *uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	ok, err := repo.IncrementUsage(ctx, promotionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment promotion usage")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "coupon usage limit exceeded")
	}

	redemption := &models.PromotionRedemption{
		PromotionID: promotionID,
		CustomerID:  customerID,
		OrderID:     orderID,
	}
	if err := repo.InsertRedemption(ctx, redemption); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert redemption")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"promotion_id": promotionID.String(),
			"customer_id":  customerID.String(),
		})
		s.logg.Info(logCtx, "promotion redeemed")
	}
	return nil
}

// CreatePromotion validates and stores an admin-defined promotion.
func (s *Service) CreatePromotion(ctx context.Context, promo *models.Promotion) (*models.Promotion, error) {
	if !promo.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid promotion type")
	}
	if !promo.Scope.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid promotion scope")
	}
	if promo.Scope == enums.DiscountScopeVendor && promo.VendorID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor-scoped promotion requires a vendor id")
	}
	if promo.EndsAt.Before(promo.StartsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion window ends before it starts")
	}
	switch promo.Type {
	case enums.PromotionTypePercentage:
		if promo.PercentBps <= 0 || promo.PercentBps > 10000 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "percent must be between 1 and 10000 bps")
		}
	case enums.PromotionTypeFixedAmount:
		if promo.AmountCents <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "fixed amount must be positive")
		}
	case enums.PromotionTypeBuyXGetY:
		if promo.BuyQty <= 0 || promo.GetQty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "buy and get quantities must be positive")
		}
	}
	return s.repo.Create(ctx, promo)
}

// DeactivatePromotion retires a promotion.
func (s *Service) DeactivatePromotion(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id)
}

// ListPromotions exposes the admin read surface.
func (s *Service) ListPromotions(ctx context.Context, activeOnly bool, limit int) ([]models.Promotion, error) {
	return s.repo.List(ctx, activeOnly, limit)
}

// GetByCode exposes a single promotion for the public lookup route.
func (s *Service) GetByCode(ctx context.Context, code string) (*models.Promotion, error) {
	promo, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
	}
	return promo, nil
}

func coveredItems(promo *models.Promotion, items []SnapshotItem) []SnapshotItem {
	covered := make([]SnapshotItem, 0, len(items))
	for _, item := range items {
		if promo.Scope == enums.DiscountScopeVendor {
			if promo.VendorID == nil || item.VendorID != *promo.VendorID {
				continue
			}
		}
		if !promo.Covers(item.ProductID) {
			continue
		}
		covered = append(covered, item)
	}
	return covered
}

func discountAmount(promo *models.Promotion, covered []SnapshotItem, coveredSubtotal int64, snapshot CartSnapshot) (int64, error) {
	switch promo.Type {
	case enums.PromotionTypePercentage:
		return money.BpsOf(coveredSubtotal, promo.PercentBps), nil

	case enums.PromotionTypeFixedAmount:
		return money.Clamp(promo.AmountCents, 0, coveredSubtotal), nil

	case enums.PromotionTypeFreeDelivery:
		var fee int64
		if promo.Scope == enums.DiscountScopeVendor && promo.VendorID != nil {
			fee = snapshot.DeliveryFeeCents[*promo.VendorID]
		} else {
			for _, vendorFee := range snapshot.DeliveryFeeCents {
				fee += vendorFee
			}
		}
		return fee, nil

	case enums.PromotionTypeBuyXGetY:
		bundle := promo.BuyQty + promo.GetQty
		var amount int64
		for _, item := range covered {
			freeUnits := (item.Quantity / bundle) * promo.GetQty
			amount += int64(freeUnits) * item.UnitPriceCents
		}
		return amount, nil

	default:
		return 0, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unhandled promotion type %q", promo.Type))
	}
}
