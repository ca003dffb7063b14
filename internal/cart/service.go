package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/promotions"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

const lockScope = "cart"

// OwnerRef identifies a cart owner: exactly one of CustomerID or
// SessionToken must be set.
type OwnerRef struct {
	CustomerID   *uuid.UUID
	SessionToken *string
}

func (o OwnerRef) Validate() error {
	hasCustomer := o.CustomerID != nil && *o.CustomerID != uuid.Nil
	hasSession := o.SessionToken != nil && *o.SessionToken != ""
	if hasCustomer == hasSession {
		return pkgerrors.New(pkgerrors.CodeValidation, "exactly one of customer id or session token required")
	}
	return nil
}

func (o OwnerRef) CustomerUUID() uuid.UUID {
	if o.CustomerID != nil {
		return *o.CustomerID
	}
	return uuid.Nil
}

// cartLocker serializes mutations on a single cart.
type cartLocker interface {
	AcquireLock(ctx context.Context, scope, id, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, scope, id, token string) error
}

// catalog is the slice of the products package the cart needs.
type catalog interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindVendors(ctx context.Context, ids []uuid.UUID) ([]models.Vendor, error)
	GetInventoryByProductID(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error)
}

// resolver validates coupon codes against a cart snapshot.
type resolver interface {
	Resolve(ctx context.Context, code string, snapshot promotions.CartSnapshot, customerID uuid.UUID) (*types.AppliedDiscount, error)
}

// Service owns the cart lifecycle. Every mutation runs under a per-cart
// lock, drops items that went stale, re-resolves applied coupons, and
// reprices the whole cart before returning it.
type Service struct {
	repo     *Repository
	catalog  catalog
	resolver resolver
	locker   cartLocker
	logg     *logger.Logger
	cfg      config.CartConfig
	checkout config.CheckoutConfig
	now      func() time.Time
}

func NewService(repo *Repository, cat catalog, res resolver, locker cartLocker, logg *logger.Logger, cfg config.CartConfig, checkout config.CheckoutConfig) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if res == nil {
		return nil, fmt.Errorf("discount resolver required")
	}
	if locker == nil {
		return nil, fmt.Errorf("cart locker required")
	}
	return &Service{
		repo:     repo,
		catalog:  cat,
		resolver: res,
		locker:   locker,
		logg:     logg,
		cfg:      cfg,
		checkout: checkout,
		now:      time.Now,
	}, nil
}

// Get returns the owner's active cart, creating one if none exists. The
// returned cart reflects a fresh cleanup and reprice.
func (s *Service) Get(ctx context.Context, owner OwnerRef) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cart, err := s.findOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		return s.refresh(ctx, owner, cart.ID)
	})
}

// AddItem puts a product into the cart at the requested quantity, clamping
// to available stock. Adding a product already in the cart replaces its
// quantity.
func (s *Service) AddItem(ctx context.Context, owner OwnerRef, productID uuid.UUID, quantity int) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	cart, err := s.findOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		product, err := s.catalog.FindByID(ctx, productID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		if !product.Active {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
		}

		clamped, err := s.clampToStock(ctx, productID, quantity)
		if err != nil {
			return nil, err
		}

		item := &models.CartItem{
			CartID:         cart.ID,
			ProductID:      product.ID,
			VendorID:       product.VendorID,
			Quantity:       clamped,
			UnitPriceCents: product.UnitPriceCents,
			LineTotalCents: product.UnitPriceCents * int64(clamped),
		}
		if err := s.repo.UpsertItem(ctx, item); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart item")
		}
		return s.refresh(ctx, owner, cart.ID)
	})
}

// UpdateItemQuantity changes the quantity of a product already in the cart.
// Quantity zero removes the item.
func (s *Service) UpdateItemQuantity(ctx context.Context, owner OwnerRef, productID uuid.UUID, quantity int) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	cart, err := s.requireActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		item := findItem(cart.Items, productID)
		if item == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		if quantity == 0 {
			if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
			}
			return s.refresh(ctx, owner, cart.ID)
		}

		clamped, err := s.clampToStock(ctx, productID, quantity)
		if err != nil {
			return nil, err
		}
		item.Quantity = clamped
		item.LineTotalCents = item.UnitPriceCents * int64(clamped)
		if err := s.repo.UpdateItem(ctx, item); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		return s.refresh(ctx, owner, cart.ID)
	})
}

// RemoveItem drops a product from the cart.
func (s *Service) RemoveItem(ctx context.Context, owner OwnerRef, productID uuid.UUID) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cart, err := s.requireActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		item := findItem(cart.Items, productID)
		if item == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
		}
		return s.refresh(ctx, owner, cart.ID)
	})
}

// ApplyDiscount resolves the coupon against the current cart and stores the
// applied discount. The same code cannot be applied twice.
func (s *Service) ApplyDiscount(ctx context.Context, owner OwnerRef, code string) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cart, err := s.requireActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		fresh, err := s.refresh(ctx, owner, cart.ID)
		if err != nil {
			return nil, err
		}
		if len(fresh.Items) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		if fresh.AppliedDiscounts.HasCode(code) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon already applied")
		}

		rates, err := s.vendorRates(ctx, fresh.Items)
		if err != nil {
			return nil, err
		}
		applied, err := s.resolver.Resolve(ctx, code, snapshotOf(fresh.Items, rates), owner.CustomerUUID())
		if err != nil {
			return nil, err
		}

		discounts := append(fresh.AppliedDiscounts, *applied)
		totals := Reprice(fresh.Items, discounts, rates, s.serviceFeeFor(fresh.Items))
		if err := s.repo.SaveTotals(ctx, fresh.ID, totals, discounts, s.now().UTC()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart totals")
		}
		return s.repo.FindByID(ctx, fresh.ID)
	})
}

// RemoveDiscount removes a previously applied coupon by code.
func (s *Service) RemoveDiscount(ctx context.Context, owner OwnerRef, code string) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cart, err := s.requireActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		if !cart.AppliedDiscounts.HasCode(code) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not applied to this cart")
		}
		rates, err := s.vendorRates(ctx, cart.Items)
		if err != nil {
			return nil, err
		}
		discounts := cart.AppliedDiscounts.Without(code)
		totals := Reprice(cart.Items, discounts, rates, s.serviceFeeFor(cart.Items))
		if err := s.repo.SaveTotals(ctx, cart.ID, totals, discounts, s.now().UTC()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart totals")
		}
		return s.repo.FindByID(ctx, cart.ID)
	})
}

// Clear removes every item and discount and marks the cart cleared.
func (s *Service) Clear(ctx context.Context, owner OwnerRef) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	cart, err := s.requireActive(ctx, owner)
	if err != nil {
		return err
	}
	_, err = s.withLock(ctx, cart.ID, func(ctx context.Context) (*models.Cart, error) {
		ids := make([]uuid.UUID, 0, len(cart.Items))
		for _, item := range cart.Items {
			ids = append(ids, item.ID)
		}
		if err := s.repo.DeleteItems(ctx, ids); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart items")
		}
		if err := s.repo.SaveTotals(ctx, cart.ID, Totals{}, types.AppliedDiscounts{}, s.now().UTC()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset cart totals")
		}
		if err := s.repo.UpdateStatus(ctx, cart.ID, enums.CartStatusCleared); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark cart cleared")
		}
		return nil, nil
	})
	return err
}

// PruneAbandoned expires carts that have been inactive past the configured
// window. Run by the sweeper job.
func (s *Service) PruneAbandoned(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.AbandonAfter)
	swept, err := s.repo.ExpireInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire abandoned carts")
	}
	if swept > 0 {
		s.logg.Info(s.logg.WithField(ctx, "carts_expired", swept), "abandoned carts expired")
	}
	return swept, nil
}

// refresh is the shared tail of every read and mutation: drop stale items,
// re-resolve applied coupons, reprice from scratch, persist, reload.
func (s *Service) refresh(ctx context.Context, owner OwnerRef, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}

	items, err := s.dropStaleItems(ctx, cart)
	if err != nil {
		return nil, err
	}
	rates, err := s.vendorRates(ctx, items)
	if err != nil {
		return nil, err
	}

	discounts := s.reResolveDiscounts(ctx, owner, cart.AppliedDiscounts, items, rates)
	totals := Reprice(items, discounts, rates, s.serviceFeeFor(items))
	if err := s.repo.SaveTotals(ctx, cart.ID, totals, discounts, s.now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart totals")
	}
	return s.repo.FindByID(ctx, cart.ID)
}

// dropStaleItems removes items whose product or vendor went inactive or
// disappeared. Stale items are cleaned up quietly; they never fail the call.
func (s *Service) dropStaleItems(ctx context.Context, cart *models.Cart) ([]models.CartItem, error) {
	if len(cart.Items) == 0 {
		return nil, nil
	}

	productIDs := make([]uuid.UUID, 0, len(cart.Items))
	vendorIDs := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		productIDs = append(productIDs, item.ProductID)
		vendorIDs = append(vendorIDs, item.VendorID)
	}
	productRows, err := s.catalog.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
	}
	vendorRows, err := s.catalog.FindVendors(ctx, vendorIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart vendors")
	}

	activeProducts := make(map[uuid.UUID]bool, len(productRows))
	for _, product := range productRows {
		activeProducts[product.ID] = product.Active
	}
	activeVendors := make(map[uuid.UUID]bool, len(vendorRows))
	for _, vendor := range vendorRows {
		activeVendors[vendor.ID] = vendor.Active
	}

	kept := make([]models.CartItem, 0, len(cart.Items))
	var stale []uuid.UUID
	for _, item := range cart.Items {
		if activeProducts[item.ProductID] && activeVendors[item.VendorID] {
			kept = append(kept, item)
			continue
		}
		stale = append(stale, item.ID)
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"cart_id":    cart.ID.String(),
			"product_id": item.ProductID.String(),
		})
		s.logg.Warn(logCtx, "dropping stale cart item")
	}
	if len(stale) > 0 {
		if err := s.repo.DeleteItems(ctx, stale); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete stale cart items")
		}
	}
	return kept, nil
}

// reResolveDiscounts re-runs every applied coupon against the current items.
// Codes that no longer resolve are dropped, never surfaced as errors.
func (s *Service) reResolveDiscounts(ctx context.Context, owner OwnerRef, current types.AppliedDiscounts, items []models.CartItem, rates map[uuid.UUID]VendorRates) types.AppliedDiscounts {
	if len(current) == 0 {
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	snapshot := snapshotOf(items, rates)
	kept := make(types.AppliedDiscounts, 0, len(current))
	for _, entry := range current {
		applied, err := s.resolver.Resolve(ctx, entry.Code, snapshot, owner.CustomerUUID())
		if err != nil {
			logCtx := s.logg.WithField(ctx, "code", entry.Code)
			s.logg.Warn(logCtx, "dropping coupon that no longer resolves")
			continue
		}
		kept = append(kept, *applied)
	}
	return kept
}

// clampToStock caps the requested quantity at available stock. No stock at
// all is a conflict the caller must surface.
func (s *Service) clampToStock(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	inventory, err := s.catalog.GetInventoryByProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeConflict, "product is out of stock")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	if inventory.AvailableQty <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeConflict, "product is out of stock")
	}
	if quantity > inventory.AvailableQty {
		return inventory.AvailableQty, nil
	}
	return quantity, nil
}

// vendorRates loads the pricing rates for every vendor present in the items.
func (s *Service) vendorRates(ctx context.Context, items []models.CartItem) (map[uuid.UUID]VendorRates, error) {
	if len(items) == 0 {
		return nil, nil
	}
	vendorIDs := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		vendorIDs = append(vendorIDs, item.VendorID)
	}
	vendors, err := s.catalog.FindVendors(ctx, vendorIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor rates")
	}
	rates := make(map[uuid.UUID]VendorRates, len(vendors))
	for _, vendor := range vendors {
		commission := vendor.CommissionRateBps
		if commission <= 0 {
			commission = s.checkout.DefaultCommissionBps
		}
		rates[vendor.ID] = VendorRates{
			DeliveryFeeCents:  vendor.DeliveryFeeCents,
			PackagingFeeCents: vendor.PackagingFeeCents,
			TaxRateBps:        vendor.TaxRateBps,
			CommissionRateBps: commission,
		}
	}
	return rates, nil
}

func (s *Service) serviceFeeFor(items []models.CartItem) int64 {
	if len(items) == 0 {
		return 0
	}
	return s.checkout.ServiceFeeCents
}

// withLock runs fn while holding the per-cart lock.
func (s *Service) withLock(ctx context.Context, cartID uuid.UUID, fn func(ctx context.Context) (*models.Cart, error)) (*models.Cart, error) {
	token := uuid.NewString()
	acquired, err := s.locker.AcquireLock(ctx, lockScope, cartID.String(), token, s.cfg.LockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire cart lock")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart is being modified, retry shortly")
	}
	defer func() {
		if err := s.locker.ReleaseLock(ctx, lockScope, cartID.String(), token); err != nil {
			s.logg.Error(ctx, "release cart lock", err)
		}
	}()
	return fn(ctx)
}

// findOrCreate returns the owner's active cart, creating it when missing.
func (s *Service) findOrCreate(ctx context.Context, owner OwnerRef) (*models.Cart, error) {
	cart, err := s.findActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		return cart, nil
	}
	fresh := &models.Cart{
		CustomerID:     owner.CustomerID,
		SessionToken:   owner.SessionToken,
		Status:         enums.CartStatusActive,
		LastActivityAt: s.now().UTC(),
	}
	if _, err := s.repo.Create(ctx, fresh); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return fresh, nil
}

// requireActive returns the owner's active cart or a not found error.
func (s *Service) requireActive(ctx context.Context, owner OwnerRef) (*models.Cart, error) {
	cart, err := s.findActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active cart")
	}
	return cart, nil
}

func (s *Service) findActive(ctx context.Context, owner OwnerRef) (*models.Cart, error) {
	var (
		cart *models.Cart
		err  error
	)
	if owner.CustomerID != nil && *owner.CustomerID != uuid.Nil {
		cart, err = s.repo.FindActiveByCustomer(ctx, *owner.CustomerID)
	} else {
		cart, err = s.repo.FindActiveBySession(ctx, *owner.SessionToken)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

// snapshotOf converts persisted items into the resolver's view of the cart.
func snapshotOf(items []models.CartItem, rates map[uuid.UUID]VendorRates) promotions.CartSnapshot {
	snapshot := promotions.CartSnapshot{
		Items:            make([]promotions.SnapshotItem, 0, len(items)),
		DeliveryFeeCents: make(map[uuid.UUID]int64),
	}
	for _, item := range items {
		snapshot.Items = append(snapshot.Items, promotions.SnapshotItem{
			ProductID:      item.ProductID,
			VendorID:       item.VendorID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
		snapshot.DeliveryFeeCents[item.VendorID] = rates[item.VendorID].DeliveryFeeCents
	}
	return snapshot
}

func findItem(items []models.CartItem, productID uuid.UUID) *models.CartItem {
	for i := range items {
		if items[i].ProductID == productID {
			return &items[i]
		}
	}
	return nil
}
