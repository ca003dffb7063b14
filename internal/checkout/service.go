package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/products"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/promotions"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/metrics"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/money"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// discountResolver is the slice of the promotions service checkout needs.
type discountResolver interface {
	Resolve(ctx context.Context, code string, snapshot promotions.CartSnapshot, customerID uuid.UUID) (*types.AppliedDiscount, error)
	Redeem(ctx context.Context, tx *gorm.DB, promotionID, customerID uuid.UUID, orderID *uuid.UUID) error
}

// CheckoutInput is what the buyer supplies to convert a cart.
type CheckoutInput struct {
	ShippingAddress types.Address
	PaymentMethod   enums.PaymentMethod
}

// VendorFailure reports one vendor whose slice of the cart could not convert.
// Failed vendors never prevent other vendors' orders from being created.
type VendorFailure struct {
	VendorID   uuid.UUID
	Reason     string
	ProductIDs []uuid.UUID
}

// CheckoutResult carries the orders that were created and the vendors that
// failed. Both lists can be non-empty at once.
type CheckoutResult struct {
	CheckoutGroupID uuid.UUID
	Orders          []models.Order
	Failures        []VendorFailure
}

// Service converts an active cart into per-vendor orders. Each vendor is
// processed in its own transaction so one vendor's stock problem cannot roll
// back another vendor's order.
type Service struct {
	tx      txRunner
	carts   *cart.Repository
	catalog *products.Repository
	promos  discountResolver
	outbox  outboxPublisher
	metrics *metrics.DomainMetrics
	logg    *logger.Logger
	cfg     config.CheckoutConfig
	now     func() time.Time
}

func NewService(
	tx txRunner,
	carts *cart.Repository,
	catalog *products.Repository,
	promos discountResolver,
	ob outboxPublisher,
	domainMetrics *metrics.DomainMetrics,
	logg *logger.Logger,
	cfg config.CheckoutConfig,
) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if promos == nil {
		return nil, fmt.Errorf("discount resolver required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Service{
		tx:      tx,
		carts:   carts,
		catalog: catalog,
		promos:  promos,
		outbox:  ob,
		metrics: domainMetrics,
		logg:    logg,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Execute converts the owner's active cart into one order per vendor.
// Upfront validation failures return an error; per-vendor problems are
// reported in the result's Failures list instead.
func (s *Service) Execute(ctx context.Context, owner cart.OwnerRef, input CheckoutInput) (*CheckoutResult, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if owner.CustomerUUID() == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to place an order")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	activeCart, err := s.loadActiveCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	if activeCart == nil || len(activeCart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	vendors, err := s.loadVendors(ctx, activeCart.Items)
	if err != nil {
		return nil, err
	}
	productsByID, err := s.loadProducts(ctx, activeCart.Items)
	if err != nil {
		return nil, err
	}

	rates := vendorRates(vendors, s.cfg.DefaultCommissionBps)
	discounts := s.reResolveDiscounts(ctx, owner, activeCart, rates)
	totals := cart.Reprice(activeCart.Items, discounts, rates, s.cfg.ServiceFeeCents)

	// A cart-wide discount and the service fee cannot live on one vendor
	// order; both are split across vendor orders pro-rata by subtotal so the
	// parts sum exactly to the cart-level figures.
	weights := make([]money.Cents, len(totals.Vendors))
	for i, vt := range totals.Vendors {
		weights[i] = vt.SubtotalCents
	}
	globalShares := money.Allocate(discounts.GlobalCents(), weights)
	serviceShares := money.Allocate(totals.ServiceFeeCents, weights)

	itemsByVendor := make(map[uuid.UUID][]models.CartItem)
	for _, item := range activeCart.Items {
		itemsByVendor[item.VendorID] = append(itemsByVendor[item.VendorID], item)
	}

	result := &CheckoutResult{CheckoutGroupID: uuid.New()}
	globalRedeemed := false
	for i, vt := range totals.Vendors {
		order, failure := s.convertVendor(ctx, vendorConversion{
			group:         result.CheckoutGroupID,
			owner:         owner,
			cartID:        activeCart.ID,
			totals:        vt,
			globalShare:   globalShares[i],
			serviceShare:  serviceShares[i],
			rate:          rates[vt.VendorID],
			items:         itemsByVendor[vt.VendorID],
			products:      productsByID,
			discounts:     discounts,
			input:         input,
			redeemGlobals: !globalRedeemed,
		})
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			s.metrics.IncCheckoutFailure(failure.Reason)
			continue
		}
		result.Orders = append(result.Orders, *order)
		globalRedeemed = true
		s.metrics.IncOrdersCreated(string(input.PaymentMethod))
	}

	if len(result.Orders) > 0 {
		if err := s.finishCart(ctx, activeCart.ID, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

type vendorConversion struct {
	group         uuid.UUID
	owner         cart.OwnerRef
	cartID        uuid.UUID
	totals        cart.VendorTotals
	globalShare   int64
	serviceShare  int64
	rate          cart.VendorRates
	items         []models.CartItem
	products      map[uuid.UUID]models.Product
	discounts     types.AppliedDiscounts
	input         CheckoutInput
	redeemGlobals bool
}

// convertVendor runs one vendor's conversion in its own transaction. A nil
// failure means the order was created and committed.
func (s *Service) convertVendor(ctx context.Context, conv vendorConversion) (*models.Order, *VendorFailure) {
	var created models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requests := make([]products.InventoryReservationRequest, 0, len(conv.items))
		for _, item := range conv.items {
			requests = append(requests, products.InventoryReservationRequest{
				CartItemID: item.ID,
				ProductID:  item.ProductID,
				Qty:        item.Quantity,
			})
		}
		results, err := products.ReserveInventory(ctx, tx, requests)
		if err != nil {
			return err
		}
		var shortages []uuid.UUID
		for _, res := range results {
			if !res.Reserved {
				shortages = append(shortages, res.ProductID)
			}
		}
		if len(shortages) > 0 {
			return &insufficientStockError{productIDs: shortages}
		}

		now := s.now().UTC()
		number, err := NextOrderNumber(ctx, tx, conv.totals.VendorID, now)
		if err != nil {
			return err
		}

		order := buildOrder(conv, number)
		if err := tx.WithContext(ctx).Create(order).Error; err != nil {
			return err
		}

		payment := models.Payment{
			OrderID:           order.ID,
			AmountCents:       order.TotalCents,
			Method:            conv.input.PaymentMethod,
			Status:            enums.PaymentStatusPending,
			PlatformFeeCents:  order.PlatformEarningsCents,
			VendorAmountCents: order.VendorEarningsCents,
		}
		if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
			return err
		}
		order.Payment = &payment

		if err := s.redeemDiscounts(ctx, tx, conv, order.ID); err != nil {
			return err
		}
		if err := s.carts.WithTx(tx).DeleteVendorItems(ctx, conv.cartID, conv.totals.VendorID); err != nil {
			return err
		}

		created = *order
		return nil
	})
	if err == nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     created.ID.String(),
			"order_number": created.OrderNumber,
			"vendor_id":    created.VendorID.String(),
		})
		s.logg.Info(logCtx, "order created")
		return &created, nil
	}

	if stockErr, ok := err.(*insufficientStockError); ok {
		return nil, &VendorFailure{
			VendorID:   conv.totals.VendorID,
			Reason:     "insufficient_stock",
			ProductIDs: stockErr.productIDs,
		}
	}
	logCtx := s.logg.WithField(ctx, "vendor_id", conv.totals.VendorID.String())
	s.logg.Error(logCtx, "vendor checkout failed", err)
	return nil, &VendorFailure{VendorID: conv.totals.VendorID, Reason: "internal_error"}
}

// buildOrder freezes the money breakdown and the earnings split. Both order
// invariants hold by construction:
// total = subtotal - discount + tax + fees, and
// total = commission + vendorEarnings + deliveryEarnings.
func buildOrder(conv vendorConversion, number string) *models.Order {
	total := conv.totals.TotalCents - conv.globalShare + conv.serviceShare
	commission := money.BpsOf(total, conv.rate.CommissionRateBps)
	deliveryEarnings := conv.totals.DeliveryFeeCents
	vendorEarnings := total - commission - deliveryEarnings

	lines := make([]models.OrderLineItem, 0, len(conv.items))
	for _, item := range conv.items {
		product := conv.products[item.ProductID]
		lines = append(lines, models.OrderLineItem{
			ProductID:      item.ProductID,
			Name:           product.Name,
			SKU:            product.SKU,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.LineTotalCents,
		})
	}

	shipping := conv.input.ShippingAddress
	return &models.Order{
		OrderNumber:     number,
		CheckoutGroupID: conv.group,
		CustomerID:      conv.owner.CustomerUUID(),
		VendorID:        conv.totals.VendorID,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,

		SubtotalCents:     conv.totals.SubtotalCents,
		TaxCents:          conv.totals.TaxCents,
		DeliveryFeeCents:  conv.totals.DeliveryFeeCents,
		PackagingFeeCents: conv.totals.PackagingFeeCents,
		ServiceFeeCents:   conv.serviceShare,
		DiscountCents:     conv.totals.DiscountCents + conv.globalShare,
		TotalCents:        total,

		CommissionRateBps:     conv.rate.CommissionRateBps,
		CommissionAmountCents: commission,
		VendorEarningsCents:   vendorEarnings,
		DeliveryEarningsCents: deliveryEarnings,
		PlatformEarningsCents: commission,

		PaymentMethod:   conv.input.PaymentMethod,
		ShippingAddress: &shipping,
		Items:           lines,
	}
}

// redeemDiscounts burns usage for every promotion backing the order's
// discount. Vendor-scoped promotions are redeemed in their vendor's
// transaction; cart-wide ones exactly once per checkout group.
func (s *Service) redeemDiscounts(ctx context.Context, tx *gorm.DB, conv vendorConversion, orderID uuid.UUID) error {
	customerID := conv.owner.CustomerUUID()
	for _, applied := range conv.discounts {
		switch applied.Scope {
		case enums.DiscountScopeVendor:
			if applied.VendorID == nil || *applied.VendorID != conv.totals.VendorID {
				continue
			}
		case enums.DiscountScopeGlobal:
			if !conv.redeemGlobals {
				continue
			}
		}
		if err := s.promos.Redeem(ctx, tx, applied.PromotionID, customerID, &orderID); err != nil {
			return err
		}
	}
	return nil
}

// finishCart emits the group-level order.created event, clears redeemed
// coupons, and reprices whatever failed vendors left behind. An empty
// remainder marks the cart converted.
func (s *Service) finishCart(ctx context.Context, cartID uuid.UUID, result *CheckoutResult) error {
	orderIDs := make([]uuid.UUID, 0, len(result.Orders))
	var groupTotal int64
	for _, order := range result.Orders {
		orderIDs = append(orderIDs, order.ID)
		groupTotal += order.TotalCents
	}
	customerID := result.Orders[0].CustomerID

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		remaining, err := s.carts.WithTx(tx).FindByID(ctx, cartID)
		if err != nil {
			return err
		}
		totals := cart.Totals{}
		if len(remaining.Items) > 0 {
			vendors, err := s.loadVendorsTx(ctx, tx, remaining.Items)
			if err != nil {
				return err
			}
			totals = cart.Reprice(remaining.Items, nil, vendorRates(vendors, s.cfg.DefaultCommissionBps), s.cfg.ServiceFeeCents)
		}
		if err := s.carts.WithTx(tx).SaveTotals(ctx, cartID, totals, types.AppliedDiscounts{}, s.now().UTC()); err != nil {
			return err
		}
		if len(remaining.Items) == 0 {
			if err := s.carts.WithTx(tx).UpdateStatus(ctx, cartID, enums.CartStatusConverted); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateCheckoutGroup,
			AggregateID:   result.CheckoutGroupID,
			Actor:         &outbox.ActorRef{UserID: customerID, Role: enums.ActorRoleCustomer},
			Data: payloads.OrderCreatedEvent{
				CheckoutGroupID: result.CheckoutGroupID,
				CustomerID:      customerID,
				OrderIDs:        orderIDs,
				TotalCents:      groupTotal,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize checkout")
	}
	return nil
}

func (s *Service) loadActiveCart(ctx context.Context, owner cart.OwnerRef) (*models.Cart, error) {
	if owner.CustomerID != nil && *owner.CustomerID != uuid.Nil {
		return s.carts.FindActiveByCustomer(ctx, *owner.CustomerID)
	}
	return s.carts.FindActiveBySession(ctx, *owner.SessionToken)
}

func (s *Service) loadVendors(ctx context.Context, items []models.CartItem) ([]models.Vendor, error) {
	return s.catalog.FindVendors(ctx, vendorIDsOf(items))
}

func (s *Service) loadVendorsTx(ctx context.Context, tx *gorm.DB, items []models.CartItem) ([]models.Vendor, error) {
	return s.catalog.WithTx(tx).FindVendors(ctx, vendorIDsOf(items))
}

func (s *Service) loadProducts(ctx context.Context, items []models.CartItem) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	rows, err := s.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	return byID, nil
}

// reResolveDiscounts re-runs the cart's coupons right before conversion so a
// coupon that expired between cart updates and checkout silently drops off.
func (s *Service) reResolveDiscounts(ctx context.Context, owner cart.OwnerRef, activeCart *models.Cart, rates map[uuid.UUID]cart.VendorRates) types.AppliedDiscounts {
	if len(activeCart.AppliedDiscounts) == 0 {
		return nil
	}
	snapshot := promotions.CartSnapshot{
		Items:            make([]promotions.SnapshotItem, 0, len(activeCart.Items)),
		DeliveryFeeCents: make(map[uuid.UUID]int64),
	}
	for _, item := range activeCart.Items {
		snapshot.Items = append(snapshot.Items, promotions.SnapshotItem{
			ProductID:      item.ProductID,
			VendorID:       item.VendorID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
		snapshot.DeliveryFeeCents[item.VendorID] = rates[item.VendorID].DeliveryFeeCents
	}

	kept := make(types.AppliedDiscounts, 0, len(activeCart.AppliedDiscounts))
	for _, entry := range activeCart.AppliedDiscounts {
		applied, err := s.promos.Resolve(ctx, entry.Code, snapshot, owner.CustomerUUID())
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "code", entry.Code), "dropping coupon at checkout")
			continue
		}
		kept = append(kept, *applied)
	}
	return kept
}

func vendorRates(vendors []models.Vendor, defaultCommissionBps int64) map[uuid.UUID]cart.VendorRates {
	rates := make(map[uuid.UUID]cart.VendorRates, len(vendors))
	for _, vendor := range vendors {
		commission := vendor.CommissionRateBps
		if commission <= 0 {
			commission = defaultCommissionBps
		}
		rates[vendor.ID] = cart.VendorRates{
			DeliveryFeeCents:  vendor.DeliveryFeeCents,
			PackagingFeeCents: vendor.PackagingFeeCents,
			TaxRateBps:        vendor.TaxRateBps,
			CommissionRateBps: commission,
		}
	}
	return rates
}

func vendorIDsOf(items []models.CartItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		ids = append(ids, item.VendorID)
	}
	return ids
}

func validateInput(input CheckoutInput) error {
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	addr := input.ShippingAddress
	for field, value := range map[string]string{
		"line1":       addr.Line1,
		"city":        addr.City,
		"state":       addr.State,
		"postal_code": addr.PostalCode,
	} {
		if strings.TrimSpace(value) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping address %s required", field))
		}
	}
	return nil
}

// insufficientStockError aborts a vendor transaction without being surfaced
// as a system error.
type insufficientStockError struct {
	productIDs []uuid.UUID
}

func (e *insufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d product(s)", len(e.productIDs))
}
