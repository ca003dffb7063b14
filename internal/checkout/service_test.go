package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/products"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/promotions"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	dbpkg "github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

type checkoutFixture struct {
	db  *gorm.DB
	svc *Service
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(
		&models.Cart{}, &models.CartItem{},
		&models.Product{}, &models.Vendor{}, &models.InventoryItem{},
		&models.Promotion{}, &models.PromotionRedemption{},
		&models.Order{}, &models.OrderLineItem{}, &models.OrderStatusHistory{},
		&models.OrderCounter{}, &models.Payment{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	promoSvc, err := promotions.NewService(promotions.NewRepository(conn), logg)
	if err != nil {
		t.Fatalf("promotions.NewService: %v", err)
	}
	svc, err := NewService(
		dbpkg.NewFromConn(conn),
		cart.NewRepository(conn),
		products.NewRepository(conn),
		promoSvc,
		outbox.NewService(outbox.NewRepository(conn), logg),
		nil,
		logg,
		config.CheckoutConfig{ServiceFeeCents: 0, DefaultCommissionBps: 1000},
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &checkoutFixture{db: conn, svc: svc}
}

func (f *checkoutFixture) seedVendor(t *testing.T, commissionBps int64) uuid.UUID {
	t.Helper()
	vendor := models.Vendor{Name: "vendor", Active: true, CommissionRateBps: commissionBps}
	if err := f.db.Create(&vendor).Error; err != nil {
		t.Fatalf("seed vendor: %v", err)
	}
	return vendor.ID
}

func (f *checkoutFixture) seedProduct(t *testing.T, vendorID uuid.UUID, priceCents int64, stock int) uuid.UUID {
	t.Helper()
	product := models.Product{
		VendorID:       vendorID,
		Name:           "product",
		SKU:            uuid.NewString()[:8],
		UnitPriceCents: priceCents,
		Active:         true,
	}
	if err := f.db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := f.db.Create(&models.InventoryItem{ProductID: product.ID, AvailableQty: stock}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return product.ID
}

func (f *checkoutFixture) seedCart(t *testing.T, customerID uuid.UUID, discounts types.AppliedDiscounts, lines ...models.CartItem) uuid.UUID {
	t.Helper()
	crt := models.Cart{
		CustomerID:       &customerID,
		Status:           enums.CartStatusActive,
		AppliedDiscounts: discounts,
		LastActivityAt:   time.Now(),
	}
	if err := f.db.Create(&crt).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	for i := range lines {
		lines[i].CartID = crt.ID
		if err := f.db.Create(&lines[i]).Error; err != nil {
			t.Fatalf("seed cart item: %v", err)
		}
	}
	return crt.ID
}

func line(productID, vendorID uuid.UUID, qty int, unitCents int64) models.CartItem {
	return models.CartItem{
		ProductID:      productID,
		VendorID:       vendorID,
		Quantity:       qty,
		UnitPriceCents: unitCents,
		LineTotalCents: unitCents * int64(qty),
	}
}

func shipTo() CheckoutInput {
	return CheckoutInput{
		ShippingAddress: types.Address{
			Line1:      "1 Market St",
			City:       "Springfield",
			State:      "CA",
			PostalCode: "94000",
			Country:    "US",
		},
		PaymentMethod: enums.PaymentMethodCard,
	}
}

func ownerFor(customerID uuid.UUID) cart.OwnerRef {
	return cart.OwnerRef{CustomerID: &customerID}
}

// Two items from vendor A ($10 each) and one from vendor B ($5), a global
// 10%-off coupon, no tax or fees: vendor A's order totals $18.00, vendor B's
// $4.50, and A's commission at the default 10% is $1.80.
func TestExecuteSplitsCartWithGlobalDiscount(t *testing.T) {
	fixture := newCheckoutFixture(t)
	ctx := context.Background()
	customerID := uuid.New()

	vendorA := fixture.seedVendor(t, 0) // falls back to the default 10%
	vendorB := fixture.seedVendor(t, 0)
	productA := fixture.seedProduct(t, vendorA, 1000, 10)
	productB := fixture.seedProduct(t, vendorB, 500, 10)

	code := "TEN"
	promo := models.Promotion{
		Code:       &code,
		Type:       enums.PromotionTypePercentage,
		Scope:      enums.DiscountScopeGlobal,
		PercentBps: 1000,
		StartsAt:   time.Now().Add(-time.Hour),
		EndsAt:     time.Now().Add(time.Hour),
		Active:     true,
	}
	if err := fixture.db.Create(&promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	cartID := fixture.seedCart(t, customerID,
		types.AppliedDiscounts{{PromotionID: promo.ID, Code: code, Type: promo.Type, Scope: promo.Scope, AmountCents: 250}},
		line(productA, vendorA, 2, 1000),
		line(productB, vendorB, 1, 500),
	)

	result, err := fixture.svc.Execute(ctx, ownerFor(customerID), shipTo())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failures)
	}
	if len(result.Orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(result.Orders))
	}

	byVendor := make(map[uuid.UUID]models.Order)
	for _, order := range result.Orders {
		byVendor[order.VendorID] = order
	}

	orderA := byVendor[vendorA]
	if orderA.TotalCents != 1800 {
		t.Fatalf("vendor A total = %d, want 1800", orderA.TotalCents)
	}
	if orderA.CommissionAmountCents != 180 {
		t.Fatalf("vendor A commission = %d, want 180", orderA.CommissionAmountCents)
	}
	if orderA.VendorEarningsCents != 1620 {
		t.Fatalf("vendor A earnings = %d, want 1620", orderA.VendorEarningsCents)
	}
	if !orderA.CheckMoneyIdentity() {
		t.Fatalf("vendor A order violates money identity: %+v", orderA)
	}

	orderB := byVendor[vendorB]
	if orderB.TotalCents != 450 {
		t.Fatalf("vendor B total = %d, want 450", orderB.TotalCents)
	}
	if !orderB.CheckMoneyIdentity() {
		t.Fatalf("vendor B order violates money identity: %+v", orderB)
	}
	if orderA.CheckoutGroupID != orderB.CheckoutGroupID {
		t.Fatal("orders not grouped under one checkout group")
	}
	if orderA.OrderNumber == orderB.OrderNumber {
		t.Fatal("order numbers collided")
	}

	// Pending payment per order.
	var payments int64
	if err := fixture.db.Model(&models.Payment{}).Where("status = ?", enums.PaymentStatusPending).Count(&payments).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if payments != 2 {
		t.Fatalf("pending payments = %d, want 2", payments)
	}

	// Global coupon redeemed exactly once.
	var reloadedPromo models.Promotion
	if err := fixture.db.First(&reloadedPromo, "id = ?", promo.ID).Error; err != nil {
		t.Fatalf("reload promotion: %v", err)
	}
	if reloadedPromo.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", reloadedPromo.UsageCount)
	}

	// Cart fully converted.
	var reloadedCart models.Cart
	if err := fixture.db.Preload("Items").First(&reloadedCart, "id = ?", cartID).Error; err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if reloadedCart.Status != enums.CartStatusConverted || len(reloadedCart.Items) != 0 {
		t.Fatalf("cart not converted: status=%s items=%d", reloadedCart.Status, len(reloadedCart.Items))
	}

	// One group-level outbox event.
	var events []models.OutboxEvent
	if err := fixture.db.Where("event_type = ?", enums.EventOrderCreated).Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("order.created events = %d, want 1", len(events))
	}

	// Stock moved from available to reserved.
	var inv models.InventoryItem
	if err := fixture.db.First(&inv, "product_id = ?", productA).Error; err != nil {
		t.Fatalf("reload inventory: %v", err)
	}
	if inv.AvailableQty != 8 || inv.ReservedQty != 2 {
		t.Fatalf("inventory = %d/%d, want 8/2", inv.AvailableQty, inv.ReservedQty)
	}
}

// One vendor short on stock fails alone; the other vendor's order commits.
func TestExecutePartialFailure(t *testing.T) {
	fixture := newCheckoutFixture(t)
	ctx := context.Background()
	customerID := uuid.New()

	vendorOK := fixture.seedVendor(t, 1000)
	vendorShort := fixture.seedVendor(t, 1000)
	productOK := fixture.seedProduct(t, vendorOK, 1000, 5)
	productShort := fixture.seedProduct(t, vendorShort, 700, 1)

	cartID := fixture.seedCart(t, customerID, nil,
		line(productOK, vendorOK, 1, 1000),
		line(productShort, vendorShort, 3, 700),
	)

	result, err := fixture.svc.Execute(ctx, ownerFor(customerID), shipTo())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Orders) != 1 || result.Orders[0].VendorID != vendorOK {
		t.Fatalf("orders = %+v, want one for the stocked vendor", result.Orders)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %+v, want one", result.Failures)
	}
	failure := result.Failures[0]
	if failure.VendorID != vendorShort || failure.Reason != "insufficient_stock" {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if len(failure.ProductIDs) != 1 || failure.ProductIDs[0] != productShort {
		t.Fatalf("failure products = %v, want [%s]", failure.ProductIDs, productShort)
	}

	// Failed vendor's stock untouched.
	var inv models.InventoryItem
	if err := fixture.db.First(&inv, "product_id = ?", productShort).Error; err != nil {
		t.Fatalf("reload inventory: %v", err)
	}
	if inv.AvailableQty != 1 || inv.ReservedQty != 0 {
		t.Fatalf("inventory = %d/%d, want 1/0", inv.AvailableQty, inv.ReservedQty)
	}

	// The unconverted items stay in the cart and it remains active.
	var reloaded models.Cart
	if err := fixture.db.Preload("Items").First(&reloaded, "id = ?", cartID).Error; err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if reloaded.Status != enums.CartStatusActive || len(reloaded.Items) != 1 {
		t.Fatalf("cart status=%s items=%d, want active with 1 item", reloaded.Status, len(reloaded.Items))
	}
	if reloaded.TotalCents != 2100 {
		t.Fatalf("remaining cart total = %d, want 2100", reloaded.TotalCents)
	}
}

// Two back-to-back checkouts race for the last unit; the guarded decrement
// lets exactly one through.
func TestExecuteLastUnit(t *testing.T) {
	fixture := newCheckoutFixture(t)
	ctx := context.Background()

	vendorID := fixture.seedVendor(t, 1000)
	productID := fixture.seedProduct(t, vendorID, 900, 1)

	first := uuid.New()
	second := uuid.New()
	fixture.seedCart(t, first, nil, line(productID, vendorID, 1, 900))
	fixture.seedCart(t, second, nil, line(productID, vendorID, 1, 900))

	winner, err := fixture.svc.Execute(ctx, ownerFor(first), shipTo())
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if len(winner.Orders) != 1 {
		t.Fatalf("first checkout orders = %d, want 1", len(winner.Orders))
	}

	loser, err := fixture.svc.Execute(ctx, ownerFor(second), shipTo())
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if len(loser.Orders) != 0 || len(loser.Failures) != 1 {
		t.Fatalf("second checkout got %d orders %d failures, want 0/1", len(loser.Orders), len(loser.Failures))
	}
	if loser.Failures[0].Reason != "insufficient_stock" {
		t.Fatalf("failure reason = %s, want insufficient_stock", loser.Failures[0].Reason)
	}
}

func TestExecuteValidation(t *testing.T) {
	fixture := newCheckoutFixture(t)
	ctx := context.Background()
	customerID := uuid.New()

	// Empty cart.
	fixture.seedCart(t, customerID, nil)
	_, err := fixture.svc.Execute(ctx, ownerFor(customerID), shipTo())
	assertCode(t, err, pkgerrors.CodeValidation)

	// Unsupported payment method.
	input := shipTo()
	input.PaymentMethod = enums.PaymentMethod("barter")
	_, err = fixture.svc.Execute(ctx, ownerFor(customerID), input)
	assertCode(t, err, pkgerrors.CodeValidation)

	// Missing shipping address fields.
	input = shipTo()
	input.ShippingAddress.City = ""
	_, err = fixture.svc.Execute(ctx, ownerFor(customerID), input)
	assertCode(t, err, pkgerrors.CodeValidation)

	// Guest sessions cannot place orders.
	token := "sess-guest"
	_, err = fixture.svc.Execute(ctx, cart.OwnerRef{SessionToken: &token}, shipTo())
	assertCode(t, err, pkgerrors.CodeUnauthorized)
}

func assertCode(t *testing.T, err error, want pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("not an app error: %v", err)
	}
	if typed.Code() != want {
		t.Fatalf("code = %s, want %s", typed.Code(), want)
	}
}
