package orders

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/ledger"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/wallet"
	dbpkg "github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/pagination"
)

type refundCall struct {
	OrderID uuid.UUID
	Reason  string
}

type fakeRefunds struct {
	mu    sync.Mutex
	calls []refundCall
}

func (f *fakeRefunds) QueueFullRefund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refundCall{OrderID: orderID, Reason: reason})
	return nil
}

type fakeMatcher struct {
	agentID uuid.UUID
}

func (f *fakeMatcher) BestAgent(ctx context.Context, order *models.Order) (uuid.UUID, error) {
	return f.agentID, nil
}

type ordersFixture struct {
	svc     *Service
	db      *gorm.DB
	refunds *fakeRefunds
	matcher *fakeMatcher
	agentID uuid.UUID
}

func newOrdersFixture(t *testing.T) *ordersFixture {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(
		&models.Order{}, &models.OrderLineItem{}, &models.OrderStatusHistory{},
		&models.OrderAssignment{}, &models.DeliveryAgent{}, &models.InventoryItem{},
		&models.LedgerEvent{}, &models.Wallet{}, &models.WalletTransaction{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	runner := dbpkg.NewFromConn(conn)
	wallets, err := wallet.NewService(wallet.NewRepository(conn), runner, nil, nil, logg)
	if err != nil {
		t.Fatalf("wallet service: %v", err)
	}
	settlements, err := ledger.NewService(ledger.NewRepository(conn), wallets, logg)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}

	agent := &models.DeliveryAgent{UserID: uuid.New(), Active: true}
	if err := conn.Create(agent).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	refunds := &fakeRefunds{}
	matcher := &fakeMatcher{agentID: agent.ID}
	svc, err := NewService(
		NewRepository(conn), runner, settlements, refunds, matcher,
		outbox.NewService(outbox.NewRepository(conn), logg), nil, logg,
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &ordersFixture{svc: svc, db: conn, refunds: refunds, matcher: matcher, agentID: agent.ID}
}

type orderSeed struct {
	status        enums.OrderStatus
	paymentStatus enums.PaymentStatus
	method        enums.PaymentMethod
	qty           int
	reserved      int
	available     int
}

func (f *ordersFixture) seedOrder(t *testing.T, seed orderSeed) *models.Order {
	t.Helper()
	if seed.qty == 0 {
		seed.qty = 2
	}
	productID := uuid.New()
	if err := f.db.Create(&models.InventoryItem{
		ProductID:    productID,
		AvailableQty: seed.available,
		ReservedQty:  seed.reserved,
	}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	unit := int64(1000)
	total := unit * int64(seed.qty)
	commission := total / 10
	order := &models.Order{
		OrderNumber:           "SMP-20260801-ABCDEF-" + uuid.NewString()[:4],
		CheckoutGroupID:       uuid.New(),
		CustomerID:            uuid.New(),
		VendorID:              uuid.New(),
		Status:                seed.status,
		PaymentStatus:         seed.paymentStatus,
		SubtotalCents:         total,
		TotalCents:            total,
		CommissionRateBps:     1000,
		CommissionAmountCents: commission,
		VendorEarningsCents:   total - commission,
		PlatformEarningsCents: commission,
		PaymentMethod:         seed.method,
		Items: []models.OrderLineItem{{
			ProductID:      productID,
			Name:           "hummus 400g",
			SKU:            "HUM-400",
			Quantity:       seed.qty,
			UnitPriceCents: unit,
			TotalCents:     total,
		}},
	}
	if err := f.db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func vendorActor(order *models.Order) Actor {
	return Actor{UserID: uuid.New(), Role: enums.ActorRoleVendor, VendorID: order.VendorID}
}

func customerActor(order *models.Order) Actor {
	return Actor{UserID: order.CustomerID, Role: enums.ActorRoleCustomer}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	coded := pkgerrors.As(err)
	if coded == nil {
		t.Fatalf("expected coded error, got %v", err)
	}
	if coded.Code() != code {
		t.Fatalf("error code = %s, want %s (%v)", coded.Code(), code, err)
	}
}

func TestFullLifecycleToCompleted(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		qty:           2,
		reserved:      2,
		available:     5,
	})
	vendor := vendorActor(order)

	for _, target := range []enums.OrderStatus{
		enums.OrderStatusConfirmed,
		enums.OrderStatusProcessing,
		enums.OrderStatusReadyForPickup,
	} {
		if _, err := f.svc.Transition(ctx, order.ID, target, vendor, nil); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}

	assignment, err := f.svc.AssignAgent(ctx, order.ID, vendor)
	if err != nil {
		t.Fatalf("AssignAgent: %v", err)
	}
	if assignment.AgentID != f.agentID {
		t.Fatalf("assigned agent = %s, want %s", assignment.AgentID, f.agentID)
	}

	for _, step := range []enums.DeliveryStatus{
		enums.DeliveryStatusPickedUp,
		enums.DeliveryStatusInTransit,
		enums.DeliveryStatusDelivered,
	} {
		if _, err := f.svc.UpdateDeliveryStatus(ctx, order.ID, f.agentID, step); err != nil {
			t.Fatalf("delivery step %s: %v", step, err)
		}
	}

	var reloaded models.Order
	if err := f.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.Status != enums.OrderStatusDelivered {
		t.Fatalf("order status = %s, want delivered", reloaded.Status)
	}
	if reloaded.ActualDeliveryTime == nil {
		t.Fatal("actual delivery time not stamped")
	}
	if !reloaded.EarningsFinalized {
		t.Fatal("earnings not finalized on delivery")
	}

	// Vendor wallet holds exactly the frozen earnings.
	var vendorWallet models.Wallet
	if err := f.db.First(&vendorWallet, "user_id = ?", order.VendorID).Error; err != nil {
		t.Fatalf("load vendor wallet: %v", err)
	}
	if vendorWallet.BalanceCents != order.VendorEarningsCents {
		t.Fatalf("vendor balance = %d, want %d", vendorWallet.BalanceCents, order.VendorEarningsCents)
	}

	var agent models.DeliveryAgent
	if err := f.db.First(&agent, "id = ?", f.agentID).Error; err != nil {
		t.Fatalf("load agent: %v", err)
	}
	if agent.CompletedDeliveries != 1 {
		t.Fatalf("completed deliveries = %d, want 1", agent.CompletedDeliveries)
	}

	// Reserved stock consumed, sellable pool untouched.
	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", order.Items[0].ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.ReservedQty != 0 || inv.AvailableQty != 5 {
		t.Fatalf("inventory = available %d reserved %d, want 5/0", inv.AvailableQty, inv.ReservedQty)
	}

	var deliveredEvents int64
	err = f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderDelivered, order.ID).
		Count(&deliveredEvents).Error
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if deliveredEvents != 1 {
		t.Fatalf("order.delivered events = %d, want 1", deliveredEvents)
	}

	if _, err := f.svc.Transition(ctx, order.ID, enums.OrderStatusCompleted, customerActor(order), nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	history, err := f.svc.History(ctx, order.ID, Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// confirmed, processing, ready_for_pickup, out_for_delivery,
	// delivered, completed.
	if len(history) != 6 {
		t.Fatalf("history rows = %d, want 6", len(history))
	}
	if history[0].FromStatus != enums.OrderStatusPending || history[5].ToStatus != enums.OrderStatusCompleted {
		t.Fatalf("history endpoints wrong: %s -> %s", history[0].FromStatus, history[5].ToStatus)
	}
}

func TestConfirmRequiresPayment(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()

	unpaid := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPending,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})
	_, err := f.svc.Transition(ctx, unpaid.ID, enums.OrderStatusConfirmed, vendorActor(unpaid), nil)
	assertCode(t, err, pkgerrors.CodeStateConflict)

	// Cash on delivery is confirmed by the vendor without a payment.
	cod := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPending,
		method:        enums.PaymentMethodCashOnDelivery,
		reserved:      2,
	})
	if _, err := f.svc.Transition(ctx, cod.ID, enums.OrderStatusConfirmed, vendorActor(cod), nil); err != nil {
		t.Fatalf("COD confirm: %v", err)
	}

	// Customers never confirm, regardless of payment.
	paid := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})
	_, err = f.svc.Transition(ctx, paid.ID, enums.OrderStatusConfirmed, customerActor(paid), nil)
	assertCode(t, err, pkgerrors.CodeForbidden)
}

func TestCancelReleasesStockAndQueuesRefund(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusConfirmed,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		qty:           2,
		reserved:      2,
		available:     3,
	})

	note := "changed my mind"
	if _, err := f.svc.Transition(ctx, order.ID, enums.OrderStatusCancelled, customerActor(order), &note); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", order.Items[0].ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 5 || inv.ReservedQty != 0 {
		t.Fatalf("inventory = available %d reserved %d, want 5/0", inv.AvailableQty, inv.ReservedQty)
	}

	if len(f.refunds.calls) != 1 {
		t.Fatalf("refund calls = %d, want 1", len(f.refunds.calls))
	}
	if f.refunds.calls[0].OrderID != order.ID || f.refunds.calls[0].Reason != note {
		t.Fatalf("unexpected refund call %+v", f.refunds.calls[0])
	}

	var reloaded models.Order
	if err := f.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.CancellationReason == nil || *reloaded.CancellationReason != note {
		t.Fatal("cancellation reason not recorded")
	}

	var cancelledEvents int64
	err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderCancelled, order.ID).
		Count(&cancelledEvents).Error
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if cancelledEvents != 1 {
		t.Fatalf("order.cancelled events = %d, want 1", cancelledEvents)
	}
}

func TestUnpaidCancelSkipsRefund(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPending,
		method:        enums.PaymentMethodCashOnDelivery,
		reserved:      2,
	})
	if _, err := f.svc.Transition(ctx, order.ID, enums.OrderStatusCancelled, customerActor(order), nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.refunds.calls) != 0 {
		t.Fatalf("refund queued for unpaid order")
	}
}

func TestTerminalRejectsEverything(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusCompleted,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
	})
	admin := Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	for _, target := range []enums.OrderStatus{
		enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusCancelled,
		enums.OrderStatusRefunded, enums.OrderStatusDelivered,
	} {
		_, err := f.svc.Transition(ctx, order.ID, target, admin, nil)
		assertCode(t, err, pkgerrors.CodeStateConflict)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})

	stranger := Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	_, err := f.svc.Transition(ctx, order.ID, enums.OrderStatusCancelled, stranger, nil)
	assertCode(t, err, pkgerrors.CodeForbidden)

	otherVendor := Actor{UserID: uuid.New(), Role: enums.ActorRoleVendor, VendorID: uuid.New()}
	_, err = f.svc.Transition(ctx, order.ID, enums.OrderStatusConfirmed, otherVendor, nil)
	assertCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Get(ctx, order.ID, stranger)
	assertCode(t, err, pkgerrors.CodeForbidden)
}

func TestStaleVersionLosesRace(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusPending,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})
	vendor := vendorActor(order)

	stale, err := f.svc.repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("load stale copy: %v", err)
	}

	// A concurrent transition lands first.
	if _, err := f.svc.Transition(ctx, order.ID, enums.OrderStatusConfirmed, vendor, nil); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Replaying the guarded write with the stale snapshot must miss.
	err = dbpkg.NewFromConn(f.db).WithTx(ctx, func(tx *gorm.DB) error {
		return f.svc.applyTransition(ctx, tx, f.svc.repo.WithTx(tx), stale, enums.OrderStatusConfirmed, vendor, nil)
	})
	assertCode(t, err, pkgerrors.CodeConflict)
}

func TestDeliveryStatusGuards(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusReadyForPickup,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})
	vendor := vendorActor(order)
	if _, err := f.svc.AssignAgent(ctx, order.ID, vendor); err != nil {
		t.Fatalf("AssignAgent: %v", err)
	}

	// A second assignment is rejected.
	_, err := f.svc.AssignAgent(ctx, order.ID, vendor)
	assertCode(t, err, pkgerrors.CodeConflict)

	// Another agent cannot drive this parcel.
	_, err = f.svc.UpdateDeliveryStatus(ctx, order.ID, uuid.New(), enums.DeliveryStatusPickedUp)
	assertCode(t, err, pkgerrors.CodeForbidden)

	// The sub-machine does not skip picked_up.
	_, err = f.svc.UpdateDeliveryStatus(ctx, order.ID, f.agentID, enums.DeliveryStatusInTransit)
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestFailedDeliveryFlagsOrder(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusReadyForPickup,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})
	if _, err := f.svc.AssignAgent(ctx, order.ID, vendorActor(order)); err != nil {
		t.Fatalf("AssignAgent: %v", err)
	}
	if _, err := f.svc.UpdateDeliveryStatus(ctx, order.ID, f.agentID, enums.DeliveryStatusFailed); err != nil {
		t.Fatalf("fail delivery: %v", err)
	}

	var reloaded models.Order
	if err := f.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != enums.OrderStatusFailed {
		t.Fatalf("order status = %s, want failed", reloaded.Status)
	}
	// Payment history is untouched by a failed attempt.
	if reloaded.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want paid", reloaded.PaymentStatus)
	}
	if len(f.refunds.calls) != 0 {
		t.Fatal("failed delivery must not queue a refund by itself")
	}
}

func TestReassignOnlyBeforePickup(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, orderSeed{
		status:        enums.OrderStatusReadyForPickup,
		paymentStatus: enums.PaymentStatusPaid,
		method:        enums.PaymentMethodCard,
		reserved:      2,
	})
	vendor := vendorActor(order)
	if _, err := f.svc.AssignAgent(ctx, order.ID, vendor); err != nil {
		t.Fatalf("AssignAgent: %v", err)
	}

	other := &models.DeliveryAgent{UserID: uuid.New(), Active: true}
	if err := f.db.Create(other).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	if err := f.svc.ReassignAgent(ctx, order.ID, other.ID, vendor); err != nil {
		t.Fatalf("ReassignAgent: %v", err)
	}

	if _, err := f.svc.UpdateDeliveryStatus(ctx, order.ID, other.ID, enums.DeliveryStatusPickedUp); err != nil {
		t.Fatalf("picked up after reassign: %v", err)
	}
	err := f.svc.ReassignAgent(ctx, order.ID, f.agentID, vendor)
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestListByCustomerPages(t *testing.T) {
	f := newOrdersFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	for i := 0; i < 3; i++ {
		order := f.seedOrder(t, orderSeed{
			status:        enums.OrderStatusPending,
			paymentStatus: enums.PaymentStatusPending,
			method:        enums.PaymentMethodCard,
			reserved:      2,
		})
		if err := f.db.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("customer_id", customerID).Error; err != nil {
			t.Fatalf("retag order: %v", err)
		}
	}

	first, err := f.svc.ListByCustomer(ctx, customerID, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("ListByCustomer: %v", err)
	}
	if len(first.Orders) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %d rows, cursor %q", len(first.Orders), first.NextCursor)
	}

	second, err := f.svc.ListByCustomer(ctx, customerID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Orders) != 1 || second.NextCursor != "" {
		t.Fatalf("second page = %d rows, cursor %q", len(second.Orders), second.NextCursor)
	}
}
