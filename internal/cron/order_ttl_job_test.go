package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
)

type fakePendingReader struct {
	orders     []models.Order
	lastCutoff time.Time
}

func (f *fakePendingReader) FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	f.lastCutoff = cutoff
	return f.orders, nil
}

type transitionCall struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   orders.Actor
}

type fakeLifecycle struct {
	calls []transitionCall
	err   error
}

func (f *fakeLifecycle) Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor orders.Actor, note *string) (*models.Order, error) {
	f.calls = append(f.calls, transitionCall{OrderID: orderID, Target: target, Actor: actor})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: orderID, Status: target}, nil
}

type fakeOutboxEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeOutboxEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type ttlFakeTxRunner struct{}

func (ttlFakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type orderTTLFixture struct {
	job       *orderTTLJob
	reader    *fakePendingReader
	lifecycle *fakeLifecycle
	emitter   *fakeOutboxEmitter
}

func newOrderTTLFixture(t *testing.T, pending []models.Order) *orderTTLFixture {
	t.Helper()
	reader := &fakePendingReader{orders: pending}
	lifecycle := &fakeLifecycle{}
	emitter := &fakeOutboxEmitter{}
	jobIface, err := NewOrderTTLJob(OrderTTLJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		DB:        ttlFakeTxRunner{},
		Pending:   reader,
		Lifecycle: lifecycle,
		Outbox:    emitter,
	})
	if err != nil {
		t.Fatalf("NewOrderTTLJob: %v", err)
	}
	job, ok := jobIface.(*orderTTLJob)
	if !ok {
		t.Fatalf("expected orderTTLJob, got %T", jobIface)
	}
	return &orderTTLFixture{job: job, reader: reader, lifecycle: lifecycle, emitter: emitter}
}

func TestOrderTTLJobNudgesStalePendingOrder(t *testing.T) {
	now := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	order := models.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusPending,
		CreatedAt:  now.Add(-6 * 24 * time.Hour),
	}
	fixture := newOrderTTLFixture(t, []models.Order{order})
	fixture.job.now = func() time.Time { return now }

	if err := fixture.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fixture.lifecycle.calls) != 0 {
		t.Fatalf("expected no transitions, got %d", len(fixture.lifecycle.calls))
	}
	if len(fixture.emitter.events) != 1 {
		t.Fatalf("expected 1 nudge event, got %d", len(fixture.emitter.events))
	}
	event := fixture.emitter.events[0]
	if event.EventType != enums.EventNotificationRequested {
		t.Fatalf("unexpected event type: %s", event.EventType)
	}
	if event.AggregateID != order.ID {
		t.Fatalf("nudge should aggregate on the order for emit-once semantics")
	}
	payload, ok := event.Data.(payloads.NotificationRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", event.Data)
	}
	if payload.RecipientID != order.CustomerID {
		t.Fatalf("nudge should go to the customer")
	}
}

func TestOrderTTLJobCancelsExpiredOrder(t *testing.T) {
	now := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	order := models.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusPending,
		CreatedAt:  now.Add(-11 * 24 * time.Hour),
	}
	fixture := newOrderTTLFixture(t, []models.Order{order})
	fixture.job.now = func() time.Time { return now }

	if err := fixture.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fixture.emitter.events) != 0 {
		t.Fatalf("expired orders should not be nudged")
	}
	if len(fixture.lifecycle.calls) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(fixture.lifecycle.calls))
	}
	call := fixture.lifecycle.calls[0]
	if call.OrderID != order.ID || call.Target != enums.OrderStatusCancelled {
		t.Fatalf("unexpected transition: %+v", call)
	}
	if call.Actor.Role != enums.ActorRoleSystem {
		t.Fatalf("expiry must run as the system actor, got %s", call.Actor.Role)
	}
}

func TestOrderTTLJobContinuesAfterTransitionFailure(t *testing.T) {
	now := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	broken := models.Order{
		ID:        uuid.New(),
		Status:    enums.OrderStatusPending,
		CreatedAt: now.Add(-12 * 24 * time.Hour),
	}
	nudgeable := models.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusPending,
		CreatedAt:  now.Add(-6 * 24 * time.Hour),
	}
	fixture := newOrderTTLFixture(t, []models.Order{broken, nudgeable})
	fixture.job.now = func() time.Time { return now }
	fixture.lifecycle.err = errors.New("version conflict")

	err := fixture.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(fixture.emitter.events) != 1 {
		t.Fatalf("failure on one order must not stop the sweep, got %d nudges", len(fixture.emitter.events))
	}
}
