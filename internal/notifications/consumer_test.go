package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
)

func newConsumerFixture(t *testing.T) (*Consumer, *gorm.DB) {
	t.Helper()
	dsn := "file:consumer_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	consumer := &Consumer{
		repo: NewRepository(conn),
		logg: logger.New(logger.Options{ServiceName: "consumer-test"}),
	}
	return consumer, conn
}

func envelopeMessage(t *testing.T, eventType string, data interface{}) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		Data:       envelope,
		Attributes: map[string]string{"event_type": eventType},
	}
}

func TestConsumerMaterializesRequestedNotification(t *testing.T) {
	consumer, conn := newConsumerFixture(t)

	recipient := uuid.New()
	orderID := uuid.New()
	msg := envelopeMessage(t, string(enums.EventNotificationRequested), payloads.NotificationRequestedEvent{
		RecipientID: recipient,
		Role:        enums.ActorRoleCustomer,
		Template:    "order_payment_reminder",
		OrderID:     &orderID,
		Body:        "order has been awaiting payment for 5 days",
	})

	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}

	var stored models.Notification
	if err := conn.First(&stored, "recipient_id = ?", recipient).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.Template != "order_payment_reminder" {
		t.Fatalf("unexpected template %q", stored.Template)
	}
	if stored.EventID == nil {
		t.Fatal("expected event id stored for dedupe")
	}
}

func TestConsumerRedeliveryDoesNotDuplicate(t *testing.T) {
	consumer, conn := newConsumerFixture(t)

	msg := envelopeMessage(t, string(enums.EventOrderStatusChanged), payloads.OrderStatusChangedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "SMP-20260826-0001",
		CustomerID:  uuid.New(),
		ToStatus:    enums.OrderStatusConfirmed,
	})

	first := consumer.process(context.Background(), msg)
	second := consumer.process(context.Background(), msg)
	if !first.ack || !second.ack {
		t.Fatalf("expected both deliveries acked, got %+v then %+v", first, second)
	}

	var count int64
	if err := conn.Model(&models.Notification{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row after redelivery, got %d", count)
	}
}

func TestConsumerAcksUnknownEventTypes(t *testing.T) {
	consumer, conn := newConsumerFixture(t)

	msg := envelopeMessage(t, "wallet.transaction", payloads.WalletTransactionEvent{})
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected non-user-facing event to ack, got %+v", result)
	}

	var count int64
	if err := conn.Model(&models.Notification{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
}
