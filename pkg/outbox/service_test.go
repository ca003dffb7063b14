package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	conn := newOutboxDB(t)
	svc := NewService(NewRepository(conn), logger.New(logger.Options{ServiceName: "outbox-test"}))

	aggregateID := uuid.New()
	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventOrderDelivered,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Version:       1,
		Data:          map[string]string{"order_number": "SMP-20260826-0001"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var row models.OutboxEvent
	if err := conn.First(&row, "aggregate_id = ?", aggregateID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.EventID == "" {
		t.Fatal("expected envelope event id")
	}
	if envelope.Version != 1 {
		t.Fatalf("expected envelope version 1, got %d", envelope.Version)
	}
	if envelope.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be stamped")
	}
}

func TestEmitIfNotExistsIsIdempotentPerAggregate(t *testing.T) {
	conn := newOutboxDB(t)
	svc := NewService(NewRepository(conn), logger.New(logger.Options{ServiceName: "outbox-test"}))

	event := DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   uuid.New(),
		Version:       1,
		Data:          map[string]string{"template": "order_payment_reminder"},
	}
	if err := svc.EmitIfNotExists(context.Background(), conn, event); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if err := svc.EmitIfNotExists(context.Background(), conn, event); err != nil {
		t.Fatalf("second emit: %v", err)
	}

	var count int64
	if err := conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ?", event.AggregateID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one event, got %d", count)
	}
}
