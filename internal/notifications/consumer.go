package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	dbpkg "github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
)

// Consumer materializes in-app notification rows from published domain
// events. It handles explicit notification.requested events and also maps
// order lifecycle events onto customer-facing messages. Redelivered
// messages collapse on the notification's unique event_id index.
type Consumer struct {
	repo         Repository
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer.
func NewConsumer(repo Repository, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{repo: repo, subscription: subscription, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	notification, err := c.buildNotification(eventType, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	if notification == nil {
		return processResult{ack: true}
	}
	notification.EventID = &eventID

	if err := c.repo.Create(ctx, notification); err != nil {
		if dbpkg.IsUniqueViolation(err, "") || dbpkg.IsUniqueViolation(err, "idx_notifications_event_id") {
			c.logg.Info(logCtx, "event already materialized")
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "failed to store notification", err)
		return processResult{nack: true}
	}
	c.logg.Info(logCtx, "notification stored")
	return processResult{ack: true}
}

// buildNotification maps one event onto a notification row, or nil when the
// event carries nothing user-facing.
func (c *Consumer) buildNotification(eventType string, data json.RawMessage) (*models.Notification, error) {
	switch eventType {
	case string(enums.EventNotificationRequested):
		var payload payloads.NotificationRequestedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			RecipientID: payload.RecipientID,
			Role:        payload.Role,
			OrderID:     payload.OrderID,
			Template:    payload.Template,
			Body:        payload.Body,
		}, nil

	case string(enums.EventOrderStatusChanged):
		var payload payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			RecipientID: payload.CustomerID,
			Role:        enums.ActorRoleCustomer,
			OrderID:     &payload.OrderID,
			Template:    "order_status_changed",
			Body:        fmt.Sprintf("Order %s is now %s.", payload.OrderNumber, payload.ToStatus),
		}, nil

	case string(enums.EventOrderDelivered):
		var payload payloads.OrderDeliveredEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			RecipientID: payload.VendorID,
			Role:        enums.ActorRoleVendor,
			OrderID:     &payload.OrderID,
			Template:    "order_settled",
			Body:        fmt.Sprintf("Order %s delivered, earnings credited to your wallet.", payload.OrderNumber),
		}, nil

	default:
		return nil, nil
	}
}
