package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
)

const (
	pendingNudgeDays    = 5
	orderExpirationDays = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pendingOrderReader interface {
	FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

// orderLifecycle is the slice of the orders service the job drives.
type orderLifecycle interface {
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor orders.Actor, note *string) (*models.Order, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderTTLJobParams configure the pending order scheduler.
type OrderTTLJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Pending    pendingOrderReader
	Lifecycle  orderLifecycle
	Outbox     outboxEmitter
	NudgeDays  int
	ExpireDays int
}

// NewOrderTTLJob builds the job that nudges buyers about unpaid orders and
// cancels the ones that aged out. Nudged orders keep their stock reserved;
// expiry runs through the normal cancellation path so the stock comes back.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Pending == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	nudgeDays := params.NudgeDays
	if nudgeDays <= 0 {
		nudgeDays = pendingNudgeDays
	}
	expireDays := params.ExpireDays
	if expireDays <= nudgeDays {
		expireDays = orderExpirationDays
	}
	return &orderTTLJob{
		logg:       params.Logger,
		db:         params.DB,
		pending:    params.Pending,
		lifecycle:  params.Lifecycle,
		outbox:     params.Outbox,
		nudgeDays:  nudgeDays,
		expireDays: expireDays,
		now:        time.Now,
	}, nil
}

type orderTTLJob struct {
	logg       *logger.Logger
	db         txRunner
	pending    pendingOrderReader
	lifecycle  orderLifecycle
	outbox     outboxEmitter
	nudgeDays  int
	expireDays int
	now        func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

func (j *orderTTLJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	nudgeCutoff := now.Add(-time.Duration(j.nudgeDays) * 24 * time.Hour)
	expireCutoff := now.Add(-time.Duration(j.expireDays) * 24 * time.Hour)

	stale, err := j.pending.FindPendingBefore(ctx, nudgeCutoff)
	if err != nil {
		return fmt.Errorf("order ttl: load pending orders: %w", err)
	}

	var errs error
	var nudged, expired int
	for _, order := range stale {
		if order.CreatedAt.Before(expireCutoff) {
			if err := j.expire(ctx, order); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
				continue
			}
			expired++
			continue
		}
		if err := j.nudge(ctx, order); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("nudge order %s: %w", order.ID, err))
			continue
		}
		nudged++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":   len(stale),
		"nudged":  nudged,
		"expired": expired,
	})
	j.logg.Info(logCtx, "order ttl sweep complete")
	return errs
}

func (j *orderTTLJob) expire(ctx context.Context, order models.Order) error {
	note := fmt.Sprintf("payment window expired after %d days", j.expireDays)
	system := orders.Actor{UserID: order.ID, Role: enums.ActorRoleSystem}
	_, err := j.lifecycle.Transition(ctx, order.ID, enums.OrderStatusCancelled, system, &note)
	return err
}

// nudge emits at most one payment reminder per order over its lifetime.
func (j *orderTTLJob) nudge(ctx context.Context, order models.Order) error {
	orderID := order.ID
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			// Keyed on the order so each pending order gets one reminder.
			AggregateID: order.ID,
			Version:       1,
			Data: payloads.NotificationRequestedEvent{
				RecipientID: order.CustomerID,
				Role:        enums.ActorRoleCustomer,
				Template:    "order_payment_reminder",
				OrderID:     &orderID,
				Body:        fmt.Sprintf("order has been awaiting payment for %d days", j.nudgeDays),
			},
		})
	})
}
