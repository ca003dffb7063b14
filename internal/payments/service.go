package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/ledger"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/metrics"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderDriver moves the order lifecycle after a payment-side fact lands.
type orderDriver interface {
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor orders.Actor, note *string) (*models.Order, error)
}

// walletCreditor pushes wallet-target refunds back to the customer inside
// the refund transaction.
type walletCreditor interface {
	CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.WalletTransactionType, amountCents int64, reference *string) (*models.WalletTransaction, error)
}

// refundLedger records the refund on the order's settlement trail.
type refundLedger interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input ledger.RecordEventInput) (*models.LedgerEvent, error)
}

// Service owns the payment dimension of orders: confirmation from the
// provider webhook and the refund contract. Money facts commit first; the
// provider push is best-effort and retried, never rolled back.
type Service struct {
	repo     *Repository
	tx       txRunner
	orders   orderDriver
	wallets  walletCreditor
	ledger   refundLedger
	provider Provider
	outbox   outboxPublisher
	metrics  *metrics.DomainMetrics
	logg     *logger.Logger
	cfg      config.PaymentsConfig
	now      func() time.Time
}

func NewService(repo *Repository, tx txRunner, orderSvc orderDriver, wallets walletCreditor, refundLedger refundLedger, provider Provider, ob outboxPublisher, domainMetrics *metrics.DomainMetrics, logg *logger.Logger, cfg config.PaymentsConfig) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order driver required")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallet creditor required")
	}
	if refundLedger == nil {
		return nil, fmt.Errorf("refund ledger required")
	}
	if provider == nil {
		provider = NoopProvider{}
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		orders:   orderSvc,
		wallets:  wallets,
		ledger:   refundLedger,
		provider: provider,
		outbox:   ob,
		metrics:  domainMetrics,
		logg:     logg,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetByOrder returns the order's payment with refund history.
func (s *Service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// ConfirmPayment marks the order's payment paid on the provider's word and
// drives the order to confirmed. Safe to replay: a payment that already
// left pending is returned as-is.
func (s *Service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, providerRef string) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if providerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}

	payment, err := s.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == enums.PaymentStatusPaid {
		return payment, nil
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment is %s, cannot confirm", payment.Status))
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		landed, err := repo.MarkPaidGuarded(ctx, payment.ID, providerRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment paid")
		}
		if !landed {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already settled concurrently")
		}
		if err := repo.SetOrderPaymentStatus(ctx, payment.OrderID, enums.PaymentStatusPaid); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror payment status")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentConfirmed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data: payloads.PaymentConfirmedEvent{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				AmountCents: payment.AmountCents,
				Method:      payment.Method,
				Provider:    payment.Provider,
				ProviderRef: providerRef,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	// Confirmation of the order itself is a separate lifecycle write. If
	// the order moved on (cancelled, vendor-confirmed COD), that is fine.
	system := orders.Actor{UserID: payment.ID, Role: enums.ActorRoleSystem}
	if _, err := s.orders.Transition(ctx, payment.OrderID, enums.OrderStatusConfirmed, system, nil); err != nil {
		if coded := pkgerrors.As(err); coded == nil || coded.Code() != pkgerrors.CodeStateConflict {
			return nil, err
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": payment.OrderID.String()})
		s.logg.Warn(logCtx, "payment confirmed but order not confirmable: "+err.Error())
	}

	payment.Status = enums.PaymentStatusPaid
	payment.ProviderRef = &providerRef
	return payment, nil
}

// Refund applies a full or partial refund per the payment contract. The
// accounting commits in one transaction; for provider-target refunds the
// external push happens after commit and a failure only leaves the refund
// row pending for retry.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, amountCents int64, reason string, target enums.RefundTarget) (*models.Refund, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund target")
	}

	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if !payment.Status.Refundable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment is %s, not refundable", payment.Status))
	}
	if amountCents > payment.RemainingRefundableCents() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("refund %d exceeds remaining refundable %d", amountCents, payment.RemainingRefundableCents()))
	}

	var refund *models.Refund
	var order models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).First(&order, "id = ?", payment.OrderID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		created, err := s.applyRefundAccounting(ctx, tx, payment, &order, amountCents, reason, target)
		if err != nil {
			return err
		}
		refund = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	fullyRefunded := payment.RefundedCents+amountCents == payment.AmountCents
	if fullyRefunded {
		s.driveOrderRefunded(ctx, order.ID)
	}
	if target == enums.RefundTargetProvider {
		s.pushProviderRefund(ctx, payment, refund, reason)
	}
	if s.metrics != nil {
		s.metrics.IncRefund(string(target))
	}
	return refund, nil
}

// QueueFullRefund books the whole remaining refundable amount when a paid
// order is cancelled. Runs inside the cancellation transaction; the
// provider push (if any) is left for the retry loop.
func (s *Service) QueueFullRefund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil || !payment.Status.Refundable() {
		return nil
	}
	remaining := payment.RemainingRefundableCents()
	if remaining <= 0 {
		return nil
	}

	var order models.Order
	if err := tx.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	target := enums.RefundTargetProvider
	if payment.Method == enums.PaymentMethodWallet {
		target = enums.RefundTargetWallet
	}
	_, err = s.applyRefundAccounting(ctx, tx, payment, &order, remaining, reason, target)
	return err
}

// applyRefundAccounting commits the money facts of one refund: the guarded
// counter bump, the refund row, the order mirror, the ledger event, the
// wallet credit for wallet targets, and the outbox event. Provider pushes
// stay outside; the refund row leaves here pending for those.
func (s *Service) applyRefundAccounting(ctx context.Context, tx *gorm.DB, payment *models.Payment, order *models.Order, amountCents int64, reason string, target enums.RefundTarget) (*models.Refund, error) {
	repo := s.repo.WithTx(tx)

	newStatus := enums.PaymentStatusPartiallyRefunded
	if payment.RefundedCents+amountCents == payment.AmountCents {
		newStatus = enums.PaymentStatusRefunded
	}
	landed, err := repo.ApplyRefundGuarded(ctx, payment, amountCents, newStatus)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund")
	}
	if !landed {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment was refunded concurrently, retry")
	}

	refund := &models.Refund{
		PaymentID:   payment.ID,
		AmountCents: amountCents,
		Reason:      reason,
		Status:      enums.RefundStatusPending,
		Target:      target,
	}
	if err := repo.InsertRefund(ctx, refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert refund")
	}
	if err := repo.SetOrderPaymentStatus(ctx, order.ID, newStatus); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror payment status")
	}

	metadata, _ := json.Marshal(map[string]any{"refund_id": refund.ID, "target": target, "reason": reason})
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordEventInput{
		OrderID:     order.ID,
		VendorID:    order.VendorID,
		ActorID:     refund.ID,
		Type:        enums.LedgerEventTypeRefundRecorded,
		AmountCents: amountCents,
		Metadata:    metadata,
	}); err != nil {
		return nil, err
	}

	if target == enums.RefundTargetWallet {
		if _, err := s.wallets.CreditTx(ctx, tx, order.CustomerID, enums.WalletTransactionTypeRefund, amountCents, &order.OrderNumber); err != nil {
			return nil, err
		}
		done, err := repo.UpdateRefundStatus(ctx, refund.ID, enums.RefundStatusPending, enums.RefundStatusCompleted)
		if err != nil || !done {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete wallet refund")
		}
		refund.Status = enums.RefundStatusCompleted
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: payloads.PaymentRefundedEvent{
			PaymentID:      payment.ID,
			RefundID:       refund.ID,
			OrderID:        order.ID,
			AmountCents:    amountCents,
			RemainingCents: payment.AmountCents - payment.RefundedCents - amountCents,
			Target:         target,
			Status:         newStatus,
			Reason:         reason,
		},
	}); err != nil {
		return nil, err
	}
	return refund, nil
}

// ProcessPendingRefunds retries the provider push for refunds whose
// accounting is already committed. Returns how many were completed.
func (s *Service) ProcessPendingRefunds(ctx context.Context, limit int) (int, error) {
	rows, err := s.repo.ListPendingRefunds(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending refunds")
	}

	completed := 0
	for i := range rows {
		refund := rows[i]
		payment, err := s.repo.FindByID(ctx, refund.PaymentID)
		if err != nil {
			return completed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		s.pushProviderRefund(ctx, payment, &refund, refund.Reason)
		if refund.Status == enums.RefundStatusCompleted {
			completed++
			if payment.Status == enums.PaymentStatusRefunded {
				s.driveOrderRefunded(ctx, payment.OrderID)
			}
		}
	}
	return completed, nil
}

// pushProviderRefund calls the provider with a bounded timeout. A failure
// leaves the refund row pending; the committed accounting is never undone.
func (s *Service) pushProviderRefund(ctx context.Context, payment *models.Payment, refund *models.Refund, reason string) {
	timeout := s.cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ref, err := s.provider.Refund(callCtx, payment, refund.AmountCents, reason)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID.String(),
		"refund_id":  refund.ID.String(),
	})
	if err != nil {
		s.logg.Warn(logCtx, "provider refund failed, will retry: "+err.Error())
		return
	}
	done, err := s.repo.UpdateRefundStatus(ctx, refund.ID, enums.RefundStatusPending, enums.RefundStatusCompleted)
	if err != nil {
		s.logg.Warn(logCtx, "mark refund completed failed: "+err.Error())
		return
	}
	if done {
		refund.Status = enums.RefundStatusCompleted
		s.logg.Info(logCtx, "provider refund completed ref="+ref)
	}
}

// driveOrderRefunded moves the order to refunded after a full refund. The
// lifecycle may reject it (already refunded, still out for delivery); that
// is logged, not escalated.
func (s *Service) driveOrderRefunded(ctx context.Context, orderID uuid.UUID) {
	system := orders.Actor{UserID: orderID, Role: enums.ActorRoleSystem}
	if _, err := s.orders.Transition(ctx, orderID, enums.OrderStatusRefunded, system, nil); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String()})
		s.logg.Warn(logCtx, "full refund booked but order not moved to refunded: "+err.Error())
	}
}
