package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

// walletCreditor is the slice of the wallet service settlement needs.
type walletCreditor interface {
	CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.WalletTransactionType, amountCents int64, reference *string) (*models.WalletTransaction, error)
}

// RecordEventInput captures the immutable data one ledger event requires.
type RecordEventInput struct {
	OrderID     uuid.UUID
	VendorID    uuid.UUID
	ActorID     uuid.UUID
	Type        enums.LedgerEventType
	AmountCents int64
	Metadata    json.RawMessage
}

// Service owns the settlement ledger. Finalization events are recorded at
// most once per order; the HasEvent guard plus a partial unique index keep
// retried deliveries from double-crediting a vendor.
type Service struct {
	repo    *Repository
	wallets walletCreditor
	logg    *logger.Logger
}

func NewService(repo *Repository, wallets walletCreditor, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallet creditor required")
	}
	return &Service{repo: repo, wallets: wallets, logg: logg}, nil
}

// RecordEvent appends one event inside the caller's transaction.
func (s *Service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordEventInput) (*models.LedgerEvent, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown ledger event type")
	}

	event := &models.LedgerEvent{
		OrderID:     input.OrderID,
		VendorID:    input.VendorID,
		ActorID:     input.ActorID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Metadata:    input.Metadata,
	}
	if err := s.repo.WithTx(tx).Insert(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger event")
	}
	return event, nil
}

// HasEvent reports whether the order already carries an event of this type.
func (s *Service) HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	exists, err := s.repo.Exists(ctx, orderID, eventType)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ledger event")
	}
	return exists, nil
}

// FinalizeSettlement flips the order's earnings from pending to finalized,
// records the settlement event, and credits the vendor's wallet with its
// earnings. Runs inside the caller's delivery transaction and is a no-op
// when the order was already finalized.
func (s *Service) FinalizeSettlement(ctx context.Context, tx *gorm.DB, order *models.Order, actorID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}

	done, err := s.repo.WithTx(tx).Exists(ctx, order.ID, enums.LedgerEventTypeSettlementFinalized)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check settlement event")
	}
	if done {
		return nil
	}

	result := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND earnings_finalized = ?", order.ID, false).
		Update("earnings_finalized", true)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "finalize order earnings")
	}
	if result.RowsAffected == 0 {
		return nil
	}
	order.EarningsFinalized = true

	if _, err := s.RecordEvent(ctx, tx, RecordEventInput{
		OrderID:     order.ID,
		VendorID:    order.VendorID,
		ActorID:     actorID,
		Type:        enums.LedgerEventTypeSettlementFinalized,
		AmountCents: order.VendorEarningsCents,
	}); err != nil {
		return err
	}

	reference := order.OrderNumber
	if _, err := s.wallets.CreditTx(ctx, tx, order.VendorID, enums.WalletTransactionTypeCredit, order.VendorEarningsCents, &reference); err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":              order.ID.String(),
		"vendor_id":             order.VendorID.String(),
		"vendor_earnings_cents": order.VendorEarningsCents,
	})
	s.logg.Info(logCtx, "settlement finalized")
	return nil
}

// MarkPayout records that a vendor's finalized earnings for the order were
// handed to the payout collaborator. Idempotent like finalization.
func (s *Service) MarkPayout(ctx context.Context, tx *gorm.DB, order *models.Order, actorID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !order.EarningsFinalized {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "earnings not finalized")
	}
	done, err := s.repo.WithTx(tx).Exists(ctx, order.ID, enums.LedgerEventTypePayoutMarked)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payout event")
	}
	if done {
		return nil
	}
	_, err = s.RecordEvent(ctx, tx, RecordEventInput{
		OrderID:     order.ID,
		VendorID:    order.VendorID,
		ActorID:     actorID,
		Type:        enums.LedgerEventTypePayoutMarked,
		AmountCents: order.VendorEarningsCents,
	})
	return err
}

// ListByOrder exposes the order's ledger trail.
func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return rows, nil
}
