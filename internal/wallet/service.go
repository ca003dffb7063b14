package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/metrics"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
)

// maxApplyAttempts bounds the optimistic retry loop on version misses.
const maxApplyAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns wallet balances. Every mutation is a version-checked
// read-modify-write that appends a WalletTransaction carrying the balance
// after the entry; debits fail closed rather than go negative.
type Service struct {
	repo    *Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.DomainMetrics
	logg    *logger.Logger
}

func NewService(repo *Repository, tx txRunner, ob outboxPublisher, domainMetrics *metrics.DomainMetrics, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Service{repo: repo, tx: tx, outbox: ob, metrics: domainMetrics, logg: logg}, nil
}

// Get returns the user's wallet, creating an empty one on first touch.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	wallet, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	if wallet != nil {
		return wallet, nil
	}
	fresh := &models.Wallet{UserID: userID}
	if err := s.repo.Create(ctx, fresh); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	return fresh, nil
}

// Credit adds funds to the user's wallet.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	return s.apply(ctx, userID, enums.WalletTransactionTypeCredit, amountCents, reference)
}

// Debit removes funds; fails with InsufficientFunds below zero.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	return s.apply(ctx, userID, enums.WalletTransactionTypeDebit, amountCents, reference)
}

// Withdraw moves funds out to an external destination; same floor as Debit.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	return s.apply(ctx, userID, enums.WalletTransactionTypeWithdrawal, amountCents, reference)
}

// Refund credits a refund back onto the wallet.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	return s.apply(ctx, userID, enums.WalletTransactionTypeRefund, amountCents, reference)
}

// Adjust applies a signed manual correction: positive credits, negative
// debits, with the same zero floor.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	if amountCents == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
	}
	if amountCents < 0 {
		return s.applySigned(ctx, userID, enums.WalletTransactionTypeAdjustment, -amountCents, -1, reference)
	}
	return s.applySigned(ctx, userID, enums.WalletTransactionTypeAdjustment, amountCents, +1, reference)
}

// CreditTx credits inside the caller's transaction. Used by settlement and
// wallet-target refunds, which must commit atomically with their own rows.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.WalletTransactionType, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if txType.Debits() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "CreditTx does not apply debits")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	if wallet == nil {
		wallet = &models.Wallet{UserID: userID}
		if err := repo.Create(ctx, wallet); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
		}
	}
	return s.commitEntry(ctx, repo, tx, wallet, txType, amountCents, wallet.BalanceCents+amountCents, reference)
}

func (s *Service) apply(ctx context.Context, userID uuid.UUID, txType enums.WalletTransactionType, amountCents int64, reference *string) (*models.WalletTransaction, error) {
	sign := int64(+1)
	if txType.Debits() {
		sign = -1
	}
	return s.applySigned(ctx, userID, txType, amountCents, sign, reference)
}

// applySigned runs the version-checked mutation with a bounded retry loop.
// A version miss means another mutation landed between our read and write;
// the re-read picks up the fresh balance so concurrent debits cannot both
// pass the zero floor.
func (s *Service) applySigned(ctx context.Context, userID uuid.UUID, txType enums.WalletTransactionType, amountCents int64, sign int64, reference *string) (*models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		wallet, err := s.Get(ctx, userID)
		if err != nil {
			return nil, err
		}

		newBalance := wallet.BalanceCents + sign*amountCents
		if newBalance < 0 {
			s.metrics.IncWalletRejection()
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance")
		}

		var entry *models.WalletTransaction
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			entry, err = s.commitEntry(ctx, repo, tx, wallet, txType, amountCents, newBalance, reference)
			return err
		})
		if err == nil {
			return entry, nil
		}
		if !isVersionMiss(err) {
			return nil, err
		}
		retrySleep(attempt)
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet busy, retry")
}

// commitEntry performs the guarded balance write plus the ledger append and
// emits the wallet event, all inside tx.
func (s *Service) commitEntry(ctx context.Context, repo *Repository, tx *gorm.DB, wallet *models.Wallet, txType enums.WalletTransactionType, amountCents, newBalance int64, reference *string) (*models.WalletTransaction, error) {
	ok, err := repo.UpdateBalanceVersioned(ctx, wallet.ID, wallet.Version, newBalance)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	if !ok {
		return nil, errVersionMiss
	}

	entry := &models.WalletTransaction{
		WalletID:          wallet.ID,
		Type:              txType,
		AmountCents:       amountCents,
		BalanceAfterCents: newBalance,
		Reference:         reference,
	}
	if err := repo.AppendTransaction(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
	}

	if s.outbox != nil {
		var ref string
		if reference != nil {
			ref = *reference
		}
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletTransaction,
			AggregateType: enums.AggregateWallet,
			AggregateID:   wallet.ID,
			Data: payloads.WalletTransactionEvent{
				WalletID:          wallet.ID,
				UserID:            wallet.UserID,
				TransactionID:     entry.ID,
				Type:              txType,
				AmountCents:       amountCents,
				BalanceAfterCents: newBalance,
				Reference:         ref,
			},
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit wallet event")
		}
	}
	return entry, nil
}

// Recompute derives the balance from the full transaction ledger and reports
// drift against the stored balance. It never repairs silently.
func (s *Service) Recompute(ctx context.Context, userID uuid.UUID) (stored, derived int64, err error) {
	wallet, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	if wallet == nil {
		return 0, 0, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	derived, err = s.repo.SumTransactions(ctx, wallet.ID)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum wallet transactions")
	}
	if derived != wallet.BalanceCents {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"wallet_id": wallet.ID.String(),
			"stored":    wallet.BalanceCents,
			"derived":   derived,
		})
		s.logg.Error(logCtx, "wallet balance drift", nil)
	}
	return wallet.BalanceCents, derived, nil
}

// ListTransactions returns the newest ledger entries for the user's wallet.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	wallet, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListTransactions(ctx, wallet.ID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	return rows, nil
}

var errVersionMiss = versionMissError{}

type versionMissError struct{}

func (versionMissError) Error() string { return "wallet version miss" }

func isVersionMiss(err error) bool {
	_, ok := err.(versionMissError)
	return ok
}

func retrySleep(attempt int) {
	time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
}
