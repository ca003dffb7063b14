package wallet

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
)

func newWalletService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := "file:wallet_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(&models.Wallet{}, &models.WalletTransaction{}, &models.OutboxEvent{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(
		NewRepository(conn),
		dbpkg.NewFromConn(conn),
		outbox.NewService(outbox.NewRepository(conn), logg),
		nil,
		logg,
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, conn
}

func TestCreditAndDebit(t *testing.T) {
	svc, db := newWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	entry, err := svc.Credit(ctx, userID, 1000, nil)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if entry.BalanceAfterCents != 1000 {
		t.Fatalf("balance after credit = %d, want 1000", entry.BalanceAfterCents)
	}

	entry, err = svc.Debit(ctx, userID, 400, nil)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if entry.BalanceAfterCents != 600 {
		t.Fatalf("balance after debit = %d, want 600", entry.BalanceAfterCents)
	}

	wallet, err := svc.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if wallet.BalanceCents != 600 || wallet.Version != 2 {
		t.Fatalf("wallet = balance %d version %d, want 600/2", wallet.BalanceCents, wallet.Version)
	}

	// Each mutation ledgered and published.
	var entries, events int64
	if err := db.Model(&models.WalletTransaction{}).Count(&entries).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if entries != 2 {
		t.Fatalf("transactions = %d, want 2", entries)
	}
	if err := db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventWalletTransaction).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 2 {
		t.Fatalf("wallet events = %d, want 2", events)
	}
}

func TestDebitFailsClosed(t *testing.T) {
	svc, db := newWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Credit(ctx, userID, 300, nil); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	_, err := svc.Debit(ctx, userID, 500, nil)
	assertCode(t, err, pkgerrors.CodeInsufficientFunds)

	_, err = svc.Withdraw(ctx, userID, 301, nil)
	assertCode(t, err, pkgerrors.CodeInsufficientFunds)

	// The failed attempts left no ledger entries behind.
	var entries int64
	if err := db.Model(&models.WalletTransaction{}).Count(&entries).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if entries != 1 {
		t.Fatalf("transactions = %d, want 1", entries)
	}
}

func TestAdjustSigned(t *testing.T) {
	svc, _ := newWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Adjust(ctx, userID, 0, nil); err == nil {
		t.Fatal("zero adjustment accepted")
	}

	entry, err := svc.Adjust(ctx, userID, 250, nil)
	if err != nil {
		t.Fatalf("Adjust up: %v", err)
	}
	if entry.BalanceAfterCents != 250 {
		t.Fatalf("balance = %d, want 250", entry.BalanceAfterCents)
	}

	entry, err = svc.Adjust(ctx, userID, -100, nil)
	if err != nil {
		t.Fatalf("Adjust down: %v", err)
	}
	if entry.BalanceAfterCents != 150 {
		t.Fatalf("balance = %d, want 150", entry.BalanceAfterCents)
	}

	_, err = svc.Adjust(ctx, userID, -200, nil)
	assertCode(t, err, pkgerrors.CodeInsufficientFunds)
}

// A write against a stale version must lose; nothing may be ledgered for it.
func TestStaleVersionWriteLoses(t *testing.T) {
	svc, db := newWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Credit(ctx, userID, 1000, nil); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	stale, err := svc.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// A concurrent writer lands first.
	if _, err := svc.Debit(ctx, userID, 100, nil); err != nil {
		t.Fatalf("concurrent Debit: %v", err)
	}

	err = svc.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := svc.commitEntry(ctx, svc.repo.WithTx(tx), tx, stale, enums.WalletTransactionTypeDebit, 100, stale.BalanceCents-100, nil)
		return err
	})
	if !isVersionMiss(err) {
		t.Fatalf("stale write error = %v, want version miss", err)
	}

	var entries int64
	if err := db.Model(&models.WalletTransaction{}).Count(&entries).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if entries != 2 {
		t.Fatalf("transactions = %d, want 2", entries)
	}
}

func TestRecomputeMatchesLedger(t *testing.T) {
	svc, _ := newWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Credit(ctx, userID, 900, nil); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := svc.Debit(ctx, userID, 300, nil); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	ref := "refund-1"
	if _, err := svc.Refund(ctx, userID, 150, &ref); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	stored, derived, err := svc.Recompute(ctx, userID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if stored != 750 || derived != 750 {
		t.Fatalf("stored=%d derived=%d, want 750/750", stored, derived)
	}
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
