package enums

import "fmt"

// WalletTransactionType classifies an append-only wallet ledger entry.
type WalletTransactionType string

const (
	WalletTransactionTypeCredit     WalletTransactionType = "credit"
	WalletTransactionTypeDebit      WalletTransactionType = "debit"
	WalletTransactionTypeRefund     WalletTransactionType = "refund"
	WalletTransactionTypeAdjustment WalletTransactionType = "adjustment"
	WalletTransactionTypeWithdrawal WalletTransactionType = "withdrawal"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionTypeCredit,
	WalletTransactionTypeDebit,
	WalletTransactionTypeRefund,
	WalletTransactionTypeAdjustment,
	WalletTransactionTypeWithdrawal,
}

// String implements fmt.Stringer.
func (w WalletTransactionType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletTransactionType.
func (w WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// Debits reports whether this transaction type reduces the balance.
func (w WalletTransactionType) Debits() bool {
	return w == WalletTransactionTypeDebit || w == WalletTransactionTypeWithdrawal
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}
