package enums

import "fmt"

// LedgerEventType classifies an order-scoped settlement ledger event.
type LedgerEventType string

const (
	LedgerEventTypeSettlementFinalized LedgerEventType = "settlement_finalized"
	LedgerEventTypeRefundRecorded      LedgerEventType = "refund_recorded"
	LedgerEventTypePayoutMarked        LedgerEventType = "payout_marked"
	LedgerEventTypeAdjustment          LedgerEventType = "adjustment"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeSettlementFinalized,
	LedgerEventTypeRefundRecorded,
	LedgerEventTypePayoutMarked,
	LedgerEventTypeAdjustment,
}

// IsValid reports whether the value matches a known ledger event type.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
