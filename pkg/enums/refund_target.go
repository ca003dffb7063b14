package enums

import "fmt"

// RefundTarget identifies where refunded money goes: back to the original
// payment instrument or onto the platform wallet.
type RefundTarget string

const (
	RefundTargetProvider RefundTarget = "provider"
	RefundTargetWallet   RefundTarget = "wallet"
)

var validRefundTargets = []RefundTarget{
	RefundTargetProvider,
	RefundTargetWallet,
}

// String implements fmt.Stringer.
func (r RefundTarget) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundTarget.
func (r RefundTarget) IsValid() bool {
	for _, candidate := range validRefundTargets {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundTarget converts raw input into a RefundTarget.
func ParseRefundTarget(value string) (RefundTarget, error) {
	for _, candidate := range validRefundTargets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund target %q", value)
}
