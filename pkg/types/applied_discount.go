package types

import (
	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// AppliedDiscount is the resolved discount snapshot stored on a cart. The
// scope is an explicit tagged value: VendorID is set if and only if the scope
// is vendor.
type AppliedDiscount struct {
	PromotionID uuid.UUID           `json:"promotion_id"`
	Code        string              `json:"code"`
	Type        enums.PromotionType `json:"type"`
	Scope       enums.DiscountScope `json:"scope"`
	VendorID    *uuid.UUID          `json:"vendor_id,omitempty"`
	AmountCents int64               `json:"amount_cents"`
}

// AppliedDiscounts is persisted as a jsonb column.
type AppliedDiscounts []AppliedDiscount

// HasCode reports whether the same coupon code is already applied.
func (d AppliedDiscounts) HasCode(code string) bool {
	for _, entry := range d {
		if entry.Code == code {
			return true
		}
	}
	return false
}

// TotalCents sums all applied discount amounts.
func (d AppliedDiscounts) TotalCents() int64 {
	var total int64
	for _, entry := range d {
		total += entry.AmountCents
	}
	return total
}

// VendorCents sums discounts scoped to the given vendor.
func (d AppliedDiscounts) VendorCents(vendorID uuid.UUID) int64 {
	var total int64
	for _, entry := range d {
		if entry.Scope == enums.DiscountScopeVendor && entry.VendorID != nil && *entry.VendorID == vendorID {
			total += entry.AmountCents
		}
	}
	return total
}

// GlobalCents sums cart-wide discounts.
func (d AppliedDiscounts) GlobalCents() int64 {
	var total int64
	for _, entry := range d {
		if entry.Scope == enums.DiscountScopeGlobal {
			total += entry.AmountCents
		}
	}
	return total
}

// Without returns a copy with the given code removed.
func (d AppliedDiscounts) Without(code string) AppliedDiscounts {
	out := make(AppliedDiscounts, 0, len(d))
	for _, entry := range d {
		if entry.Code != code {
			out = append(out, entry)
		}
	}
	return out
}
