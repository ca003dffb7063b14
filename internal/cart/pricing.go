package cart

import (
	"sort"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/money"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// VendorRates carries the per-vendor numbers pricing needs.
type VendorRates struct {
	DeliveryFeeCents  int64
	PackagingFeeCents int64
	TaxRateBps        int64
	CommissionRateBps int64
}

// VendorTotals is the priced slice of a cart belonging to one vendor.
type VendorTotals struct {
	VendorID          uuid.UUID
	SubtotalCents     int64
	DiscountCents     int64
	TaxCents          int64
	DeliveryFeeCents  int64
	PackagingFeeCents int64
	TotalCents        int64
}

// Totals is the full deterministic pricing of a cart. Vendors are ordered by
// vendor ID so repeated repricings produce identical output.
type Totals struct {
	SubtotalCents     int64
	TaxCents          int64
	DeliveryFeeCents  int64
	PackagingFeeCents int64
	ServiceFeeCents   int64
	DiscountCents     int64
	TotalCents        int64
	Vendors           []VendorTotals
}

// Reprice recomputes cart totals from scratch. Totals are never patched
// incrementally; every mutation calls this with the full item set.
//
// Per vendor: total = subtotal - vendor discount + tax + delivery + packaging.
// Cart level: total = sum(vendor totals) - global discount + service fee.
// Tax applies to the discounted vendor subtotal.
func Reprice(items []models.CartItem, discounts types.AppliedDiscounts, rates map[uuid.UUID]VendorRates, serviceFeeCents int64) Totals {
	byVendor := make(map[uuid.UUID][]models.CartItem)
	for _, item := range items {
		byVendor[item.VendorID] = append(byVendor[item.VendorID], item)
	}

	vendorIDs := make([]uuid.UUID, 0, len(byVendor))
	for vendorID := range byVendor {
		vendorIDs = append(vendorIDs, vendorID)
	}
	sort.Slice(vendorIDs, func(a, b int) bool {
		return vendorIDs[a].String() < vendorIDs[b].String()
	})

	totals := Totals{Vendors: make([]VendorTotals, 0, len(vendorIDs))}
	for _, vendorID := range vendorIDs {
		vendorRates := rates[vendorID]

		vt := VendorTotals{VendorID: vendorID}
		for _, item := range byVendor[vendorID] {
			vt.SubtotalCents += item.LineTotalCents
		}
		vt.DiscountCents = money.Clamp(discounts.VendorCents(vendorID), 0, vt.SubtotalCents)
		vt.TaxCents = money.BpsOf(vt.SubtotalCents-vt.DiscountCents, vendorRates.TaxRateBps)
		vt.DeliveryFeeCents = vendorRates.DeliveryFeeCents
		vt.PackagingFeeCents = vendorRates.PackagingFeeCents
		vt.TotalCents = vt.SubtotalCents - vt.DiscountCents + vt.TaxCents + vt.DeliveryFeeCents + vt.PackagingFeeCents

		totals.SubtotalCents += vt.SubtotalCents
		totals.TaxCents += vt.TaxCents
		totals.DeliveryFeeCents += vt.DeliveryFeeCents
		totals.PackagingFeeCents += vt.PackagingFeeCents
		totals.DiscountCents += vt.DiscountCents
		totals.TotalCents += vt.TotalCents
		totals.Vendors = append(totals.Vendors, vt)
	}

	if len(items) > 0 {
		globalDiscount := money.Clamp(discounts.GlobalCents(), 0, totals.TotalCents)
		totals.DiscountCents += globalDiscount
		totals.ServiceFeeCents = serviceFeeCents
		totals.TotalCents = totals.TotalCents - globalDiscount + serviceFeeCents
	}
	return totals
}
