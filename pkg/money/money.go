// Package money implements integer-cent arithmetic for pricing and
// settlement. All amounts flow through the system as int64 cents; percentage
// application rounds half-up through a single code path so order totals and
// earnings splits remain exact.
package money

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Cents is an amount of money in integer cents.
type Cents = int64

// BpsOf applies a basis-point rate (1 bps = 0.01%) to an amount, rounding
// half-up to the nearest cent.
func BpsOf(amount Cents, bps int64) Cents {
	if amount == 0 || bps == 0 {
		return 0
	}
	result := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	return result.IntPart()
}

// PercentOf applies a whole-percentage rate to an amount, rounding half-up.
func PercentOf(amount Cents, percent int64) Cents {
	return BpsOf(amount, percent*100)
}

// Clamp bounds value to [min, max]. A max of zero means "no upper bound",
// matching how optional discount caps are stored.
func Clamp(value, min, max Cents) Cents {
	if value < min {
		return min
	}
	if max > 0 && value > max {
		return max
	}
	return value
}

// NonNegative floors an amount at zero.
func NonNegative(value Cents) Cents {
	if value < 0 {
		return 0
	}
	return value
}

// Allocate splits an amount across the given weights proportionally, using
// the largest-remainder method so the shares always sum to exactly the
// amount. Zero or negative weights receive nothing.
func Allocate(amount Cents, weights []Cents) []Cents {
	shares := make([]Cents, len(weights))
	if amount == 0 || len(weights) == 0 {
		return shares
	}

	var totalWeight int64
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return shares
	}

	type remainder struct {
		index int
		frac  decimal.Decimal
	}
	remainders := make([]remainder, 0, len(weights))
	var allocated Cents
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		exact := decimal.NewFromInt(amount).
			Mul(decimal.NewFromInt(w)).
			Div(decimal.NewFromInt(totalWeight))
		floor := exact.Floor()
		shares[i] = floor.IntPart()
		allocated += shares[i]
		remainders = append(remainders, remainder{index: i, frac: exact.Sub(floor)})
	}

	// Hand the leftover cents to the largest fractional shares first,
	// breaking ties by position for determinism.
	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].frac.GreaterThan(remainders[b].frac)
	})
	for i := 0; allocated < amount && i < len(remainders); i++ {
		shares[remainders[i].index]++
		allocated++
	}
	return shares
}
