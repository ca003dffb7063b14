package enums

import "fmt"

// DiscountScope replaces the implicit "shop field absent means global"
// convention with an explicit tagged value.
type DiscountScope string

const (
	DiscountScopeGlobal DiscountScope = "global"
	DiscountScopeVendor DiscountScope = "vendor"
)

var validDiscountScopes = []DiscountScope{
	DiscountScopeGlobal,
	DiscountScopeVendor,
}

// String implements fmt.Stringer.
func (d DiscountScope) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DiscountScope.
func (d DiscountScope) IsValid() bool {
	for _, candidate := range validDiscountScopes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDiscountScope converts raw input into a DiscountScope.
func ParseDiscountScope(value string) (DiscountScope, error) {
	for _, candidate := range validDiscountScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount scope %q", value)
}
