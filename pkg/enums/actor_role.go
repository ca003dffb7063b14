package enums

import "fmt"

// ActorRole identifies who is requesting an operation. Role lookup itself is
// an external concern; the core only consumes the resolved role.
type ActorRole string

const (
	ActorRoleCustomer      ActorRole = "customer"
	ActorRoleVendor        ActorRole = "vendor"
	ActorRoleDeliveryAgent ActorRole = "delivery_agent"
	ActorRoleAdmin         ActorRole = "admin"
	ActorRoleSystem        ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleCustomer,
	ActorRoleVendor,
	ActorRoleDeliveryAgent,
	ActorRoleAdmin,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (a ActorRole) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActorRole.
func (a ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
