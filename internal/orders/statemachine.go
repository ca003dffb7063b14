package orders

import (
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

// transitionTable is the single source of truth for the order lifecycle:
// which edges exist and which actor roles may walk each one. Admin and
// system are listed explicitly so the table reads as the full permission
// matrix, not as rules plus exceptions.
var transitionTable = map[enums.OrderStatus]map[enums.OrderStatus][]enums.ActorRole{
	enums.OrderStatusPending: {
		enums.OrderStatusConfirmed: {enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusCancelled: {enums.ActorRoleCustomer, enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusRefunded:  {enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusFailed:    {enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusProcessing: {enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusCancelled:  {enums.ActorRoleCustomer, enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusRefunded:   {enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusProcessing: {
		enums.OrderStatusReadyForPickup: {enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusCancelled:      {enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusRefunded:       {enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusFailed:         {enums.ActorRoleDeliveryAgent, enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusReadyForPickup: {
		enums.OrderStatusOutForDelivery: {enums.ActorRoleDeliveryAgent, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusFailed:         {enums.ActorRoleDeliveryAgent, enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusOutForDelivery: {
		enums.OrderStatusDelivered: {enums.ActorRoleDeliveryAgent, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusFailed:    {enums.ActorRoleDeliveryAgent, enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusCompleted: {enums.ActorRoleCustomer, enums.ActorRoleAdmin, enums.ActorRoleSystem},
		enums.OrderStatusReturned:  {enums.ActorRoleCustomer, enums.ActorRoleAdmin},
		enums.OrderStatusRefunded:  {enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusReturned: {
		enums.OrderStatusRefunded: {enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
	enums.OrderStatusCancelled: {
		enums.OrderStatusRefunded: {enums.ActorRoleAdmin, enums.ActorRoleSystem},
	},
}

// EdgeExists reports whether the lifecycle allows from -> to for any role.
func EdgeExists(from, to enums.OrderStatus) bool {
	edges, ok := transitionTable[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}

// RoleMayTransition reports whether the role is permitted on the from -> to
// edge. Unknown edges are never permitted.
func RoleMayTransition(from, to enums.OrderStatus, role enums.ActorRole) bool {
	edges, ok := transitionTable[from]
	if !ok {
		return false
	}
	roles, ok := edges[to]
	if !ok {
		return false
	}
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// deliveryEdges is the courier sub-machine. It is deliberately smaller than
// the order lifecycle: an agent only ever moves their own assignment forward
// or fails it.
var deliveryEdges = map[enums.DeliveryStatus][]enums.DeliveryStatus{
	enums.DeliveryStatusAssigned:  {enums.DeliveryStatusPickedUp, enums.DeliveryStatusFailed},
	enums.DeliveryStatusPickedUp:  {enums.DeliveryStatusInTransit, enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed},
	enums.DeliveryStatusInTransit: {enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed},
}

// DeliveryEdgeExists reports whether the courier sub-machine allows
// from -> to. Delivered and failed are terminal.
func DeliveryEdgeExists(from, to enums.DeliveryStatus) bool {
	for _, candidate := range deliveryEdges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
