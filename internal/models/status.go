package models

// OrderStatus is the lifecycle state of a VendorOrder
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// ActorType identifies who drives a transition
type ActorType string

const (
	ActorAdmin   ActorType = "admin"
	ActorPartner ActorType = "partner"
	ActorSystem  ActorType = "system"
	// ActorCustomer may read its own orders but never drives transitions.
	ActorCustomer ActorType = "customer"
)

// Valid reports whether a is a known actor type.
func (a ActorType) Valid() bool {
	switch a {
	case ActorAdmin, ActorPartner, ActorSystem, ActorCustomer:
		return true
	}
	return false
}

// forward order of the linear lifecycle
var statusRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusConfirmed:      1,
	OrderStatusProcessing:     2,
	OrderStatusPreparing:      3,
	OrderStatusReadyForPickup: 4,
	OrderStatusShipped:        5,
	OrderStatusOutForDelivery: 6,
	OrderStatusDelivered:      7,
}

// PartnerTransitions lists what a delivery partner may do.
var PartnerTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed:      {OrderStatusOutForDelivery},
	OrderStatusProcessing:     {OrderStatusOutForDelivery},
	OrderStatusPreparing:      {OrderStatusOutForDelivery},
	OrderStatusReadyForPickup: {OrderStatusOutForDelivery},
	OrderStatusShipped:        {OrderStatusOutForDelivery},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
}

var partnerTransitionSet = buildTransitionSet(PartnerTransitions)

func buildTransitionSet(transitions map[OrderStatus][]OrderStatus) map[OrderStatus]map[OrderStatus]struct{} {
	set := make(map[OrderStatus]map[OrderStatus]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[OrderStatus]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition checks whether actor may move an order from one status to another.
// A same-status move by an admin is a tracking-info/note update on a live order.
func CanTransition(actor ActorType, from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}

	switch actor {
	case ActorAdmin, ActorSystem:
		if to == OrderStatusCancelled || to == from {
			return true
		}
		return statusRank[to] > statusRank[from]
	case ActorPartner:
		next, ok := partnerTransitionSet[from]
		if !ok {
			return false
		}
		_, ok = next[to]
		return ok
	default:
		return false
	}
}
