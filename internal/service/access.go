package service

import (
	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// Actor is the caller driving an operation. Authentication happens upstream;
// ID is the admin, partner or customer id depending on Type, and VendorID
// scopes an admin to one vendor.
type Actor struct {
	Type     models.ActorType
	ID       int64
	VendorID int64
}

// SystemActor is used by internal callers.
var SystemActor = Actor{Type: models.ActorSystem}

func (a Actor) idPtr() *int64 {
	if a.ID == 0 {
		return nil
	}
	id := a.ID
	return &id
}

func forbidden(message string) error {
	return apperr.New(apperr.CodeForbidden, message)
}

// authorizeRead allows the owning customer, the vendor's admin, the assigned
// partner and the system.
func authorizeRead(actor Actor, order *models.VendorOrder) error {
	switch actor.Type {
	case models.ActorSystem:
		return nil
	case models.ActorCustomer:
		if actor.ID != 0 && order.CustomerID == actor.ID {
			return nil
		}
	case models.ActorAdmin, models.ActorPartner:
		return authorizeWrite(actor, order)
	}
	return forbidden("order is not visible to this caller")
}

// authorizeWrite allows the vendor's admin, the assigned partner and the system.
func authorizeWrite(actor Actor, order *models.VendorOrder) error {
	switch actor.Type {
	case models.ActorSystem:
		return nil
	case models.ActorAdmin:
		if actor.VendorID != 0 && order.VendorID == actor.VendorID {
			return nil
		}
		return forbidden("order belongs to another vendor")
	case models.ActorPartner:
		if actor.ID != 0 && order.DeliveryPartnerID != nil && *order.DeliveryPartnerID == actor.ID {
			return nil
		}
		return forbidden("order is not assigned to this partner")
	}
	return forbidden("caller may not modify orders")
}
