package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
)

// CheckoutStore is the persistence used by the checkout saga.
type CheckoutStore interface {
	GetCartLines(ctx context.Context, customerID int64) ([]models.CartLine, error)
	ClearCartForVendors(ctx context.Context, customerID int64, vendorIDs []int64) error
	GetAddress(ctx context.Context, id int64) (*models.Address, error)
	GetVendorSettings(ctx context.Context, vendorID int64) (*models.VendorSettings, error)

	CreateCheckoutSession(ctx context.Context, session *models.CheckoutSession) error
	GetCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error)
	GetCheckoutSessionByKey(ctx context.Context, key string) (*models.CheckoutSession, error)
	SaveCheckoutSession(ctx context.Context, session *models.CheckoutSession) error

	CreateVendorOrder(ctx context.Context, order *models.VendorOrder, items []models.OrderItem, paymentTxID *int64) error
	GetOrderBySessionAndVendor(ctx context.Context, sessionID string, vendorID int64) (*models.VendorOrder, error)

	CreatePaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetPaymentTransaction(ctx context.Context, gateway, externalTxID string) (*models.PaymentTransaction, error)
	UpdatePaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error
}

// OrderReader loads orders for access checks and reads.
type OrderReader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.VendorOrder, error)
}

// FulfillmentStore is the persistence used after an order exists.
type FulfillmentStore interface {
	OrderReader
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetStatusHistory(ctx context.Context, orderID int64) ([]models.StatusHistory, error)
	GetDeliveryPartner(ctx context.Context, id int64) (*models.DeliveryPartner, error)
	ApplyTransition(ctx context.Context, t store.Transition) (*store.TransitionResult, error)
	AssignPartner(ctx context.Context, orderID, partnerID int64, actor models.ActorType, actorID *int64) (*models.VendorOrder, error)
	RecordCODCollection(ctx context.Context, orderID int64, amount decimal.Decimal, reference string, actor models.ActorType, actorID *int64) (*models.VendorOrder, error)
}

// TrackingStore persists GPS fixes.
type TrackingStore interface {
	OrderReader
	InsertTrackingPoint(ctx context.Context, p *models.TrackingPoint) error
	ListTrackingPoints(ctx context.Context, orderID int64) ([]models.TrackingPoint, error)
}

// EventPublisher emits domain events after commit.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPartnerAssigned(ctx context.Context, event *models.PartnerAssignedEvent) error
	PublishPayment(ctx context.Context, event *models.PaymentEvent) error
	PublishCODCollected(ctx context.Context, event *models.CODCollectedEvent) error
	PublishCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error
}

// storeError classifies a store sentinel into an application error.
func storeError(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, what+" not found")
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.CodeConflict, err, what+" already exists")
	case errors.Is(err, store.ErrStaleState):
		return apperr.Wrap(apperr.CodeStateConflict, err, what+" changed concurrently")
	default:
		return fmt.Errorf("failed to load %s: %w", what, err)
	}
}

// lockError maps a failed lock acquisition.
func lockError(err error, message string) error {
	if errors.Is(err, redisclient.ErrLockHeld) {
		return apperr.New(apperr.CodeConflict, message)
	}
	return apperr.Wrap(apperr.CodeDependency, err, "lock service unavailable")
}
