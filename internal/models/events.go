package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePartnerAssigned    = "DELIVERY_PARTNER_ASSIGNED"
	EventTypePaymentVerified    = "PAYMENT_VERIFIED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypeCODCollected       = "COD_COLLECTED"
	EventTypeCheckoutCompleted  = "CHECKOUT_COMPLETED"
	EventTypeTrackingFix        = "TRACKING_FIX"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event ID and timestamp
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderPlacedEvent published when a vendor order is written
type OrderPlacedEvent struct {
	BaseEvent
	OrderID           int64           `json:"order_id"`
	OrderNumber       string          `json:"order_number"`
	CheckoutSessionID string          `json:"checkout_session_id"`
	CustomerID        int64           `json:"customer_id"`
	VendorID          int64           `json:"vendor_id"`
	Total             decimal.Decimal `json:"total"`
	PaymentMethod     string          `json:"payment_method"`
	PaymentStatus     string          `json:"payment_status"`
	Items             []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every accepted transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64       `json:"order_id"`
	VendorID   int64       `json:"vendor_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorType  ActorType   `json:"actor_type"`
	Note       string      `json:"note,omitempty"`
}

// PartnerAssignedEvent published when a delivery partner is (re)assigned
type PartnerAssignedEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	VendorID  int64 `json:"vendor_id"`
	PartnerID int64 `json:"partner_id"`
}

// PaymentEvent published when a gateway payment is verified or fails
type PaymentEvent struct {
	BaseEvent
	CheckoutSessionID string          `json:"checkout_session_id"`
	VendorID          int64           `json:"vendor_id"`
	Gateway           string          `json:"gateway"`
	ExternalTxID      string          `json:"external_tx_id"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason,omitempty"`
}

// CODCollectedEvent published when cash is reconciled against an order
type CODCollectedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// CheckoutCompletedEvent published when a checkout session finishes its pass
type CheckoutCompletedEvent struct {
	BaseEvent
	CheckoutSessionID string   `json:"checkout_session_id"`
	CustomerID        int64    `json:"customer_id"`
	Status            string   `json:"status"`
	OrderNumbers      []string `json:"order_numbers"`
}

// TrackingFixEvent is produced by courier devices onto the tracking topic
type TrackingFixEvent struct {
	BaseEvent
	OrderID    int64     `json:"order_id"`
	PartnerID  int64     `json:"partner_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
