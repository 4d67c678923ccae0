package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Checkout session statuses
const (
	SessionStatusInProgress      = "in_progress"
	SessionStatusAwaitingPayment = "awaiting_payment"
	SessionStatusCompleted       = "completed"
	SessionStatusPartial         = "partial"
	SessionStatusFailed          = "failed"
)

// Vendor outcome states within a checkout session
const (
	OutcomePending         = "pending"
	OutcomeAwaitingPayment = "awaiting_payment"
	OutcomeCreated         = "created"
	OutcomeFailed          = "failed"
)

// VendorOutcome records what happened to one vendor's partition
type VendorOutcome struct {
	VendorID      int64           `json:"vendor_id"`
	Status        string          `json:"status"`
	OrderID       int64           `json:"order_id,omitempty"`
	OrderNumber   string          `json:"order_number,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Total         decimal.Decimal `json:"total"`
	ErrorCode     string          `json:"error_code,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// VendorOutcomes is stored as JSONB, in processing order
type VendorOutcomes []VendorOutcome

// Value implements driver.Valuer
func (o VendorOutcomes) Value() (driver.Value, error) {
	if o == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// Scan implements sql.Scanner
func (o *VendorOutcomes) Scan(value interface{}) error {
	if value == nil {
		*o = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	default:
		return fmt.Errorf("vendor outcomes: unsupported scan type %T", value)
	}
}

// Find returns the outcome for vendorID, or nil.
func (o VendorOutcomes) Find(vendorID int64) *VendorOutcome {
	for i := range o {
		if o[i].VendorID == vendorID {
			return &o[i]
		}
	}
	return nil
}

// CheckoutSession persists one checkout submission so a pass suspended for
// payment (or interrupted) can be resumed.
type CheckoutSession struct {
	ID              string         `db:"id" json:"id"`
	CustomerID      int64          `db:"customer_id" json:"customer_id"`
	IdempotencyKey  string         `db:"idempotency_key" json:"idempotency_key"`
	AddressID       *int64         `db:"address_id" json:"address_id,omitempty"`
	PaymentMethod   string         `db:"payment_method" json:"payment_method"`
	DeliveryMethod  string         `db:"delivery_method" json:"delivery_method"`
	CapturedLat     *float64       `db:"captured_lat" json:"captured_lat,omitempty"`
	CapturedLng     *float64       `db:"captured_lng" json:"captured_lng,omitempty"`
	LastVendorID    *int64         `db:"last_vendor_id" json:"last_vendor_id,omitempty"`
	Status          string         `db:"status" json:"status"`
	PendingVendorID *int64         `db:"pending_vendor_id" json:"pending_vendor_id,omitempty"`
	PendingTxID     *string        `db:"pending_tx_id" json:"pending_tx_id,omitempty"`
	Outcomes        VendorOutcomes `db:"outcomes" json:"outcomes"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// CreatedOrderNumbers lists order numbers created so far, in processing order.
func (s *CheckoutSession) CreatedOrderNumbers() []string {
	numbers := make([]string, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		if o.Status == OutcomeCreated {
			numbers = append(numbers, o.OrderNumber)
		}
	}
	return numbers
}
