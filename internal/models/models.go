package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Shop types
const (
	ShopTypeFood    = "food"
	ShopTypeRetail  = "retail"
	ShopTypeGrocery = "grocery"
)

// Customer-selected payment methods
const (
	PaymentChoiceCOD    = "cod"
	PaymentChoiceOnline = "online"
)

// Order payment methods
const (
	PaymentMethodCOD      = "cod"
	PaymentMethodRazorpay = "razorpay"
	PaymentMethodPhonePe  = "phonepe"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Delivery methods
const (
	DeliveryMethodDelivery = "delivery"
	DeliveryMethodPickup   = "pickup"
)

// Shipping zones
const (
	ZoneIn  = "in_zone"
	ZoneOut = "out_of_zone"
)

// Product represents a catalog product with on-hand stock
type Product struct {
	ID        int64           `db:"id" json:"id"`
	VendorID  int64           `db:"vendor_id" json:"vendor_id"`
	Name      string          `db:"name" json:"name"`
	ImageURL  string          `db:"image_url" json:"image_url"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// CartLine is one product at a quantity in a customer's cart, joined with
// the product snapshot used at checkout time.
type CartLine struct {
	ID           int64           `db:"id" json:"id"`
	CustomerID   int64           `db:"customer_id" json:"customer_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	VendorID     int64           `db:"vendor_id" json:"vendor_id"`
	ProductName  string          `db:"product_name" json:"product_name"`
	ProductImage string          `db:"product_image" json:"product_image"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	CustomWeight *string         `db:"custom_weight" json:"custom_weight,omitempty"`
}

// LineTotal returns unit price × quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Address is a saved delivery destination
type Address struct {
	ID         int64   `db:"id" json:"id"`
	CustomerID int64   `db:"customer_id" json:"customer_id"`
	FullName   string  `db:"full_name" json:"full_name"`
	Phone      string  `db:"phone" json:"phone"`
	Line1      string  `db:"line1" json:"line1"`
	Line2      string  `db:"line2" json:"line2"`
	City       string  `db:"city" json:"city"`
	State      string  `db:"state" json:"state"`
	PostalCode string  `db:"postal_code" json:"postal_code"`
	GeoLink    *string `db:"geo_link" json:"geo_link,omitempty"`
}

// ExtraCharge is a flat per-order charge configured by a vendor
type ExtraCharge struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// ExtraCharges is stored as JSONB
type ExtraCharges []ExtraCharge

// Value implements driver.Valuer
func (e ExtraCharges) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner
func (e *ExtraCharges) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("extra charges: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, e)
}

// Sum adds up all charge amounts.
func (e ExtraCharges) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, c := range e {
		total = total.Add(c.Amount)
	}
	return total
}

// VendorSettings is a vendor's fulfillment configuration. Zero values mean
// "not configured"; see shipping and payment packages for the defaults.
type VendorSettings struct {
	VendorID            int64           `db:"vendor_id" json:"vendor_id" validate:"required"`
	Name                string          `db:"name" json:"name"`
	ShopType            string          `db:"shop_type" json:"shop_type" validate:"omitempty,oneof=food retail grocery"`
	InZoneShippingCost  decimal.Decimal `db:"in_zone_shipping_cost" json:"in_zone_shipping_cost"`
	OutZoneShippingCost decimal.Decimal `db:"out_zone_shipping_cost" json:"out_zone_shipping_cost"`
	FreeDeliveryAbove   decimal.Decimal `db:"free_delivery_above" json:"free_delivery_above"`
	InZoneSLADays       int             `db:"in_zone_sla_days" json:"in_zone_sla_days" validate:"gte=0"`
	OutZoneSLADays      int             `db:"out_zone_sla_days" json:"out_zone_sla_days" validate:"gte=0"`
	ZoneStates          pq.StringArray  `db:"zone_states" json:"zone_states"`
	ZonePostalFrom      int             `db:"zone_postal_from" json:"zone_postal_from" validate:"gte=0"`
	ZonePostalTo        int             `db:"zone_postal_to" json:"zone_postal_to" validate:"gtefield=ZonePostalFrom"`
	CODEnabled          bool            `db:"cod_enabled" json:"cod_enabled"`
	OnlineEnabled       bool            `db:"online_enabled" json:"online_enabled"`
	RazorpayKeyID       string          `db:"razorpay_key_id" json:"-"`
	RazorpayKeySecret   string          `db:"razorpay_key_secret" json:"-"`
	PhonePeMerchantID   string          `db:"phonepe_merchant_id" json:"-"`
	PhonePeSaltKey      string          `db:"phonepe_salt_key" json:"-"`
	PhonePeSaltIndex    int             `db:"phonepe_salt_index" json:"-"`
	ServiceAreaEnabled  bool            `db:"service_area_enabled" json:"service_area_enabled"`
	ServiceCenterLat    float64         `db:"service_center_lat" json:"service_center_lat" validate:"gte=-90,lte=90"`
	ServiceCenterLng    float64         `db:"service_center_lng" json:"service_center_lng" validate:"gte=-180,lte=180"`
	ServiceRadiusKm     float64         `db:"service_radius_km" json:"service_radius_km" validate:"required_if=ServiceAreaEnabled true,gte=0"`
	SelfPickupEnabled   bool            `db:"self_pickup_enabled" json:"self_pickup_enabled"`
	ExtraCharges        ExtraCharges    `db:"extra_charges" json:"extra_charges"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// RazorpayConfigured reports whether Razorpay credentials are present.
func (v *VendorSettings) RazorpayConfigured() bool {
	return v != nil && v.RazorpayKeyID != "" && v.RazorpayKeySecret != ""
}

// PhonePeConfigured reports whether PhonePe credentials are present.
func (v *VendorSettings) PhonePeConfigured() bool {
	return v != nil && v.PhonePeMerchantID != "" && v.PhonePeSaltKey != ""
}

// VendorOrder is one vendor's slice of a checkout
type VendorOrder struct {
	ID                    int64               `db:"id" json:"id"`
	OrderNumber           string              `db:"order_number" json:"order_number"`
	CheckoutSessionID     string              `db:"checkout_session_id" json:"checkout_session_id"`
	CustomerID            int64               `db:"customer_id" json:"customer_id"`
	VendorID              int64               `db:"vendor_id" json:"vendor_id"`
	AddressID             *int64              `db:"address_id" json:"address_id,omitempty"`
	DeliveryMethod        string              `db:"delivery_method" json:"delivery_method"`
	Zone                  string              `db:"zone" json:"zone"`
	Subtotal              decimal.Decimal     `db:"subtotal" json:"subtotal"`
	ShippingCost          decimal.Decimal     `db:"shipping_cost" json:"shipping_cost"`
	ExtraCharges          decimal.Decimal     `db:"extra_charges" json:"extra_charges"`
	Total                 decimal.Decimal     `db:"total" json:"total"`
	Status                OrderStatus         `db:"status" json:"status"`
	PaymentMethod         string              `db:"payment_method" json:"payment_method"`
	PaymentStatus         string              `db:"payment_status" json:"payment_status"`
	PaymentReference      *string             `db:"payment_reference" json:"payment_reference,omitempty"`
	CODAmountCollected    decimal.NullDecimal `db:"cod_amount_collected" json:"cod_amount_collected"`
	EstimatedDeliveryDate *time.Time          `db:"estimated_delivery_date" json:"estimated_delivery_date,omitempty"`
	DeliveryPartnerID     *int64              `db:"delivery_partner_id" json:"delivery_partner_id,omitempty"`
	CourierName           *string             `db:"courier_name" json:"courier_name,omitempty"`
	TrackingNumber        *string             `db:"tracking_number" json:"tracking_number,omitempty"`
	CustomerNote          *string             `db:"customer_note" json:"customer_note,omitempty"`
	ShippedAt             *time.Time          `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt           *time.Time          `db:"delivered_at" json:"delivered_at,omitempty"`
	StockApplied          bool                `db:"stock_applied" json:"-"`
	CreatedAt             time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line within a VendorOrder. Name, image and price are
// frozen at order time.
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	ProductName  string          `db:"product_name" json:"product_name"`
	ProductImage string          `db:"product_image" json:"product_image"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
	CustomWeight *string         `db:"custom_weight" json:"custom_weight,omitempty"`
}

// StatusHistory is an immutable record of one status change or note
type StatusHistory struct {
	ID         int64       `db:"id" json:"id"`
	OrderID    int64       `db:"order_id" json:"order_id"`
	FromStatus OrderStatus `db:"from_status" json:"from_status"`
	ToStatus   OrderStatus `db:"to_status" json:"to_status"`
	ActorType  ActorType   `db:"actor_type" json:"actor_type"`
	ActorID    *int64      `db:"actor_id" json:"actor_id,omitempty"`
	Note       string      `db:"note" json:"note"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// DeliveryPartner is a courier account scoped to one vendor
type DeliveryPartner struct {
	ID        int64     `db:"id" json:"id"`
	VendorID  int64     `db:"vendor_id" json:"vendor_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TrackingPoint is one GPS fix
type TrackingPoint struct {
	ID         int64     `db:"id" json:"id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	PartnerID  int64     `db:"partner_id" json:"partner_id"`
	Lat        float64   `db:"lat" json:"lat"`
	Lng        float64   `db:"lng" json:"lng"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// Payment transaction statuses
const (
	TxStatusInitiated = "initiated"
	TxStatusVerified  = "verified"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

// PaymentTransaction is one gateway attempt
type PaymentTransaction struct {
	ID                int64           `db:"id" json:"id"`
	CheckoutSessionID string          `db:"checkout_session_id" json:"checkout_session_id"`
	VendorID          int64           `db:"vendor_id" json:"vendor_id"`
	VendorOrderID     *int64          `db:"vendor_order_id" json:"vendor_order_id,omitempty"`
	Gateway           string          `db:"gateway" json:"gateway"`
	ExternalTxID      string          `db:"external_tx_id" json:"external_tx_id"`
	GatewayOrderID    *string         `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID  *string         `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Verified          bool            `db:"verified" json:"verified"`
	Status            string          `db:"status" json:"status"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
