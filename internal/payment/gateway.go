package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is an external payment provider bound to one vendor's credentials.
type Gateway interface {
	Name() string
}

// SyncVerifyGateway collects payment in a client-side modal and is verified
// synchronously by the server once the client reports back.
type SyncVerifyGateway interface {
	Gateway
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
	Verify(ctx context.Context, v Verification) error
}

// RedirectGateway hands the customer to an external page and reports the
// result through a server callback.
type RedirectGateway interface {
	Gateway
	Initiate(ctx context.Context, req RedirectRequest) (*Redirect, error)
	Status(ctx context.Context, merchantTxID string) (*StatusResult, error)
	VerifyCallback(encodedResponse, checksum string) error
}

// OrderRequest opens a gateway order for a modal payment.
type OrderRequest struct {
	Receipt string
	Amount  decimal.Decimal
	Notes   map[string]string
}

// GatewayOrder is what the client needs to open the modal.
type GatewayOrder struct {
	ID          string `json:"gateway_order_id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}

// Verification is what the client hands back after the modal closes.
type Verification struct {
	OrderID   string `json:"razorpay_order_id" binding:"required"`
	PaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature string `json:"razorpay_signature" binding:"required"`
}

// RedirectRequest starts a hosted pay-page session.
type RedirectRequest struct {
	MerchantTxID string
	CustomerID   int64
	Amount       decimal.Decimal
	RedirectURL  string
	CallbackURL  string
}

// Redirect is where the customer must be sent.
type Redirect struct {
	URL          string `json:"url"`
	MerchantTxID string `json:"merchant_transaction_id"`
}

// StatusResult is the gateway's view of a redirect transaction.
type StatusResult struct {
	MerchantTxID  string
	TransactionID string
	Code          string
	State         string
	AmountMinor   int64
	Success       bool
}

// ToMinorUnits converts a currency amount to paise.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
