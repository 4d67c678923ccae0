package payment

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

const defaultCurrency = "INR"

// razorpayOrders is the subset of the SDK order resource we call.
type razorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// signatureVerifier checks a payment signature against the key secret.
type signatureVerifier func(attributes map[string]interface{}, signature, secret string) bool

// RazorpayGateway creates Razorpay orders and verifies payment signatures.
type RazorpayGateway struct {
	keyID    string
	secret   string
	currency string
	orders   razorpayOrders
	verify   signatureVerifier
}

// RazorpayOption configures a RazorpayGateway.
type RazorpayOption func(*RazorpayGateway)

// WithCurrency overrides the order currency.
func WithCurrency(currency string) RazorpayOption {
	return func(g *RazorpayGateway) {
		if trimmed := strings.TrimSpace(currency); trimmed != "" {
			g.currency = strings.ToUpper(trimmed)
		}
	}
}

func withOrderAPI(orders razorpayOrders) RazorpayOption {
	return func(g *RazorpayGateway) {
		g.orders = orders
	}
}

// NewRazorpayGateway builds a gateway for one vendor's key pair
func NewRazorpayGateway(keyID, secret string, opts ...RazorpayOption) *RazorpayGateway {
	g := &RazorpayGateway{
		keyID:    keyID,
		secret:   secret,
		currency: defaultCurrency,
		verify:   utils.VerifyPaymentSignature,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.orders == nil {
		g.orders = razorpay.NewClient(keyID, secret).Order
	}
	return g
}

// RazorpayFactoryFor returns a factory usable by Router.
func RazorpayFactoryFor(opts ...RazorpayOption) RazorpayFactory {
	return func(keyID, keySecret string) SyncVerifyGateway {
		return NewRazorpayGateway(keyID, keySecret, opts...)
	}
}

// Name returns the gateway identifier
func (g *RazorpayGateway) Name() string {
	return models.PaymentMethodRazorpay
}

// CreateOrder opens a Razorpay order for the modal. The SDK call is
// synchronous and does not take a context.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount := ToMinorUnits(req.Amount)
	if amount <= 0 {
		return nil, apperr.New(apperr.CodePaymentInitiation, "razorpay order amount must be positive")
	}

	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}

	resp, err := g.orders.Create(map[string]interface{}{
		"amount":          amount,
		"currency":        g.currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
		"notes":           notes,
	}, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePaymentInitiation, err, "create razorpay order")
	}

	id, _ := resp["id"].(string)
	if id == "" {
		return nil, apperr.Wrap(apperr.CodePaymentInitiation, fmt.Errorf("response missing id"), "create razorpay order")
	}

	return &GatewayOrder{
		ID:          id,
		AmountMinor: amount,
		Currency:    g.currency,
		KeyID:       g.keyID,
	}, nil
}

// Verify checks the HMAC signature returned by the modal.
func (g *RazorpayGateway) Verify(_ context.Context, v Verification) error {
	if v.OrderID == "" || v.PaymentID == "" || v.Signature == "" {
		return apperr.New(apperr.CodePaymentVerification, "razorpay order id, payment id and signature are required")
	}
	attributes := map[string]interface{}{
		"razorpay_order_id":   v.OrderID,
		"razorpay_payment_id": v.PaymentID,
	}
	if !g.verify(attributes, v.Signature, g.secret) {
		return apperr.New(apperr.CodePaymentVerification, "razorpay signature mismatch")
	}
	return nil
}
