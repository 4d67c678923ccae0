package payment

import (
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// Decision is the routed payment path for one vendor order.
type Decision struct {
	Method   string
	Sync     SyncVerifyGateway
	Redirect RedirectGateway
}

// Online reports whether the decision needs a gateway round trip.
func (d Decision) Online() bool {
	return d.Method != models.PaymentMethodCOD
}

// RazorpayFactory builds a modal gateway from a vendor's credentials.
type RazorpayFactory func(keyID, keySecret string) SyncVerifyGateway

// PhonePeFactory builds a redirect gateway from a vendor's credentials.
type PhonePeFactory func(merchantID, saltKey string, saltIndex int) RedirectGateway

// Router selects the payment path per vendor. It holds no per-vendor state;
// gateways are built from the vendor's own credentials on each call.
type Router struct {
	razorpay RazorpayFactory
	phonepe  PhonePeFactory
}

// NewRouter creates a payment router
func NewRouter(razorpay RazorpayFactory, phonepe PhonePeFactory) *Router {
	return &Router{razorpay: razorpay, phonepe: phonepe}
}

// Route picks COD, PhonePe or Razorpay for a vendor given the customer's
// choice. PhonePe is preferred over Razorpay. A customer choosing online
// from a vendor with no usable gateway falls back to COD; a customer
// choosing COD from a vendor that disabled it is moved online.
func (r *Router) Route(choice string, settings *models.VendorSettings) (Decision, error) {
	choice = strings.ToLower(strings.TrimSpace(choice))
	if choice != models.PaymentChoiceCOD && choice != models.PaymentChoiceOnline {
		return Decision{}, apperr.New(apperr.CodeValidation, "payment method must be cod or online")
	}

	if settings == nil {
		return Decision{Method: models.PaymentMethodCOD}, nil
	}

	online, hasGateway := r.gatewayFor(settings)

	switch {
	case choice == models.PaymentChoiceOnline && hasGateway:
		return online, nil
	case choice == models.PaymentChoiceCOD && settings.CODEnabled:
		return Decision{Method: models.PaymentMethodCOD}, nil
	case choice == models.PaymentChoiceOnline && settings.CODEnabled:
		return Decision{Method: models.PaymentMethodCOD}, nil
	case choice == models.PaymentChoiceCOD && hasGateway:
		return online, nil
	}

	return Decision{}, apperr.New(apperr.CodePaymentInitiation, "vendor has no usable payment method").
		WithDetails(map[string]any{"vendor_id": settings.VendorID})
}

func (r *Router) gatewayFor(settings *models.VendorSettings) (Decision, bool) {
	if !settings.OnlineEnabled {
		return Decision{}, false
	}
	if settings.PhonePeConfigured() && r.phonepe != nil {
		gw := r.phonepe(settings.PhonePeMerchantID, settings.PhonePeSaltKey, settings.PhonePeSaltIndex)
		return Decision{Method: models.PaymentMethodPhonePe, Redirect: gw}, true
	}
	if settings.RazorpayConfigured() && r.razorpay != nil {
		gw := r.razorpay(settings.RazorpayKeyID, settings.RazorpayKeySecret)
		return Decision{Method: models.PaymentMethodRazorpay, Sync: gw}, true
	}
	return Decision{}, false
}

// SyncGateway rebuilds the modal gateway for a vendor, used when a suspended
// checkout resumes.
func (r *Router) SyncGateway(settings *models.VendorSettings) (SyncVerifyGateway, error) {
	if !settings.RazorpayConfigured() || r.razorpay == nil {
		return nil, apperr.New(apperr.CodePaymentVerification, "razorpay is not configured for vendor")
	}
	return r.razorpay(settings.RazorpayKeyID, settings.RazorpayKeySecret), nil
}

// RedirectGateway rebuilds the redirect gateway for a vendor, used by the callback.
func (r *Router) RedirectGateway(settings *models.VendorSettings) (RedirectGateway, error) {
	if !settings.PhonePeConfigured() || r.phonepe == nil {
		return nil, apperr.New(apperr.CodePaymentVerification, "phonepe is not configured for vendor")
	}
	return r.phonepe(settings.PhonePeMerchantID, settings.PhonePeSaltKey, settings.PhonePeSaltIndex), nil
}
