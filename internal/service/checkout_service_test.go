package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/shipping"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCustomer = int64(7)
	testAddress  = int64(70)

	vendorCOD      = int64(1) // cod only, state zone
	vendorDefault  = int64(2) // no settings
	vendorFood     = int64(3) // food shop with a packing charge
	vendorRazorpay = int64(4)
	vendorPhonePe  = int64(5)
	vendorNoPay    = int64(6) // neither cod nor a gateway
)

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type checkoutFixture struct {
	store    *memStore
	pub      *recordingPublisher
	modal    *fakeModal
	redirect *fakeRedirect
	svc      *CheckoutService
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	rc, _ := setupRedis(t)

	f := &checkoutFixture{
		store:    newMemStore(),
		pub:      &recordingPublisher{},
		modal:    &fakeModal{},
		redirect: &fakeRedirect{status: &payment.StatusResult{Success: true, Code: "PAYMENT_SUCCESS", TransactionID: "T2603141000"}},
	}
	router := payment.NewRouter(
		func(keyID, keySecret string) payment.SyncVerifyGateway { return f.modal },
		func(merchantID, saltKey string, saltIndex int) payment.RedirectGateway { return f.redirect },
	)
	calculator := shipping.NewCalculator(shipping.Defaults{FlatCost: decimal.NewFromInt(50), SLADays: 5})

	f.svc = NewCheckoutService(f.store, rc, f.pub, calculator, router, CheckoutConfig{
		IdempotencyTTL:  time.Minute,
		SessionLockTTL:  time.Minute,
		CallbackBaseURL: "https://api.example.com",
		RedirectURL:     "https://shop.example.com/checkout/done",
	})
	f.svc.now = func() time.Time { return fixedNow }

	f.store.addresses[testAddress] = &models.Address{
		ID: testAddress, CustomerID: testCustomer, FullName: "Asha", City: "Chennai",
		State: "Tamil Nadu", PostalCode: "600001",
	}
	f.store.settings[vendorCOD] = &models.VendorSettings{
		VendorID: vendorCOD, Name: "Corner Store", CODEnabled: true,
		InZoneShippingCost: decimal.NewFromInt(40), OutZoneShippingCost: decimal.NewFromInt(80),
		FreeDeliveryAbove: decimal.NewFromInt(1000), ZoneStates: pq.StringArray{"Tamil Nadu"},
	}
	f.store.settings[vendorFood] = &models.VendorSettings{
		VendorID: vendorFood, Name: "Dosa Hut", ShopType: models.ShopTypeFood, CODEnabled: true,
		InZoneShippingCost: decimal.NewFromInt(30), OutZoneShippingCost: decimal.NewFromInt(60),
		ZonePostalFrom: 600000, ZonePostalTo: 600099,
		ExtraCharges: models.ExtraCharges{{Label: "packing", Amount: decimal.NewFromInt(10)}},
	}
	f.store.settings[vendorRazorpay] = &models.VendorSettings{
		VendorID: vendorRazorpay, Name: "Book Nook", OnlineEnabled: true,
		RazorpayKeyID: "rzp_test", RazorpayKeySecret: "secret",
		InZoneShippingCost: decimal.NewFromInt(25), ZoneStates: pq.StringArray{"Tamil Nadu"},
	}
	f.store.settings[vendorPhonePe] = &models.VendorSettings{
		VendorID: vendorPhonePe, Name: "Gadget Bay", OnlineEnabled: true,
		PhonePeMerchantID: "MERCHANT", PhonePeSaltKey: "salt", PhonePeSaltIndex: 1,
		InZoneShippingCost: decimal.NewFromInt(20), ZoneStates: pq.StringArray{"Tamil Nadu"},
	}
	f.store.settings[vendorNoPay] = &models.VendorSettings{VendorID: vendorNoPay, Name: "Closed Shop"}
	return f
}

func (f *checkoutFixture) addLine(vendorID, productID int64, price, qty int) {
	f.store.cart[testCustomer] = append(f.store.cart[testCustomer], models.CartLine{
		ID: productID, CustomerID: testCustomer, ProductID: productID, VendorID: vendorID,
		ProductName: "product", UnitPrice: decimal.NewFromInt(int64(price)), Quantity: qty,
	})
}

func (f *checkoutFixture) request(choice string) *CheckoutRequest {
	addressID := testAddress
	return &CheckoutRequest{
		CustomerID:     testCustomer,
		AddressID:      &addressID,
		DeliveryMethod: models.DeliveryMethodDelivery,
		PaymentMethod:  choice,
	}
}

func (f *checkoutFixture) cartVendors() []int64 {
	var out []int64
	seen := map[int64]bool{}
	for _, line := range f.store.cart[testCustomer] {
		if !seen[line.VendorID] {
			seen[line.VendorID] = true
			out = append(out, line.VendorID)
		}
	}
	return out
}

func assertCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperr.CodeOf(err), err.Error())
}

func TestCheckoutCreatesOneOrderPerVendor(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 2)
	f.addLine(vendorDefault, 21, 100, 1)
	f.addLine(vendorCOD, 12, 150, 1)
	f.addLine(vendorFood, 31, 200, 1)

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceCOD))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, result.Status)
	assert.Len(t, result.Created, 3)

	orders := f.store.ordersFor(result.SessionID)
	require.Len(t, orders, 3)

	want := map[int64]struct{ subtotal, shipping, extra, total int64 }{
		vendorCOD:     {450, 40, 0, 490},
		vendorDefault: {100, 50, 0, 150},
		vendorFood:    {200, 30, 10, 240},
	}
	numbers := map[string]bool{}
	for _, o := range orders {
		w := want[o.VendorID]
		assert.True(t, decimal.NewFromInt(w.subtotal).Equal(o.Subtotal), "subtotal vendor %d", o.VendorID)
		assert.True(t, decimal.NewFromInt(w.shipping).Equal(o.ShippingCost), "shipping vendor %d", o.VendorID)
		assert.True(t, decimal.NewFromInt(w.extra).Equal(o.ExtraCharges), "extra vendor %d", o.VendorID)
		assert.True(t, o.Subtotal.Add(o.ShippingCost).Add(o.ExtraCharges).Equal(o.Total))
		assert.True(t, decimal.NewFromInt(w.total).Equal(o.Total), "total vendor %d", o.VendorID)
		assert.Equal(t, models.OrderStatusPending, o.Status)
		assert.Equal(t, models.PaymentMethodCOD, o.PaymentMethod)
		assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
		assert.Equal(t, models.ZoneIn, o.Zone)
		assert.False(t, numbers[o.OrderNumber], "duplicate order number")
		numbers[o.OrderNumber] = true
	}

	cod := orders[0]
	assert.Equal(t, vendorCOD, cod.VendorID)
	assert.Len(t, f.store.items[cod.ID], 2)

	assert.Empty(t, f.store.cart[testCustomer])
	assert.Equal(t, 3, f.pub.count(models.EventTypeOrderPlaced))
	assert.Equal(t, 1, f.pub.count(models.EventTypeCheckoutCompleted))
}

func TestCheckoutOutOfZoneUsesOutZoneCost(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.addresses[testAddress].State = "Kerala"
	f.addLine(vendorCOD, 11, 100, 1)

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceCOD))
	require.NoError(t, err)

	orders := f.store.ordersFor(result.SessionID)
	require.Len(t, orders, 1)
	assert.Equal(t, models.ZoneOut, orders[0].Zone)
	assert.True(t, decimal.NewFromInt(80).Equal(orders[0].ShippingCost))
}

func TestCheckoutFreeDeliveryAboveThreshold(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 500, 2)

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceCOD))
	require.NoError(t, err)

	orders := f.store.ordersFor(result.SessionID)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].ShippingCost.IsZero())
	assert.True(t, decimal.NewFromInt(1000).Equal(orders[0].Total))
}

func TestCheckoutStopsAtRedirectVendor(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorPhonePe, 51, 300, 1)
	f.addLine(vendorDefault, 21, 100, 1)

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusAwaitingPayment, result.Status)
	require.NotNil(t, result.Redirect)
	require.NotNil(t, result.Pending)
	assert.Equal(t, vendorPhonePe, result.Pending.VendorID)
	assert.Equal(t, models.PaymentMethodPhonePe, result.Pending.Gateway)
	assert.Equal(t, result.Redirect.MerchantTxID, result.Pending.ExternalTxID)
	assert.Regexp(t, `^MT\d+[A-Z0-9]{6}$`, result.Pending.ExternalTxID)

	orders := f.store.ordersFor(result.SessionID)
	require.Len(t, orders, 1)
	assert.Equal(t, vendorCOD, orders[0].VendorID)

	tx, err := f.store.GetPaymentTransaction(context.Background(), models.PaymentMethodPhonePe, result.Pending.ExternalTxID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusInitiated, tx.Status)
	assert.True(t, decimal.NewFromInt(320).Equal(tx.Amount))

	assert.Len(t, f.store.cart[testCustomer], 3, "cart is kept while payment is pending")
	assert.Equal(t, 0, f.pub.count(models.EventTypeCheckoutCompleted))
}

func TestPhonePeCallbackResumesCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorPhonePe, 51, 300, 1)
	f.addLine(vendorDefault, 21, 100, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)
	merchantTxID := first.Redirect.MerchantTxID

	f.redirect.status.AmountMinor = 32000
	result, err := f.svc.HandlePhonePeCallback(ctx, callbackFor(t, merchantTxID), "checksum###1")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, result.Status)
	assert.Nil(t, result.Pending)

	orders := f.store.ordersFor(first.SessionID)
	require.Len(t, orders, 3)
	paid := orders[1]
	assert.Equal(t, vendorPhonePe, paid.VendorID)
	assert.Equal(t, models.PaymentMethodPhonePe, paid.PaymentMethod)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentReference)
	assert.Equal(t, merchantTxID, *paid.PaymentReference)

	tx, err := f.store.GetPaymentTransaction(ctx, models.PaymentMethodPhonePe, merchantTxID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusVerified, tx.Status)
	assert.True(t, tx.Verified)
	require.NotNil(t, tx.VendorOrderID)
	assert.Equal(t, paid.ID, *tx.VendorOrderID)

	assert.Empty(t, f.store.cart[testCustomer])
	assert.Equal(t, 1, f.pub.count(models.EventTypePaymentVerified))

	// a repeated callback for the same transaction changes nothing
	again, err := f.svc.HandlePhonePeCallback(ctx, callbackFor(t, merchantTxID), "checksum###1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, again.Status)
	assert.Len(t, f.store.ordersFor(first.SessionID), 3)
}

func TestPhonePeCallbackFailureIsPartial(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorPhonePe, 51, 300, 1)
	f.addLine(vendorDefault, 21, 100, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	f.redirect.status = &payment.StatusResult{Success: false, Code: "PAYMENT_ERROR"}
	result, err := f.svc.HandlePhonePeCallback(ctx, callbackFor(t, first.Redirect.MerchantTxID), "checksum###1")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusPartial, result.Status)
	failed := result.Vendors.Find(vendorPhonePe)
	require.NotNil(t, failed)
	assert.Equal(t, models.OutcomeFailed, failed.Status)
	assert.Equal(t, string(apperr.CodePaymentVerification), failed.ErrorCode)

	assert.Len(t, f.store.ordersFor(first.SessionID), 2)
	assert.Equal(t, []int64{vendorPhonePe}, f.cartVendors())
	assert.Equal(t, 1, f.pub.count(models.EventTypePaymentFailed))
}

func TestPhonePeCallbackAmountMismatch(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorPhonePe, 51, 300, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	f.redirect.status.AmountMinor = 100
	result, err := f.svc.HandlePhonePeCallback(ctx, callbackFor(t, first.Redirect.MerchantTxID), "checksum###1")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, result.Status)
	assert.Empty(t, f.store.ordersFor(first.SessionID))
}

func TestPhonePeCallbackBadChecksum(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorPhonePe, 51, 300, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	f.redirect.checksumErr = apperr.New(apperr.CodePaymentVerification, "checksum mismatch")
	_, err = f.svc.HandlePhonePeCallback(ctx, callbackFor(t, first.Redirect.MerchantTxID), "bad###1")
	assertCode(t, err, apperr.CodePaymentVerification)

	session, err := f.store.GetCheckoutSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAwaitingPayment, session.Status)
}

func TestPhonePeCallbackUnknownTransaction(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.HandlePhonePeCallback(context.Background(), callbackFor(t, "MT1UNKNOWN"), "x###1")
	assertCode(t, err, apperr.CodeNotFound)
}

func TestRedirectInitiationFailureContinues(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorPhonePe, 51, 300, 1)
	f.addLine(vendorCOD, 11, 150, 1)
	f.redirect.initiateErr = apperr.New(apperr.CodePaymentInitiation, "gateway unavailable")

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusPartial, result.Status)
	failed := result.Vendors.Find(vendorPhonePe)
	require.NotNil(t, failed)
	assert.Equal(t, string(apperr.CodePaymentInitiation), failed.ErrorCode)

	for _, tx := range f.store.txs {
		assert.Equal(t, models.TxStatusFailed, tx.Status)
	}
}

func TestRazorpayConfirmCreatesPaidOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorRazorpay, 41, 200, 1)
	f.addLine(vendorCOD, 11, 150, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusAwaitingPayment, first.Status)
	require.NotNil(t, first.Payment)
	assert.Equal(t, "order_1", first.Payment.ID)
	assert.Equal(t, int64(22500), first.Payment.AmountMinor)
	assert.Empty(t, f.store.ordersFor(first.SessionID))

	result, err := f.svc.ConfirmRazorpay(ctx, first.SessionID, testCustomer, RazorpayConfirmation{
		OrderID: "order_1", PaymentID: "pay_1", Signature: "sig",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, result.Status)
	orders := f.store.ordersFor(first.SessionID)
	require.Len(t, orders, 2)
	assert.Equal(t, vendorRazorpay, orders[0].VendorID)
	assert.Equal(t, models.PaymentStatusPaid, orders[0].PaymentStatus)

	tx, err := f.store.GetPaymentTransaction(ctx, models.PaymentMethodRazorpay, "order_1")
	require.NoError(t, err)
	require.NotNil(t, tx.GatewayPaymentID)
	assert.Equal(t, "pay_1", *tx.GatewayPaymentID)
}

func TestRazorpayCancelFailsVendorAndContinues(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorRazorpay, 41, 200, 1)
	f.addLine(vendorCOD, 11, 150, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	result, err := f.svc.ConfirmRazorpay(ctx, first.SessionID, testCustomer, RazorpayConfirmation{Cancelled: true})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusPartial, result.Status)
	orders := f.store.ordersFor(first.SessionID)
	require.Len(t, orders, 1)
	assert.Equal(t, vendorCOD, orders[0].VendorID)

	tx, err := f.store.GetPaymentTransaction(ctx, models.PaymentMethodRazorpay, "order_1")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCancelled, tx.Status)
	assert.Equal(t, []int64{vendorRazorpay}, f.cartVendors())
}

func TestRazorpayConfirmRejectsBadSignature(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorRazorpay, 41, 200, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	f.modal.verifyErr = apperr.New(apperr.CodePaymentVerification, "signature mismatch")
	result, err := f.svc.ConfirmRazorpay(ctx, first.SessionID, testCustomer, RazorpayConfirmation{
		OrderID: "order_1", PaymentID: "pay_1", Signature: "forged",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusFailed, result.Status)
	assert.Empty(t, f.store.ordersFor(first.SessionID))
}

func TestRazorpayConfirmWrongOrderID(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorRazorpay, 41, 200, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	result, err := f.svc.ConfirmRazorpay(ctx, first.SessionID, testCustomer, RazorpayConfirmation{
		OrderID: "order_other", PaymentID: "pay_1", Signature: "sig",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, result.Status)
}

func TestRazorpayConfirmOtherCustomer(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorRazorpay, 41, 200, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	_, err = f.svc.ConfirmRazorpay(ctx, first.SessionID, 99, RazorpayConfirmation{Cancelled: true})
	assertCode(t, err, apperr.CodeForbidden)
}

func TestRazorpayOrderCreationFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorRazorpay, 41, 200, 1)
	f.modal.createErr = apperr.New(apperr.CodePaymentInitiation, "razorpay unavailable")

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, result.Status)
	assert.Empty(t, f.store.txs)
}

func TestCheckoutServiceAreaViolationsAreAggregated(t *testing.T) {
	f := newCheckoutFixture(t)
	for _, id := range []int64{vendorCOD, vendorFood} {
		s := f.store.settings[id]
		s.ServiceAreaEnabled = true
		s.ServiceCenterLat = 13.0827
		s.ServiceCenterLng = 80.2707
		s.ServiceRadiusKm = 10
	}
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorDefault, 21, 100, 1)
	f.addLine(vendorFood, 31, 200, 1)

	req := f.request(models.PaymentChoiceCOD)
	lat, lng := 12.9716, 77.5946
	req.Latitude, req.Longitude = &lat, &lng

	_, err := f.svc.Checkout(context.Background(), req)
	assertCode(t, err, apperr.CodeServiceArea)

	violations, ok := apperr.As(err).Details().([]AreaViolation)
	require.True(t, ok)
	require.Len(t, violations, 2)
	assert.Equal(t, vendorCOD, violations[0].VendorID)
	assert.Equal(t, vendorFood, violations[1].VendorID)
	assert.Greater(t, violations[0].DistanceKm, 250.0)

	assert.Empty(t, f.store.sessions)
	assert.Empty(t, f.store.orders)
}

func TestCheckoutServiceAreaUsesAddressGeoLink(t *testing.T) {
	f := newCheckoutFixture(t)
	s := f.store.settings[vendorCOD]
	s.ServiceAreaEnabled = true
	s.ServiceCenterLat = 13.0827
	s.ServiceCenterLng = 80.2707
	s.ServiceRadiusKm = 10
	link := "https://maps.google.com/?q=13.0600,80.2500"
	f.store.addresses[testAddress].GeoLink = &link
	f.addLine(vendorCOD, 11, 150, 1)

	// the client coordinate is far away, the address link wins
	req := f.request(models.PaymentChoiceCOD)
	lat, lng := 12.9716, 77.5946
	req.Latitude, req.Longitude = &lat, &lng

	result, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, result.Status)
}

func TestCheckoutReplaysIdempotencyKey(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorDefault, 21, 100, 1)

	ctx := context.Background()
	req := f.request(models.PaymentChoiceCOD)
	req.IdempotencyKey = "key-1"

	first, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	f.addLine(vendorCOD, 12, 150, 1)
	second, err := f.svc.Checkout(ctx, f.withKey("key-1"))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Created, second.Created)
	assert.Len(t, f.store.orders, 2)
	assert.Len(t, f.store.sessions, 1)

	other := f.withKey("key-1")
	other.CustomerID = 99
	_, err = f.svc.Checkout(ctx, other)
	assertCode(t, err, apperr.CodeConflict)
}

// flakySaveStore fails the first n session saves.
type flakySaveStore struct {
	*memStore
	failures int
}

func (s *flakySaveStore) SaveCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.memStore.SaveCheckoutSession(ctx, session)
}

func TestCheckoutResumesInterruptedPass(t *testing.T) {
	f := newCheckoutFixture(t)
	f.svc.store = &flakySaveStore{memStore: f.store, failures: 1}
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorDefault, 21, 100, 1)

	ctx := context.Background()
	_, err := f.svc.Checkout(ctx, f.withKey("key-1"))
	require.Error(t, err)
	require.Len(t, f.store.orders, 1)

	result, err := f.svc.Checkout(ctx, f.withKey("key-1"))
	require.NoError(t, err)

	assert.True(t, result.Replayed)
	assert.Equal(t, models.SessionStatusCompleted, result.Status)
	assert.Len(t, result.Created, 2)

	orders := f.store.ordersFor(result.SessionID)
	require.Len(t, orders, 2)
	assert.Equal(t, vendorCOD, orders[0].VendorID)
	assert.Equal(t, vendorDefault, orders[1].VendorID)
	assert.Empty(t, f.store.cart[testCustomer])

	// A fresh submission has nothing left to order.
	_, err = f.svc.Checkout(ctx, f.withKey("key-2"))
	assertCode(t, err, apperr.CodeValidation)
	assert.Len(t, f.store.orders, 2)
}

func (f *checkoutFixture) withKey(key string) *CheckoutRequest {
	req := f.request(models.PaymentChoiceCOD)
	req.IdempotencyKey = key
	return req
}

func TestCheckoutGeneratesIdempotencyKey(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)

	req := f.request(models.PaymentChoiceCOD)
	result, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, req.IdempotencyKey)
	assert.Equal(t, req.IdempotencyKey, f.store.sessions[result.SessionID].IdempotencyKey)
}

func TestCheckoutRejectsBadRequests(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	t.Run("empty cart", func(t *testing.T) {
		_, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceCOD))
		assertCode(t, err, apperr.CodeValidation)
	})

	t.Run("delivery without address", func(t *testing.T) {
		req := f.request(models.PaymentChoiceCOD)
		req.AddressID = nil
		_, err := f.svc.Checkout(ctx, req)
		assertCode(t, err, apperr.CodeValidation)
	})

	t.Run("unknown payment choice", func(t *testing.T) {
		_, err := f.svc.Checkout(ctx, f.request("card"))
		assertCode(t, err, apperr.CodeValidation)
	})

	t.Run("half a coordinate", func(t *testing.T) {
		req := f.request(models.PaymentChoiceCOD)
		lat := 12.0
		req.Latitude = &lat
		_, err := f.svc.Checkout(ctx, req)
		assertCode(t, err, apperr.CodeValidation)
	})

	t.Run("missing address", func(t *testing.T) {
		f.addLine(vendorCOD, 11, 150, 1)
		req := f.request(models.PaymentChoiceCOD)
		missing := int64(404)
		req.AddressID = &missing
		_, err := f.svc.Checkout(ctx, req)
		assertCode(t, err, apperr.CodeValidation)
	})

	t.Run("someone else's address", func(t *testing.T) {
		f.store.addresses[71] = &models.Address{ID: 71, CustomerID: 99, State: "Tamil Nadu", PostalCode: "600001"}
		req := f.request(models.PaymentChoiceCOD)
		foreign := int64(71)
		req.AddressID = &foreign
		_, err := f.svc.Checkout(ctx, req)
		assertCode(t, err, apperr.CodeForbidden)
	})

	assert.Empty(t, f.store.sessions)
}

func TestCheckoutPickupRequiresEveryVendor(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.settings[vendorCOD].SelfPickupEnabled = true
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorFood, 31, 200, 1)

	req := &CheckoutRequest{CustomerID: testCustomer, DeliveryMethod: models.DeliveryMethodPickup, PaymentMethod: models.PaymentChoiceCOD}
	_, err := f.svc.Checkout(context.Background(), req)
	assertCode(t, err, apperr.CodeValidation)

	f.store.settings[vendorFood].SelfPickupEnabled = true
	result, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	for _, o := range f.store.ordersFor(result.SessionID) {
		assert.True(t, o.ShippingCost.IsZero())
		assert.Empty(t, o.Zone)
		assert.Equal(t, models.DeliveryMethodPickup, o.DeliveryMethod)
	}
}

func TestCheckoutVendorWithoutPaymentMethod(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorNoPay, 61, 100, 1)
	f.addLine(vendorDefault, 21, 100, 1)

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceOnline))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusPartial, result.Status)
	failed := result.Vendors.Find(vendorNoPay)
	require.NotNil(t, failed)
	assert.Equal(t, string(apperr.CodePaymentInitiation), failed.ErrorCode)
	assert.Equal(t, []int64{vendorNoPay}, f.cartVendors())
}

func TestCheckoutOrderWriteFailureFailsVendorOnly(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)
	f.addLine(vendorDefault, 21, 100, 1)
	f.store.createOrderErr[vendorCOD] = errors.New("connection reset")

	result, err := f.svc.Checkout(context.Background(), f.request(models.PaymentChoiceCOD))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusPartial, result.Status)
	failed := result.Vendors.Find(vendorCOD)
	require.NotNil(t, failed)
	assert.Equal(t, models.OutcomeFailed, failed.Status)
	assert.Equal(t, string(apperr.CodeInternal), failed.ErrorCode)
	assert.Equal(t, []int64{vendorCOD}, f.cartVendors())
}

func TestGetSessionScopedToCustomer(t *testing.T) {
	f := newCheckoutFixture(t)
	f.addLine(vendorCOD, 11, 150, 1)

	ctx := context.Background()
	first, err := f.svc.Checkout(ctx, f.request(models.PaymentChoiceCOD))
	require.NoError(t, err)

	got, err := f.svc.GetSession(ctx, first.SessionID, testCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)

	_, err = f.svc.GetSession(ctx, first.SessionID, 99)
	assertCode(t, err, apperr.CodeForbidden)

	_, err = f.svc.GetSession(ctx, "missing", testCustomer)
	assertCode(t, err, apperr.CodeNotFound)
}

func TestReferenceFormats(t *testing.T) {
	number, err := newOrderNumber(fixedNow)
	require.NoError(t, err)
	assert.Regexp(t, `^ORD-\d{13}-[A-Z0-9]{9}$`, number)

	ref, err := newCODReference(fixedNow)
	require.NoError(t, err)
	assert.Regexp(t, `^COD-\d{13}-[A-Z0-9]{6}$`, ref)

	tx, err := newMerchantTxID(fixedNow)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tx), 35)

	assert.LessOrEqual(t, len(receiptFor("3f2b8c1e-0d4a-4b6f-9a3e-2c1d0e9f8a7b", 123456)), 40)
}
