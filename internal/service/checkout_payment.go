package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RazorpayConfirmation is what the client reports after the modal closes:
// either the signed payment or a dismissal.
type RazorpayConfirmation struct {
	Cancelled bool   `json:"cancelled"`
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

func observeGateway(gateway, operation string, start time.Time) {
	util.PaymentProcessingLatency.WithLabelValues(gateway, operation).Observe(time.Since(start).Seconds())
}

// openModal creates a Razorpay order and records the initiated transaction.
func (s *CheckoutService) openModal(
	ctx context.Context,
	session *models.CheckoutSession,
	vendorID int64,
	total decimal.Decimal,
	gw payment.SyncVerifyGateway,
) (*PaymentPrompt, *models.PaymentTransaction, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.openModal",
		attribute.Int64("vendor_id", vendorID))
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues(gw.Name()).Inc()
	start := time.Now()
	order, err := gw.CreateOrder(ctx, payment.OrderRequest{
		Receipt: receiptFor(session.ID, vendorID),
		Amount:  total,
		Notes: map[string]string{
			"checkout_session_id": session.ID,
			"vendor_id":           strconv.FormatInt(vendorID, 10),
		},
	})
	observeGateway(gw.Name(), "create_order", start)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(gw.Name(), "initiation").Inc()
		return nil, nil, util.SpanError(span, err)
	}

	gatewayOrderID := order.ID
	tx := &models.PaymentTransaction{
		CheckoutSessionID: session.ID,
		VendorID:          vendorID,
		Gateway:           gw.Name(),
		ExternalTxID:      order.ID,
		GatewayOrderID:    &gatewayOrderID,
		Amount:            total,
		Status:            models.TxStatusInitiated,
	}
	if err := s.store.CreatePaymentTransaction(ctx, tx); err != nil {
		return nil, nil, util.SpanError(span, fmt.Errorf("failed to record payment transaction: %w", err))
	}

	return &PaymentPrompt{VendorID: vendorID, Gateway: gw.Name(), GatewayOrder: *order}, tx, nil
}

// initiateRedirect records the transaction first so a callback can always
// find it, then asks PhonePe for the pay page.
func (s *CheckoutService) initiateRedirect(
	ctx context.Context,
	session *models.CheckoutSession,
	vendorID int64,
	total decimal.Decimal,
	gw payment.RedirectGateway,
) (*payment.Redirect, *models.PaymentTransaction, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.initiateRedirect",
		attribute.Int64("vendor_id", vendorID))
	defer span.End()

	merchantTxID, err := newMerchantTxID(s.now())
	if err != nil {
		return nil, nil, util.SpanError(span, err)
	}

	tx := &models.PaymentTransaction{
		CheckoutSessionID: session.ID,
		VendorID:          vendorID,
		Gateway:           gw.Name(),
		ExternalTxID:      merchantTxID,
		Amount:            total,
		Status:            models.TxStatusInitiated,
	}
	if err := s.store.CreatePaymentTransaction(ctx, tx); err != nil {
		return nil, nil, util.SpanError(span, fmt.Errorf("failed to record payment transaction: %w", err))
	}

	util.PaymentAttemptsTotal.WithLabelValues(gw.Name()).Inc()
	start := time.Now()
	redirect, err := gw.Initiate(ctx, payment.RedirectRequest{
		MerchantTxID: merchantTxID,
		CustomerID:   session.CustomerID,
		Amount:       total,
		RedirectURL:  s.cfg.RedirectURL,
		CallbackURL:  strings.TrimRight(s.cfg.CallbackBaseURL, "/") + phonePeCallbackPath,
	})
	observeGateway(gw.Name(), "initiate", start)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(gw.Name(), "initiation").Inc()
		tx.Status = models.TxStatusFailed
		if updateErr := s.store.UpdatePaymentTransaction(ctx, tx); updateErr != nil {
			s.logger.Error("Failed to mark payment transaction failed",
				zap.String("external_tx_id", merchantTxID), zap.Error(updateErr))
		}
		return nil, nil, util.SpanError(span, err)
	}

	util.PaymentRedirectsTotal.Inc()
	return redirect, tx, nil
}

// ConfirmRazorpay resolves a session suspended on a Razorpay modal and
// resumes the pass with the remaining vendors.
func (s *CheckoutService) ConfirmRazorpay(ctx context.Context, sessionID string, customerID int64, in RazorpayConfirmation) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ConfirmRazorpay",
		attribute.String("session_id", sessionID))
	defer span.End()

	lock, err := s.redis.AcquireSessionLock(ctx, sessionID, s.cfg.SessionLockTTL)
	if err != nil {
		return nil, lockError(err, "checkout session is busy")
	}
	defer s.release(lock)

	session, err := s.loadSession(ctx, sessionID, customerID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusAwaitingPayment || session.PendingTxID == nil {
		return sessionResult(session), nil
	}

	tx, err := s.store.GetPaymentTransaction(ctx, models.PaymentMethodRazorpay, *session.PendingTxID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeStateConflict, "checkout session is not waiting for a razorpay payment")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment transaction: %w", err)
	}

	plan, err := s.loadPlan(ctx, session.CustomerID, session.AddressID, session.DeliveryMethod)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.TxStatusInitiated {
		if err := s.recoverResolved(ctx, session, plan, tx); err != nil {
			return nil, util.SpanError(span, err)
		}
		return s.resume(ctx, session, plan)
	}

	if in.Cancelled {
		err = s.rejectPayment(ctx, session, tx, models.TxStatusCancelled,
			apperr.New(apperr.CodePaymentVerification, "payment cancelled by customer"))
	} else if verifyErr := s.verifyRazorpay(ctx, tx, in); verifyErr != nil {
		err = s.rejectPayment(ctx, session, tx, models.TxStatusFailed, verifyErr)
	} else {
		err = s.settlePayment(ctx, session, plan, tx, in.PaymentID)
	}
	if errors.Is(err, store.ErrStaleState) {
		return sessionResult(session), nil
	}
	if err != nil {
		return nil, util.SpanError(span, err)
	}

	return s.resume(ctx, session, plan)
}

func (s *CheckoutService) verifyRazorpay(ctx context.Context, tx *models.PaymentTransaction, in RazorpayConfirmation) error {
	if in.OrderID != tx.ExternalTxID {
		return apperr.New(apperr.CodePaymentVerification, "razorpay order does not match the pending payment")
	}
	settings, err := s.store.GetVendorSettings(ctx, tx.VendorID)
	if err != nil {
		return fmt.Errorf("failed to load vendor settings: %w", err)
	}
	gw, err := s.router.SyncGateway(settings)
	if err != nil {
		return err
	}

	start := time.Now()
	err = gw.Verify(ctx, payment.Verification{OrderID: in.OrderID, PaymentID: in.PaymentID, Signature: in.Signature})
	observeGateway(gw.Name(), "verify", start)
	return err
}

// HandlePhonePeCallback resolves a session suspended on a PhonePe redirect.
// The callback checksum is verified with the vendor's salt and the outcome
// is confirmed with a status check before anything is written.
func (s *CheckoutService) HandlePhonePeCallback(ctx context.Context, encodedResponse, checksum string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.HandlePhonePeCallback")
	defer span.End()

	payload, err := payment.DecodeCallback(encodedResponse)
	if err != nil {
		return nil, err
	}
	merchantTxID := payload.Data.MerchantTransactionID
	span.SetAttributes(attribute.String("merchant_tx_id", merchantTxID))

	tx, err := s.store.GetPaymentTransaction(ctx, models.PaymentMethodPhonePe, merchantTxID)
	if err != nil {
		return nil, storeError(err, "payment transaction")
	}

	lock, err := s.redis.AcquireSessionLock(ctx, tx.CheckoutSessionID, s.cfg.SessionLockTTL)
	if err != nil {
		return nil, lockError(err, "checkout session is busy")
	}
	defer s.release(lock)

	session, err := s.store.GetCheckoutSession(ctx, tx.CheckoutSessionID)
	if err != nil {
		return nil, storeError(err, "checkout session")
	}

	settings, err := s.store.GetVendorSettings(ctx, tx.VendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vendor settings: %w", err)
	}
	gw, err := s.router.RedirectGateway(settings)
	if err != nil {
		return nil, err
	}
	if err := gw.VerifyCallback(encodedResponse, checksum); err != nil {
		s.logger.Warn("Rejected PhonePe callback with bad checksum", zap.String("merchant_tx_id", merchantTxID))
		return nil, err
	}

	if session.Status != models.SessionStatusAwaitingPayment || session.PendingTxID == nil || *session.PendingTxID != merchantTxID {
		return sessionResult(session), nil
	}

	plan, err := s.loadPlan(ctx, session.CustomerID, session.AddressID, session.DeliveryMethod)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TxStatusInitiated {
		if err := s.recoverResolved(ctx, session, plan, tx); err != nil {
			return nil, util.SpanError(span, err)
		}
		return s.resume(ctx, session, plan)
	}

	start := time.Now()
	status, err := gw.Status(ctx, merchantTxID)
	observeGateway(gw.Name(), "status", start)
	if err != nil {
		return nil, util.SpanError(span, apperr.Wrap(apperr.CodeDependency, err, "phonepe status check failed"))
	}

	switch {
	case !status.Success:
		err = s.rejectPayment(ctx, session, tx, models.TxStatusFailed,
			apperr.New(apperr.CodePaymentVerification, "phonepe reported "+status.Code))
	case status.AmountMinor != payment.ToMinorUnits(tx.Amount):
		err = s.rejectPayment(ctx, session, tx, models.TxStatusFailed,
			apperr.New(apperr.CodePaymentVerification, "paid amount does not match the order total"))
	default:
		err = s.settlePayment(ctx, session, plan, tx, status.TransactionID)
	}
	if errors.Is(err, store.ErrStaleState) {
		return sessionResult(session), nil
	}
	if err != nil {
		return nil, util.SpanError(span, err)
	}

	return s.resume(ctx, session, plan)
}

// settlePayment writes the paid vendor order for a verified transaction.
func (s *CheckoutService) settlePayment(ctx context.Context, session *models.CheckoutSession, plan *checkoutPlan, tx *models.PaymentTransaction, gatewayPaymentID string) error {
	group := plan.summary.Group(tx.VendorID)
	if group == nil {
		s.logger.Error("Payment captured but vendor items left the cart",
			zap.String("session_id", session.ID), zap.String("external_tx_id", tx.ExternalTxID))
		return s.rejectPayment(ctx, session, tx, models.TxStatusFailed,
			apperr.New(apperr.CodePaymentVerification, "vendor items are no longer in the cart"))
	}

	quote := s.quote(plan, group, plan.settings[tx.VendorID])
	if total := quote.Total(group.Subtotal); !total.Equal(tx.Amount) {
		s.logger.Error("Payment amount differs from recomputed total",
			zap.String("session_id", session.ID),
			zap.String("paid", tx.Amount.StringFixed(2)),
			zap.String("total", total.StringFixed(2)))
		return s.rejectPayment(ctx, session, tx, models.TxStatusFailed,
			apperr.New(apperr.CodePaymentVerification, "paid amount does not match the order total"))
	}

	tx.Status = models.TxStatusVerified
	tx.Verified = true
	if gatewayPaymentID != "" {
		tx.GatewayPaymentID = &gatewayPaymentID
	}
	if err := s.store.UpdatePaymentTransaction(ctx, tx); err != nil {
		return err
	}
	util.PaymentSuccessTotal.WithLabelValues(tx.Gateway).Inc()
	s.publishPayment(ctx, models.EventTypePaymentVerified, tx, "")

	outcome := session.Outcomes.Find(tx.VendorID)
	order, err := s.createOrder(ctx, session, plan, group, quote, tx.Gateway, models.PaymentStatusPaid, tx)
	if err != nil {
		s.logger.Error("Verified payment has no vendor order",
			zap.String("external_tx_id", tx.ExternalTxID), zap.Error(err))
		s.failVendor(ctx, outcome, err)
		return nil
	}
	markCreated(outcome, order)
	return nil
}

// rejectPayment closes a transaction without an order and fails the vendor.
func (s *CheckoutService) rejectPayment(ctx context.Context, session *models.CheckoutSession, tx *models.PaymentTransaction, status string, cause error) error {
	tx.Status = status
	if err := s.store.UpdatePaymentTransaction(ctx, tx); err != nil {
		return err
	}

	util.PaymentFailedTotal.WithLabelValues(tx.Gateway, status).Inc()
	s.publishPayment(ctx, models.EventTypePaymentFailed, tx, cause.Error())

	if outcome := session.Outcomes.Find(tx.VendorID); outcome != nil {
		outcome.PaymentMethod = tx.Gateway
		outcome.Total = tx.Amount
		s.failVendor(ctx, outcome, cause)
	}
	return nil
}

func (s *CheckoutService) publishPayment(ctx context.Context, eventType string, tx *models.PaymentTransaction, reason string) {
	event := &models.PaymentEvent{
		BaseEvent:         models.NewBaseEvent(eventType),
		CheckoutSessionID: tx.CheckoutSessionID,
		VendorID:          tx.VendorID,
		Gateway:           tx.Gateway,
		ExternalTxID:      tx.ExternalTxID,
		Amount:            tx.Amount,
		Reason:            reason,
	}
	if err := s.publisher.PublishPayment(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// recoverResolved finishes a vendor whose pending transaction was resolved
// by an earlier attempt that stopped before the session was saved.
func (s *CheckoutService) recoverResolved(ctx context.Context, session *models.CheckoutSession, plan *checkoutPlan, tx *models.PaymentTransaction) error {
	outcome := session.Outcomes.Find(tx.VendorID)
	if outcome == nil {
		return nil
	}

	existing, err := s.store.GetOrderBySessionAndVendor(ctx, session.ID, tx.VendorID)
	if err != nil {
		return fmt.Errorf("failed to check existing vendor order: %w", err)
	}

	switch {
	case existing != nil:
		markCreated(outcome, existing)
	case tx.Status == models.TxStatusVerified:
		group := plan.summary.Group(tx.VendorID)
		if group == nil {
			s.failVendor(ctx, outcome, apperr.New(apperr.CodePaymentVerification, "vendor items are no longer in the cart"))
			return nil
		}
		quote := s.quote(plan, group, plan.settings[tx.VendorID])
		order, err := s.createOrder(ctx, session, plan, group, quote, tx.Gateway, models.PaymentStatusPaid, tx)
		if err != nil {
			s.failVendor(ctx, outcome, err)
			return nil
		}
		markCreated(outcome, order)
	default:
		s.failVendor(ctx, outcome, apperr.New(apperr.CodePaymentVerification, "payment was not completed"))
	}
	return nil
}

// resume clears the pending payment and continues the pass.
func (s *CheckoutService) resume(ctx context.Context, session *models.CheckoutSession, plan *checkoutPlan) (*CheckoutResult, error) {
	session.Status = models.SessionStatusInProgress
	session.PendingVendorID = nil
	session.PendingTxID = nil
	if err := s.store.SaveCheckoutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}
	return s.runPass(ctx, session, plan)
}

// receiptFor stays within Razorpay's 40 character receipt limit.
func receiptFor(sessionID string, vendorID int64) string {
	short := strings.ReplaceAll(sessionID, "-", "")
	if len(short) > 16 {
		short = short[:16]
	}
	return fmt.Sprintf("chk_%s_v%d", short, vendorID)
}
