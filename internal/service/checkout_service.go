package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/cart"
	"checkout-service/internal/geo"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/shipping"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxOrderNumberAttempts = 3
	phonePeCallbackPath    = "/api/v1/payments/phonepe/callback"
)

// CheckoutConfig holds the tunables of the checkout saga.
type CheckoutConfig struct {
	IdempotencyTTL  time.Duration
	SessionLockTTL  time.Duration
	CallbackBaseURL string
	RedirectURL     string
}

// CheckoutService turns a multi-vendor cart into one order per vendor.
type CheckoutService struct {
	store     CheckoutStore
	redis     *redisclient.Client
	publisher EventPublisher
	shipping  *shipping.Calculator
	router    *payment.Router
	cfg       CheckoutConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store CheckoutStore,
	redis *redisclient.Client,
	publisher EventPublisher,
	calculator *shipping.Calculator,
	router *payment.Router,
	cfg CheckoutConfig,
) *CheckoutService {
	return &CheckoutService{
		store:     store,
		redis:     redis,
		publisher: publisher,
		shipping:  calculator,
		router:    router,
		cfg:       cfg,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CheckoutRequest represents a place-order submission
type CheckoutRequest struct {
	CustomerID     int64    `json:"-"`
	AddressID      *int64   `json:"address_id,omitempty"`
	DeliveryMethod string   `json:"delivery_method" binding:"required,oneof=delivery pickup"`
	PaymentMethod  string   `json:"payment_method" binding:"required,oneof=cod online"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// PaymentPrompt is what the client needs to open a payment modal.
type PaymentPrompt struct {
	VendorID int64  `json:"vendor_id"`
	Gateway  string `json:"gateway"`
	payment.GatewayOrder
}

// PendingPayment identifies the gateway transaction a session waits on.
type PendingPayment struct {
	VendorID     int64  `json:"vendor_id"`
	Gateway      string `json:"gateway"`
	ExternalTxID string `json:"external_tx_id"`
}

// CheckoutResult reports per-vendor outcomes of a checkout pass.
type CheckoutResult struct {
	SessionID string                `json:"session_id"`
	Status    string                `json:"status"`
	Created   []string              `json:"created"`
	Vendors   models.VendorOutcomes `json:"vendors"`
	Pending   *PendingPayment       `json:"pending,omitempty"`
	Redirect  *payment.Redirect     `json:"redirect,omitempty"`
	Payment   *PaymentPrompt        `json:"payment,omitempty"`
	Replayed  bool                  `json:"replayed,omitempty"`
}

// AreaViolation is one vendor whose service area excludes the customer.
type AreaViolation struct {
	VendorID   int64   `json:"vendor_id"`
	VendorName string  `json:"vendor_name,omitempty"`
	DistanceKm float64 `json:"distance_km"`
	RadiusKm   float64 `json:"radius_km"`
}

// checkoutPlan is the cart, address and settings a pass works against.
type checkoutPlan struct {
	summary        cart.Summary
	address        *models.Address
	settings       map[int64]*models.VendorSettings
	deliveryMethod string
}

// Checkout runs the saga for a new submission. A replayed idempotency key
// returns the recorded result of the earlier submission, finishing it first
// if it was interrupted.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout",
		attribute.Int64("customer_id", req.CustomerID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutDuration.Observe(time.Since(start).Seconds())
	}()

	if err := validateCheckoutRequest(req); err != nil {
		util.CheckoutsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	guard, err := s.redis.AcquireIdempotencyGuard(ctx, req.IdempotencyKey, s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, lockError(err, "a checkout with this idempotency key is in progress")
	}
	defer s.release(guard)

	existing, err := s.store.GetCheckoutSessionByKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		if existing.CustomerID != req.CustomerID {
			return nil, apperr.New(apperr.CodeConflict, "idempotency key already used")
		}
		s.logger.Info("Duplicate checkout request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("session_id", existing.ID))
		if existing.Status == models.SessionStatusInProgress {
			return s.resumeInterrupted(ctx, existing.ID)
		}
		result := sessionResult(existing)
		result.Replayed = true
		return result, nil
	}

	plan, err := s.loadPlan(ctx, req.CustomerID, req.AddressID, req.DeliveryMethod)
	if err != nil {
		util.CheckoutsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	coordinate := s.customerCoordinate(plan.address, req.Latitude, req.Longitude)
	if err := s.precheck(plan, coordinate); err != nil {
		util.CheckoutsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	session := &models.CheckoutSession{
		ID:             uuid.New().String(),
		CustomerID:     req.CustomerID,
		IdempotencyKey: req.IdempotencyKey,
		AddressID:      req.AddressID,
		PaymentMethod:  strings.ToLower(req.PaymentMethod),
		DeliveryMethod: req.DeliveryMethod,
		Status:         models.SessionStatusInProgress,
		Outcomes:       make(models.VendorOutcomes, 0, len(plan.summary.Groups)),
	}
	if coordinate != nil {
		session.CapturedLat = &coordinate.Lat
		session.CapturedLng = &coordinate.Lng
	}
	for _, g := range plan.summary.Groups {
		session.Outcomes = append(session.Outcomes, models.VendorOutcome{
			VendorID: g.VendorID,
			Status:   models.OutcomePending,
		})
	}

	if err := s.store.CreateCheckoutSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Wrap(apperr.CodeConflict, err, "idempotency key already used")
		}
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.Int64("customer_id", session.CustomerID),
		zap.Int("vendors", len(session.Outcomes)))

	lock, err := s.redis.AcquireSessionLock(ctx, session.ID, s.cfg.SessionLockTTL)
	if err != nil {
		return nil, lockError(err, "checkout session is busy")
	}
	defer s.release(lock)

	return s.runPass(ctx, session, plan)
}

// resumeInterrupted re-runs a pass that stopped partway. Vendors that already
// hold an order in the session are reconciled rather than written again.
func (s *CheckoutService) resumeInterrupted(ctx context.Context, sessionID string) (*CheckoutResult, error) {
	lock, err := s.redis.AcquireSessionLock(ctx, sessionID, s.cfg.SessionLockTTL)
	if err != nil {
		return nil, lockError(err, "checkout session is busy")
	}
	defer s.release(lock)

	session, err := s.store.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "checkout session")
	}
	if session.Status != models.SessionStatusInProgress {
		result := sessionResult(session)
		result.Replayed = true
		return result, nil
	}

	plan, err := s.loadPlan(ctx, session.CustomerID, session.AddressID, session.DeliveryMethod)
	if err != nil {
		return nil, err
	}

	util.LoggerFromContext(ctx).Info("Resuming interrupted checkout", zap.String("session_id", session.ID))
	result, err := s.runPass(ctx, session, plan)
	if err != nil {
		return nil, err
	}
	result.Replayed = true
	return result, nil
}

// GetSession returns the current result of a customer's checkout session.
func (s *CheckoutService) GetSession(ctx context.Context, sessionID string, customerID int64) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.GetSession")
	defer span.End()

	session, err := s.loadSession(ctx, sessionID, customerID)
	if err != nil {
		return nil, err
	}
	return sessionResult(session), nil
}

func validateCheckoutRequest(req *CheckoutRequest) error {
	if req.CustomerID <= 0 {
		return apperr.New(apperr.CodeValidation, "customer is required")
	}
	switch req.DeliveryMethod {
	case models.DeliveryMethodDelivery:
		if req.AddressID == nil {
			return apperr.New(apperr.CodeValidation, "a delivery address must be selected")
		}
	case models.DeliveryMethodPickup:
	default:
		return apperr.New(apperr.CodeValidation, "delivery method must be delivery or pickup")
	}
	choice := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if choice != models.PaymentChoiceCOD && choice != models.PaymentChoiceOnline {
		return apperr.New(apperr.CodeValidation, "payment method must be cod or online")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return apperr.New(apperr.CodeValidation, "latitude and longitude must be sent together")
	}
	return nil
}

func (s *CheckoutService) loadSession(ctx context.Context, sessionID string, customerID int64) (*models.CheckoutSession, error) {
	session, err := s.store.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "checkout session")
	}
	if session.CustomerID != customerID {
		return nil, forbidden("checkout session belongs to another customer")
	}
	return session, nil
}

// loadPlan reads the cart, address and vendor settings for a pass.
func (s *CheckoutService) loadPlan(ctx context.Context, customerID int64, addressID *int64, deliveryMethod string) (*checkoutPlan, error) {
	lines, err := s.store.GetCartLines(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	summary, err := cart.GroupByVendor(lines)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "cart contains invalid lines")
	}

	plan := &checkoutPlan{summary: summary, deliveryMethod: deliveryMethod}

	if addressID != nil {
		address, err := s.store.GetAddress(ctx, *addressID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodeValidation, err, "selected address does not exist")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load address: %w", err)
		}
		if address.CustomerID != customerID {
			return nil, forbidden("address belongs to another customer")
		}
		plan.address = address
	}

	plan.settings, err = s.loadSettings(ctx, summary.VendorIDs())
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// loadSettings fetches every vendor's settings concurrently. A nil entry
// means the vendor never configured settings.
func (s *CheckoutService) loadSettings(ctx context.Context, vendorIDs []int64) (map[int64]*models.VendorSettings, error) {
	results := make([]*models.VendorSettings, len(vendorIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, vendorID := range vendorIDs {
		i, vendorID := i, vendorID
		g.Go(func() error {
			settings, err := s.store.GetVendorSettings(gctx, vendorID)
			if err != nil {
				return fmt.Errorf("failed to load settings for vendor %d: %w", vendorID, err)
			}
			results[i] = settings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byVendor := make(map[int64]*models.VendorSettings, len(vendorIDs))
	for i, vendorID := range vendorIDs {
		if settings := results[i]; settings != nil {
			if err := settings.Validate(); err != nil {
				s.logger.Warn("Vendor settings failed validation",
					zap.Int64("vendor_id", vendorID), zap.Error(err))
			}
		}
		byVendor[vendorID] = results[i]
	}
	return byVendor, nil
}

// customerCoordinate prefers the address geo link over the coordinate the
// client captured.
func (s *CheckoutService) customerCoordinate(address *models.Address, lat, lng *float64) *geo.Point {
	if address != nil && address.GeoLink != nil {
		if p, ok := geo.ParseMapLink(*address.GeoLink); ok {
			return &p
		}
	}
	if lat != nil && lng != nil {
		p := geo.Point{Lat: *lat, Lng: *lng}
		if p.Valid() {
			return &p
		}
	}
	return nil
}

// precheck runs the checks that must pass before anything is written.
func (s *CheckoutService) precheck(plan *checkoutPlan, coordinate *geo.Point) error {
	if len(plan.summary.Groups) == 0 {
		return apperr.New(apperr.CodeValidation, "cart is empty")
	}

	if plan.deliveryMethod == models.DeliveryMethodPickup {
		var refused []int64
		for _, vendorID := range plan.summary.VendorIDs() {
			if settings := plan.settings[vendorID]; settings == nil || !settings.SelfPickupEnabled {
				refused = append(refused, vendorID)
			}
		}
		if len(refused) > 0 {
			return apperr.New(apperr.CodeValidation, "self pickup is not offered by every vendor").
				WithDetails(map[string]any{"vendor_ids": refused})
		}
		return nil
	}

	var violations []AreaViolation
	for _, vendorID := range plan.summary.VendorIDs() {
		settings := plan.settings[vendorID]
		if settings == nil {
			continue
		}
		check := geo.CheckServiceArea(geo.ServiceArea{
			Enabled:  settings.ServiceAreaEnabled,
			Center:   geo.Point{Lat: settings.ServiceCenterLat, Lng: settings.ServiceCenterLng},
			RadiusKm: settings.ServiceRadiusKm,
		}, coordinate)
		if check.Violated() {
			violations = append(violations, AreaViolation{
				VendorID:   vendorID,
				VendorName: settings.Name,
				DistanceKm: check.DistanceKm,
				RadiusKm:   check.RadiusKm,
			})
		}
	}
	if len(violations) > 0 {
		util.ServiceAreaRejectionsTotal.Inc()
		return apperr.New(apperr.CodeServiceArea, "delivery address is outside the service area of some vendors").
			WithDetails(violations)
	}
	return nil
}

// runPass processes vendors in order until one suspends for payment or all
// are done. Vendors already created or failed are skipped, so a pass can be
// re-run after a suspension or crash.
func (s *CheckoutService) runPass(ctx context.Context, session *models.CheckoutSession, plan *checkoutPlan) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.runPass",
		attribute.String("session_id", session.ID))
	defer span.End()

	for i := range session.Outcomes {
		outcome := &session.Outcomes[i]
		switch outcome.Status {
		case models.OutcomeCreated, models.OutcomeFailed:
			continue
		case models.OutcomeAwaitingPayment:
			return sessionResult(session), nil
		}

		vendorID := outcome.VendorID
		session.LastVendorID = &vendorID

		result, suspended, err := s.processVendor(ctx, session, plan, outcome)
		if err != nil {
			return nil, util.SpanError(span, err)
		}
		if suspended {
			return result, nil
		}

		if err := s.store.SaveCheckoutSession(ctx, session); err != nil {
			return nil, util.SpanError(span, fmt.Errorf("failed to save checkout progress: %w", err))
		}
	}

	return s.finish(ctx, session)
}

// processVendor handles one vendor. It returns suspended=true with the
// payment prompt when the pass must wait for the customer. Vendor-scoped
// failures are recorded on the outcome, not returned.
func (s *CheckoutService) processVendor(ctx context.Context, session *models.CheckoutSession, plan *checkoutPlan, outcome *models.VendorOutcome) (*CheckoutResult, bool, error) {
	existing, err := s.store.GetOrderBySessionAndVendor(ctx, session.ID, outcome.VendorID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing vendor order: %w", err)
	}
	if existing != nil {
		markCreated(outcome, existing)
		return nil, false, nil
	}

	group := plan.summary.Group(outcome.VendorID)
	if group == nil {
		s.failVendor(ctx, outcome, apperr.New(apperr.CodeValidation, "vendor items are no longer in the cart"))
		return nil, false, nil
	}

	settings := plan.settings[outcome.VendorID]
	quote := s.quote(plan, group, settings)
	total := quote.Total(group.Subtotal)
	outcome.Total = total

	decision, err := s.router.Route(session.PaymentMethod, settings)
	if err != nil {
		s.failVendor(ctx, outcome, err)
		return nil, false, nil
	}
	outcome.PaymentMethod = decision.Method

	if decision.Online() {
		return s.startPayment(ctx, session, outcome, total, decision)
	}

	order, err := s.createOrder(ctx, session, plan, group, quote, models.PaymentMethodCOD, models.PaymentStatusPending, nil)
	if err != nil {
		s.failVendor(ctx, outcome, err)
		return nil, false, nil
	}
	markCreated(outcome, order)
	return nil, false, nil
}

// startPayment opens the gateway flow for an online vendor and suspends the
// pass until the customer completes it.
func (s *CheckoutService) startPayment(ctx context.Context, session *models.CheckoutSession, outcome *models.VendorOutcome, total decimal.Decimal, decision payment.Decision) (*CheckoutResult, bool, error) {
	switch {
	case decision.Redirect != nil:
		redirect, tx, err := s.initiateRedirect(ctx, session, outcome.VendorID, total, decision.Redirect)
		if err != nil {
			s.failVendor(ctx, outcome, err)
			return nil, false, nil
		}
		result, err := s.suspend(ctx, session, outcome, tx)
		if err != nil {
			return nil, false, err
		}
		result.Redirect = redirect
		return result, true, nil

	case decision.Sync != nil:
		prompt, tx, err := s.openModal(ctx, session, outcome.VendorID, total, decision.Sync)
		if err != nil {
			s.failVendor(ctx, outcome, err)
			return nil, false, nil
		}
		result, err := s.suspend(ctx, session, outcome, tx)
		if err != nil {
			return nil, false, err
		}
		result.Payment = prompt
		return result, true, nil
	}
	s.failVendor(ctx, outcome, apperr.New(apperr.CodePaymentInitiation, "no payment gateway is available"))
	return nil, false, nil
}

func (s *CheckoutService) quote(plan *checkoutPlan, group *cart.VendorGroup, settings *models.VendorSettings) shipping.Quote {
	zone := ""
	if plan.deliveryMethod == models.DeliveryMethodDelivery {
		zone = shipping.ResolveZone(plan.address, shipping.ZoneFor(settings, s.shipping.Defaults().Zone), s.logger)
	}
	return s.shipping.Quote(shipping.QuoteInput{
		Settings:       settings,
		Zone:           zone,
		DeliveryMethod: plan.deliveryMethod,
		Subtotal:       group.Subtotal,
	})
}

// createOrder writes the vendor order with its item snapshot. A conflict on
// (session, vendor) means an earlier attempt already wrote it.
func (s *CheckoutService) createOrder(
	ctx context.Context,
	session *models.CheckoutSession,
	plan *checkoutPlan,
	group *cart.VendorGroup,
	quote shipping.Quote,
	method, paymentStatus string,
	tx *models.PaymentTransaction,
) (*models.VendorOrder, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.createOrder",
		attribute.Int64("vendor_id", group.VendorID))
	defer span.End()

	now := s.now()
	eta := quote.EstimatedDelivery(now)
	order := &models.VendorOrder{
		CheckoutSessionID:     session.ID,
		CustomerID:            session.CustomerID,
		VendorID:              group.VendorID,
		AddressID:             session.AddressID,
		DeliveryMethod:        plan.deliveryMethod,
		Zone:                  quote.Zone,
		Subtotal:              group.Subtotal,
		ShippingCost:          quote.ShippingCost,
		ExtraCharges:          quote.ExtraCharges,
		Total:                 quote.Total(group.Subtotal),
		Status:                models.OrderStatusPending,
		PaymentMethod:         method,
		PaymentStatus:         paymentStatus,
		EstimatedDeliveryDate: &eta,
	}
	var txID *int64
	if tx != nil {
		ref := tx.ExternalTxID
		order.PaymentReference = &ref
		txID = &tx.ID
	}
	items := snapshotItems(group.Lines)

	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		number, err := newOrderNumber(now)
		if err != nil {
			return nil, util.SpanError(span, err)
		}
		order.OrderNumber = number

		err = s.store.CreateVendorOrder(ctx, order, items, txID)
		if err == nil {
			s.orderPlaced(ctx, order, items)
			return order, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			util.VendorOrdersFailedTotal.WithLabelValues("db_error").Inc()
			return nil, util.SpanError(span, fmt.Errorf("failed to create vendor order: %w", err))
		}

		existing, lookupErr := s.store.GetOrderBySessionAndVendor(ctx, session.ID, group.VendorID)
		if lookupErr != nil {
			return nil, util.SpanError(span, fmt.Errorf("failed to check existing vendor order: %w", lookupErr))
		}
		if existing != nil {
			return existing, nil
		}
		s.logger.Warn("Order number collision, retrying", zap.String("order_number", number))
	}

	return nil, apperr.New(apperr.CodeConflict, "could not allocate a unique order number")
}

func snapshotItems(lines []models.CartLine) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderItem{
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			ProductImage: line.ProductImage,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			TotalPrice:   line.LineTotal(),
			CustomWeight: line.CustomWeight,
		})
	}
	return items
}

func (s *CheckoutService) orderPlaced(ctx context.Context, order *models.VendorOrder, items []models.OrderItem) {
	util.VendorOrdersCreatedTotal.WithLabelValues(order.PaymentMethod).Inc()
	s.logger.Info("Vendor order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("vendor_id", order.VendorID),
		zap.String("total", order.Total.StringFixed(2)))

	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:         models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		CheckoutSessionID: order.CheckoutSessionID,
		CustomerID:        order.CustomerID,
		VendorID:          order.VendorID,
		Total:             order.Total,
		PaymentMethod:     order.PaymentMethod,
		PaymentStatus:     order.PaymentStatus,
		Items:             data,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// suspend parks the session until the customer finishes paying.
func (s *CheckoutService) suspend(ctx context.Context, session *models.CheckoutSession, outcome *models.VendorOutcome, tx *models.PaymentTransaction) (*CheckoutResult, error) {
	vendorID := outcome.VendorID
	txID := tx.ExternalTxID

	outcome.Status = models.OutcomeAwaitingPayment
	session.Status = models.SessionStatusAwaitingPayment
	session.PendingVendorID = &vendorID
	session.PendingTxID = &txID

	if err := s.store.SaveCheckoutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}

	s.logger.Info("Checkout suspended for payment",
		zap.String("session_id", session.ID),
		zap.Int64("vendor_id", vendorID),
		zap.String("gateway", tx.Gateway))
	return sessionResult(session), nil
}

// finish clears the cart for created vendors and closes the session.
func (s *CheckoutService) finish(ctx context.Context, session *models.CheckoutSession) (*CheckoutResult, error) {
	var created []int64
	for _, o := range session.Outcomes {
		if o.Status == models.OutcomeCreated {
			created = append(created, o.VendorID)
		}
	}

	if len(created) > 0 {
		if err := s.store.ClearCartForVendors(ctx, session.CustomerID, created); err != nil {
			s.logger.Error("Failed to clear cart", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	switch {
	case len(created) == len(session.Outcomes):
		session.Status = models.SessionStatusCompleted
	case len(created) == 0:
		session.Status = models.SessionStatusFailed
	default:
		session.Status = models.SessionStatusPartial
	}
	session.PendingVendorID = nil
	session.PendingTxID = nil

	if err := s.store.SaveCheckoutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}

	util.CheckoutsTotal.WithLabelValues(session.Status).Inc()
	s.logger.Info("Checkout finished",
		zap.String("session_id", session.ID),
		zap.String("status", session.Status),
		zap.Int("created", len(created)),
		zap.Int("vendors", len(session.Outcomes)))

	event := &models.CheckoutCompletedEvent{
		BaseEvent:         models.NewBaseEvent(models.EventTypeCheckoutCompleted),
		CheckoutSessionID: session.ID,
		CustomerID:        session.CustomerID,
		Status:            session.Status,
		OrderNumbers:      session.CreatedOrderNumbers(),
	}
	if err := s.publisher.PublishCheckoutCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutCompleted event", zap.Error(err))
	}

	return sessionResult(session), nil
}

func (s *CheckoutService) failVendor(ctx context.Context, outcome *models.VendorOutcome, err error) {
	code := apperr.CodeOf(err)
	outcome.Status = models.OutcomeFailed
	outcome.ErrorCode = string(code)
	if typed := apperr.As(err); typed != nil {
		outcome.Error = typed.Message()
	} else {
		outcome.Error = "vendor order could not be created"
	}

	util.VendorOrdersFailedTotal.WithLabelValues(strings.ToLower(string(code))).Inc()
	util.LoggerFromContext(ctx).Warn("Vendor order failed",
		zap.Int64("vendor_id", outcome.VendorID),
		zap.String("code", string(code)),
		zap.Error(err))
}

func markCreated(outcome *models.VendorOutcome, order *models.VendorOrder) {
	outcome.Status = models.OutcomeCreated
	outcome.OrderID = order.ID
	outcome.OrderNumber = order.OrderNumber
	outcome.PaymentMethod = order.PaymentMethod
	outcome.Total = order.Total
	outcome.ErrorCode = ""
	outcome.Error = ""
}

func (s *CheckoutService) release(lock *redisclient.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		s.logger.Warn("Failed to release lock", zap.String("key", lock.Key()), zap.Error(err))
	}
}

func sessionResult(session *models.CheckoutSession) *CheckoutResult {
	result := &CheckoutResult{
		SessionID: session.ID,
		Status:    session.Status,
		Created:   session.CreatedOrderNumbers(),
		Vendors:   session.Outcomes,
	}
	if session.Status == models.SessionStatusAwaitingPayment && session.PendingVendorID != nil && session.PendingTxID != nil {
		pending := &PendingPayment{VendorID: *session.PendingVendorID, ExternalTxID: *session.PendingTxID}
		if o := session.Outcomes.Find(pending.VendorID); o != nil {
			pending.Gateway = o.PaymentMethod
		}
		result.Pending = pending
	}
	return result
}
