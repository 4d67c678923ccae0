package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// FulfillmentService drives vendor orders through their lifecycle.
type FulfillmentService struct {
	store     FulfillmentStore
	redis     *redisclient.Client
	publisher EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(store FulfillmentStore, redis *redisclient.Client, publisher EventPublisher, lockTTL time.Duration) *FulfillmentService {
	return &FulfillmentService{
		store:     store,
		redis:     redis,
		publisher: publisher,
		lockTTL:   lockTTL,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// StatusUpdate is a requested transition plus optional tracking details.
type StatusUpdate struct {
	Status            models.OrderStatus `json:"status" binding:"required"`
	CourierName       *string            `json:"courier_name,omitempty"`
	TrackingNumber    *string            `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time         `json:"estimated_delivery_date,omitempty"`
	CustomerNote      *string            `json:"customer_note,omitempty"`
	Note              string             `json:"note,omitempty"`
}

func (u StatusUpdate) hasCourierDetails() bool {
	return u.CourierName != nil || u.TrackingNumber != nil || u.EstimatedDelivery != nil || u.CustomerNote != nil
}

// CODCollection records cash handed over on delivery.
type CODCollection struct {
	Amount        decimal.Decimal `json:"amount"`
	MarkDelivered bool            `json:"mark_delivered"`
}

// CODResult is the order after cash was recorded.
type CODResult struct {
	Order     *models.VendorOrder `json:"order"`
	Reference string              `json:"payment_reference"`
}

// OrderDetails is an order with its items and history.
type OrderDetails struct {
	Order   *models.VendorOrder    `json:"order"`
	Items   []models.OrderItem     `json:"items"`
	History []models.StatusHistory `json:"history"`
}

// GetOrder returns an order visible to actor.
func (s *FulfillmentService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.GetOrder",
		attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order")
	}
	if err := authorizeRead(actor, order); err != nil {
		return nil, err
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	history, err := s.store.GetStatusHistory(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}

	return &OrderDetails{Order: order, Items: items, History: history}, nil
}

// UpdateStatus applies a status transition on behalf of actor.
func (s *FulfillmentService) UpdateStatus(ctx context.Context, actor Actor, orderID int64, update StatusUpdate) (*models.VendorOrder, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.UpdateStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("to", string(update.Status)))
	defer span.End()

	if !update.Status.Valid() {
		return nil, apperr.New(apperr.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": update.Status})
	}

	lock, err := s.redis.AcquireOrderLock(ctx, orderID, s.lockTTL)
	if err != nil {
		util.StatusTransitionsRejectedTotal.WithLabelValues(string(actor.Type), "locked").Inc()
		return nil, lockError(err, "order is being updated")
	}
	defer s.release(lock)

	order, err := s.transitionLocked(ctx, actor, orderID, update)
	if err != nil {
		return nil, util.SpanError(span, err)
	}
	return order, nil
}

// transitionLocked runs a transition while the caller holds the order lock.
func (s *FulfillmentService) transitionLocked(ctx context.Context, actor Actor, orderID int64, update StatusUpdate) (*models.VendorOrder, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order")
	}
	if err := authorizeWrite(actor, order); err != nil {
		return nil, err
	}
	if actor.Type == models.ActorPartner && update.hasCourierDetails() {
		return nil, forbidden("delivery partners cannot set courier details")
	}

	from := order.Status
	if !models.CanTransition(actor.Type, from, update.Status) {
		util.StatusTransitionsRejectedTotal.WithLabelValues(string(actor.Type), "disallowed").Inc()
		return nil, apperr.New(apperr.CodeStateConflict, "status transition not allowed").
			WithDetails(map[string]any{"from": from, "to": update.Status, "actor": actor.Type})
	}

	res, err := s.store.ApplyTransition(ctx, store.Transition{
		OrderID:           orderID,
		From:              from,
		To:                update.Status,
		ActorType:         actor.Type,
		ActorID:           actor.idPtr(),
		Note:              update.Note,
		CourierName:       update.CourierName,
		TrackingNumber:    update.TrackingNumber,
		EstimatedDelivery: update.EstimatedDelivery,
		CustomerNote:      update.CustomerNote,
	})
	if errors.Is(err, store.ErrStaleState) {
		util.StatusTransitionsRejectedTotal.WithLabelValues(string(actor.Type), "stale").Inc()
		return nil, apperr.Wrap(apperr.CodeStateConflict, err, "order status changed concurrently")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition: %w", err)
	}

	if from == models.OrderStatusOutForDelivery && update.Status != from {
		if err := s.redis.ClearLocation(ctx, orderID); err != nil {
			s.logger.Warn("Failed to stop live tracking", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	util.StatusTransitionsTotal.WithLabelValues(string(actor.Type), string(update.Status)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(update.Status)),
		zap.String("actor", string(actor.Type)),
		zap.Bool("stock_applied", res.StockApplied))

	event := &models.OrderStatusChangedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:    orderID,
		VendorID:   res.Order.VendorID,
		FromStatus: from,
		ToStatus:   update.Status,
		ActorType:  actor.Type,
		Note:       update.Note,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return res.Order, nil
}

// AssignPartner sets or replaces the delivery partner of a live order.
// Assigning the current partner again is a no-op.
func (s *FulfillmentService) AssignPartner(ctx context.Context, actor Actor, orderID, partnerID int64) (*models.VendorOrder, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.AssignPartner",
		attribute.Int64("order_id", orderID),
		attribute.Int64("partner_id", partnerID))
	defer span.End()

	if actor.Type != models.ActorAdmin && actor.Type != models.ActorSystem {
		return nil, forbidden("only vendor admins assign delivery partners")
	}

	lock, err := s.redis.AcquireOrderLock(ctx, orderID, s.lockTTL)
	if err != nil {
		return nil, lockError(err, "order is being updated")
	}
	defer s.release(lock)

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order")
	}
	if err := authorizeWrite(actor, order); err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, apperr.New(apperr.CodeStateConflict, "order is already "+string(order.Status))
	}
	if order.DeliveryPartnerID != nil && *order.DeliveryPartnerID == partnerID {
		return order, nil
	}

	partner, err := s.store.GetDeliveryPartner(ctx, partnerID)
	if err != nil {
		return nil, storeError(err, "delivery partner")
	}
	if !partner.Active {
		return nil, apperr.New(apperr.CodeValidation, "delivery partner is inactive")
	}
	if partner.VendorID != order.VendorID {
		return nil, apperr.New(apperr.CodeValidation, "delivery partner works for another vendor")
	}

	updated, err := s.store.AssignPartner(ctx, orderID, partnerID, actor.Type, actor.idPtr())
	if err != nil {
		return nil, util.SpanError(span, storeError(err, "order"))
	}

	if order.DeliveryPartnerID != nil && order.Status == models.OrderStatusOutForDelivery {
		if err := s.redis.ClearLocation(ctx, orderID); err != nil {
			s.logger.Warn("Failed to reset live tracking", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	s.logger.Info("Delivery partner assigned",
		zap.Int64("order_id", orderID),
		zap.Int64("partner_id", partnerID))

	event := &models.PartnerAssignedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypePartnerAssigned),
		OrderID:   orderID,
		VendorID:  updated.VendorID,
		PartnerID: partnerID,
	}
	if err := s.publisher.PublishPartnerAssigned(ctx, event); err != nil {
		s.logger.Error("Failed to publish PartnerAssigned event", zap.Error(err))
	}

	return updated, nil
}

// CollectCOD records cash collected for a COD order. Any non-negative amount
// is accepted; it does not have to match the order total.
func (s *FulfillmentService) CollectCOD(ctx context.Context, actor Actor, orderID int64, in CODCollection) (*CODResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CollectCOD",
		attribute.Int64("order_id", orderID))
	defer span.End()

	if in.Amount.IsNegative() {
		return nil, apperr.New(apperr.CodeValidation, "collected amount cannot be negative")
	}

	lock, err := s.redis.AcquireOrderLock(ctx, orderID, s.lockTTL)
	if err != nil {
		return nil, lockError(err, "order is being updated")
	}
	defer s.release(lock)

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order")
	}
	if err := authorizeWrite(actor, order); err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentMethodCOD {
		return nil, apperr.New(apperr.CodeValidation, "order is not cash on delivery")
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, apperr.New(apperr.CodeStateConflict, "order is cancelled")
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperr.New(apperr.CodeConflict, "cash already collected for this order")
	}

	reference, err := newCODReference(s.now())
	if err != nil {
		return nil, util.SpanError(span, err)
	}

	updated, err := s.store.RecordCODCollection(ctx, orderID, in.Amount, reference, actor.Type, actor.idPtr())
	if errors.Is(err, store.ErrStaleState) {
		return nil, apperr.Wrap(apperr.CodeConflict, err, "order payment changed concurrently")
	}
	if err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to record cod collection: %w", err))
	}

	util.CODCollectionsTotal.Inc()
	s.logger.Info("COD collected",
		zap.Int64("order_id", orderID),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("reference", reference))

	event := &models.CODCollectedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeCODCollected),
		OrderID:   orderID,
		Amount:    in.Amount,
		Reference: reference,
	}
	if err := s.publisher.PublishCODCollected(ctx, event); err != nil {
		s.logger.Error("Failed to publish CODCollected event", zap.Error(err))
	}

	if in.MarkDelivered && updated.Status != models.OrderStatusDelivered {
		delivered, err := s.transitionLocked(ctx, actor, orderID, StatusUpdate{
			Status: models.OrderStatusDelivered,
			Note:   "delivered with cash collection",
		})
		if err != nil {
			code := apperr.CodeOf(err)
			return nil, apperr.Wrap(code, err, "cash recorded but order could not be marked delivered").
				WithDetails(map[string]any{"order_id": orderID, "payment_reference": reference})
		}
		updated = delivered
	}

	return &CODResult{Order: updated, Reference: reference}, nil
}

func (s *FulfillmentService) release(lock *redisclient.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		s.logger.Warn("Failed to release order lock", zap.String("key", lock.Key()), zap.Error(err))
	}
}
