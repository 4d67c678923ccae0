package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func checkoutKey(sessionID string) string {
	return "checkout-" + sessionID
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishPartnerAssigned publishes PartnerAssigned event
func (ep *EventPublisher) PublishPartnerAssigned(ctx context.Context, event *models.PartnerAssignedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishPayment publishes a PaymentVerified or PaymentFailed event
func (ep *EventPublisher) PublishPayment(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, checkoutKey(event.CheckoutSessionID), event.EventType, event)
}

// PublishCODCollected publishes CODCollected event
func (ep *EventPublisher) PublishCODCollected(ctx context.Context, event *models.CODCollectedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishCheckoutCompleted publishes CheckoutCompleted event
func (ep *EventPublisher) PublishCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, checkoutKey(event.CheckoutSessionID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onTrackingFix func(context.Context, *models.TrackingFixEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnTrackingFix registers a handler for TrackingFix events
func (eh *EventHandler) OnTrackingFix(handler func(context.Context, *models.TrackingFixEvent) error) {
	eh.onTrackingFix = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeTrackingFix:
		if eh.onTrackingFix != nil {
			var event models.TrackingFixEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TrackingFix event: %w", err)
			}
			return eh.onTrackingFix(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
