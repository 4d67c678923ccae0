package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/geo"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Tracking fix sources
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// IngestResult reports whether a fix was stored.
type IngestResult string

const (
	IngestAccepted IngestResult = "accepted"
	IngestIgnored  IngestResult = "ignored"
)

// TrackingFix is one GPS position reported by a delivery partner.
type TrackingFix struct {
	OrderID    int64     `json:"order_id"`
	PartnerID  int64     `json:"partner_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
	Source     string    `json:"-"`
}

// TrackingService ingests and serves delivery positions.
type TrackingService struct {
	store       TrackingStore
	redis       *redisclient.Client
	locationTTL time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewTrackingService creates a new tracking service
func NewTrackingService(store TrackingStore, redis *redisclient.Client, locationTTL time.Duration) *TrackingService {
	return &TrackingService{
		store:       store,
		redis:       redis,
		locationTTL: locationTTL,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// Ingest stores a fix while the order is out for delivery with the
// reporting partner assigned. Fixes outside that window are ignored, not
// rejected: a tracker may still emit after delivery is confirmed.
func (s *TrackingService) Ingest(ctx context.Context, fix TrackingFix) (IngestResult, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.Ingest",
		attribute.Int64("order_id", fix.OrderID))
	defer span.End()

	source := fix.Source
	if source == "" {
		source = SourceHTTP
	}

	if !(geo.Point{Lat: fix.Lat, Lng: fix.Lng}).Valid() {
		util.TrackingFixesTotal.WithLabelValues(source, "invalid").Inc()
		return "", apperr.New(apperr.CodeValidation, "coordinate out of range")
	}
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = s.now()
	}
	fix.RecordedAt = fix.RecordedAt.UTC()

	order, err := s.store.GetOrderByID(ctx, fix.OrderID)
	if err != nil {
		return "", storeError(err, "order")
	}
	if order.Status != models.OrderStatusOutForDelivery ||
		order.DeliveryPartnerID == nil || *order.DeliveryPartnerID != fix.PartnerID {
		return s.ignored(source, fix, string(order.Status)), nil
	}

	point := &models.TrackingPoint{
		OrderID:    fix.OrderID,
		PartnerID:  fix.PartnerID,
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		RecordedAt: fix.RecordedAt,
	}
	err = s.store.InsertTrackingPoint(ctx, point)
	if errors.Is(err, store.ErrStaleState) {
		return s.ignored(source, fix, "status changed"), nil
	}
	if err != nil {
		return "", util.SpanError(span, fmt.Errorf("failed to store tracking fix: %w", err))
	}

	if _, err := s.redis.SetLastLocation(ctx, redisclient.Location{
		OrderID:    fix.OrderID,
		PartnerID:  fix.PartnerID,
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		RecordedAt: fix.RecordedAt,
	}, s.locationTTL); err != nil {
		s.logger.Warn("Failed to cache live location", zap.Int64("order_id", fix.OrderID), zap.Error(err))
	}

	util.TrackingFixesTotal.WithLabelValues(source, string(IngestAccepted)).Inc()
	return IngestAccepted, nil
}

func (s *TrackingService) ignored(source string, fix TrackingFix, reason string) IngestResult {
	util.TrackingFixesTotal.WithLabelValues(source, string(IngestIgnored)).Inc()
	s.logger.Debug("Tracking fix ignored",
		zap.Int64("order_id", fix.OrderID),
		zap.Int64("partner_id", fix.PartnerID),
		zap.String("reason", reason))
	return IngestIgnored
}

// Run drains fixes until the channel closes or ctx is cancelled. Per-fix
// errors are logged and do not stop the loop.
func (s *TrackingService) Run(ctx context.Context, fixes <-chan TrackingFix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			if _, err := s.Ingest(ctx, fix); err != nil {
				s.logger.Warn("Failed to ingest tracking fix",
					zap.Int64("order_id", fix.OrderID),
					zap.String("source", fix.Source),
					zap.Error(err))
			}
		}
	}
}

// History lists an order's fixes in timestamp order.
func (s *TrackingService) History(ctx context.Context, actor Actor, orderID int64) ([]models.TrackingPoint, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.History")
	defer span.End()

	if _, err := s.authorize(ctx, actor, orderID); err != nil {
		return nil, err
	}
	points, err := s.store.ListTrackingPoints(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking points: %w", err)
	}
	if points == nil {
		points = []models.TrackingPoint{}
	}
	return points, nil
}

// LiveLocation returns the latest cached fix of an order out for delivery.
func (s *TrackingService) LiveLocation(ctx context.Context, actor Actor, orderID int64) (*redisclient.Location, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.LiveLocation")
	defer span.End()

	order, err := s.authorize(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	// A late fix can re-cache a position after delivery; the status decides.
	if order.Status != models.OrderStatusOutForDelivery {
		return nil, apperr.New(apperr.CodeNotFound, "order is not being tracked")
	}
	loc, err := s.redis.GetLastLocation(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "live location unavailable")
	}
	if loc == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order is not being tracked")
	}
	return loc, nil
}

func (s *TrackingService) authorize(ctx context.Context, actor Actor, orderID int64) (*models.VendorOrder, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order")
	}
	if err := authorizeRead(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}
