package worker

import (
	"context"
	"errors"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MessageSource is the consuming side of a topic.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// FixRunner ingests tracking fixes from a channel until it closes.
type FixRunner interface {
	Run(ctx context.Context, fixes <-chan service.TrackingFix) error
}

// TrackingWorker feeds GPS fixes published by partner devices into the
// tracking service.
type TrackingWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	tracking     FixRunner
	fixes        chan service.TrackingFix
	logger       *zap.Logger
}

// NewTrackingWorker creates a new tracking worker
func NewTrackingWorker(source MessageSource, tracking FixRunner, buffer int) *TrackingWorker {
	w := &TrackingWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		tracking:     tracking,
		fixes:        make(chan service.TrackingFix, buffer),
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnTrackingFix(w.enqueue)
	return w
}

func (w *TrackingWorker) enqueue(ctx context.Context, event *models.TrackingFixEvent) error {
	fix := service.TrackingFix{
		OrderID:    event.OrderID,
		PartnerID:  event.PartnerID,
		Lat:        event.Lat,
		Lng:        event.Lng,
		RecordedAt: event.RecordedAt,
		Source:     service.SourceKafka,
	}
	select {
	case w.fixes <- fix:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start consumes until ctx is cancelled or the source stops. It may only be
// called once.
func (w *TrackingWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting tracking worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(w.fixes)
		return w.source.StartConsuming(gctx, w.eventHandler.HandleMessage)
	})
	g.Go(func() error {
		return w.tracking.Run(gctx, w.fixes)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops the worker
func (w *TrackingWorker) Stop() error {
	w.logger.Info("Stopping tracking worker")
	return w.source.Close()
}
