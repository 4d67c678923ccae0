package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replaySource hands a fixed set of messages to the handler, then either
// returns or blocks until cancelled.
type replaySource struct {
	messages [][]byte
	block    bool
	closed   bool
}

func (s *replaySource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for i, value := range s.messages {
		_ = handler(ctx, kafka.Message{Offset: int64(i), Value: value})
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *replaySource) Close() error {
	s.closed = true
	return nil
}

type collectingRunner struct {
	mu    sync.Mutex
	fixes []service.TrackingFix
}

func (r *collectingRunner) Run(ctx context.Context, fixes <-chan service.TrackingFix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			r.mu.Lock()
			r.fixes = append(r.fixes, fix)
			r.mu.Unlock()
		}
	}
}

func (r *collectingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fixes)
}

func fixMessage(t *testing.T, orderID int64) []byte {
	t.Helper()
	b, err := json.Marshal(models.TrackingFixEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeTrackingFix),
		OrderID:    orderID,
		PartnerID:  500,
		Lat:        13.05,
		Lng:        80.25,
		RecordedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return b
}

func TestTrackingWorkerForwardsFixes(t *testing.T) {
	other, err := json.Marshal(models.NewBaseEvent(models.EventTypeOrderPlaced))
	require.NoError(t, err)

	source := &replaySource{messages: [][]byte{
		fixMessage(t, 1),
		[]byte("not json"),
		other,
		fixMessage(t, 2),
	}}
	runner := &collectingRunner{}

	w := NewTrackingWorker(source, runner, 1)
	require.NoError(t, w.Start(context.Background()))

	require.Len(t, runner.fixes, 2)
	assert.Equal(t, int64(1), runner.fixes[0].OrderID)
	assert.Equal(t, int64(2), runner.fixes[1].OrderID)
	assert.Equal(t, service.SourceKafka, runner.fixes[0].Source)
	assert.Equal(t, int64(500), runner.fixes[0].PartnerID)
}

func TestTrackingWorkerStopsOnCancel(t *testing.T) {
	source := &replaySource{messages: [][]byte{fixMessage(t, 1)}, block: true}
	runner := &collectingRunner{}
	w := NewTrackingWorker(source, runner, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}
