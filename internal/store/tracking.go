package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// InsertTrackingPoint appends a GPS fix. The insert only happens while the
// order is out for delivery with p.PartnerID assigned; otherwise it returns
// ErrStaleState.
func (s *Store) InsertTrackingPoint(ctx context.Context, p *models.TrackingPoint) error {
	err := s.db.GetContext(ctx, &p.ID, `
		INSERT INTO tracking_points (order_id, partner_id, lat, lng, recorded_at)
		SELECT o.id, $2, $3, $4, $5
		FROM vendor_orders o
		WHERE o.id = $1 AND o.status = $6 AND o.delivery_partner_id = $2
		RETURNING id`,
		p.OrderID, p.PartnerID, p.Lat, p.Lng, p.RecordedAt, models.OrderStatusOutForDelivery)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStaleState
	}
	if err != nil {
		return fmt.Errorf("failed to insert tracking point: %w", err)
	}
	return nil
}

// ListTrackingPoints returns an order's fixes ordered by timestamp
func (s *Store) ListTrackingPoints(ctx context.Context, orderID int64) ([]models.TrackingPoint, error) {
	var points []models.TrackingPoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT id, order_id, partner_id, lat, lng, recorded_at
		FROM tracking_points WHERE order_id = $1 ORDER BY recorded_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking points: %w", err)
	}
	return points, nil
}
