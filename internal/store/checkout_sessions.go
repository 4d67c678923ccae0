package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

const sessionColumns = `
	id, customer_id, idempotency_key, address_id, payment_method, delivery_method,
	captured_lat, captured_lng, last_vendor_id, status, pending_vendor_id,
	pending_tx_id, outcomes, created_at, updated_at`

// CreateCheckoutSession inserts a new session. A reused idempotency key
// yields ErrConflict.
func (s *Store) CreateCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	query := `
		INSERT INTO checkout_sessions (id, customer_id, idempotency_key, address_id, payment_method,
			delivery_method, captured_lat, captured_lng, status, outcomes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		session.ID, session.CustomerID, session.IdempotencyKey, session.AddressID, session.PaymentMethod,
		session.DeliveryMethod, session.CapturedLat, session.CapturedLng, session.Status, session.Outcomes)
	if err := row.Scan(&session.CreatedAt, &session.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create checkout session: %w", err)
	}
	return nil
}

// GetCheckoutSession retrieves a session by ID
func (s *Store) GetCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := s.db.GetContext(ctx, &session, "SELECT"+sessionColumns+" FROM checkout_sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout session: %w", err)
	}
	return &session, nil
}

// GetCheckoutSessionByKey retrieves a session by idempotency key, nil if none
func (s *Store) GetCheckoutSessionByKey(ctx context.Context, key string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := s.db.GetContext(ctx, &session, "SELECT"+sessionColumns+" FROM checkout_sessions WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout session by key: %w", err)
	}
	return &session, nil
}

// SaveCheckoutSession persists the mutable progress fields of a session.
func (s *Store) SaveCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	query := `
		UPDATE checkout_sessions
		SET status = $1, last_vendor_id = $2, pending_vendor_id = $3, pending_tx_id = $4,
		    outcomes = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err := s.db.GetContext(ctx, &session.UpdatedAt, query,
		session.Status, session.LastVendorID, session.PendingVendorID, session.PendingTxID,
		session.Outcomes, session.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save checkout session: %w", err)
	}
	return nil
}
