package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

const transactionColumns = `
	id, checkout_session_id, vendor_id, vendor_order_id, gateway, external_tx_id,
	gateway_order_id, gateway_payment_id, amount, verified, status, created_at, updated_at`

// CreatePaymentTransaction records a gateway attempt
func (s *Store) CreatePaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (checkout_session_id, vendor_id, gateway, external_tx_id,
			gateway_order_id, amount, verified, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		tx.CheckoutSessionID, tx.VendorID, tx.Gateway, tx.ExternalTxID,
		tx.GatewayOrderID, tx.Amount, tx.Verified, tx.Status)
	if err := row.Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

// GetPaymentTransaction retrieves a transaction by gateway and external id
func (s *Store) GetPaymentTransaction(ctx context.Context, gateway, externalTxID string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := s.db.GetContext(ctx, &tx,
		"SELECT"+transactionColumns+" FROM payment_transactions WHERE gateway = $1 AND external_tx_id = $2",
		gateway, externalTxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return &tx, nil
}

// UpdatePaymentTransaction records the outcome of a gateway attempt. Only
// initiated transactions move, so a replayed callback is a no-op.
func (s *Store) UpdatePaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, verified = $2, gateway_payment_id = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		tx.Status, tx.Verified, tx.GatewayPaymentID, tx.ID, models.TxStatusInitiated)
	if err != nil {
		return fmt.Errorf("failed to update payment transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payment transaction: %w", err)
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}
