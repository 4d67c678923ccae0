package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderColumns = `
	id, order_number, checkout_session_id, customer_id, vendor_id, address_id,
	delivery_method, zone, subtotal, shipping_cost, extra_charges, total, status,
	payment_method, payment_status, payment_reference, cod_amount_collected,
	estimated_delivery_date, delivery_partner_id, courier_name, tracking_number,
	customer_note, shipped_at, delivered_at, stock_applied, created_at, updated_at`

// CreateVendorOrder writes an order, its line items, the initial history row
// and, when paymentTxID is set, links the verified payment transaction, all
// in one transaction. A second order for the same session and vendor yields
// ErrConflict.
func (s *Store) CreateVendorOrder(ctx context.Context, order *models.VendorOrder, items []models.OrderItem, paymentTxID *int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO vendor_orders (order_number, checkout_session_id, customer_id, vendor_id, address_id,
				delivery_method, zone, subtotal, shipping_cost, extra_charges, total, status,
				payment_method, payment_status, payment_reference, estimated_delivery_date, customer_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING id, created_at, updated_at`

		row := tx.QueryRowxContext(ctx, query,
			order.OrderNumber, order.CheckoutSessionID, order.CustomerID, order.VendorID, order.AddressID,
			order.DeliveryMethod, order.Zone, order.Subtotal, order.ShippingCost, order.ExtraCharges, order.Total,
			order.Status, order.PaymentMethod, order.PaymentStatus, order.PaymentReference,
			order.EstimatedDeliveryDate, order.CustomerNote)
		if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("failed to insert vendor order: %w", err)
		}

		for i := range items {
			item := &items[i]
			item.OrderID = order.ID
			err := tx.GetContext(ctx, &item.ID, `
				INSERT INTO order_items (order_id, product_id, product_name, product_image, quantity,
					unit_price, total_price, custom_weight)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`,
				item.OrderID, item.ProductID, item.ProductName, item.ProductImage, item.Quantity,
				item.UnitPrice, item.TotalPrice, item.CustomWeight)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if err := insertHistory(ctx, tx, &models.StatusHistory{
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			ActorType:  models.ActorSystem,
			Note:       "order placed",
		}); err != nil {
			return err
		}

		if paymentTxID != nil {
			_, err := tx.ExecContext(ctx,
				"UPDATE payment_transactions SET vendor_order_id = $1, updated_at = NOW() WHERE id = $2",
				order.ID, *paymentTxID)
			if err != nil {
				return fmt.Errorf("failed to attach payment transaction: %w", err)
			}
		}
		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.VendorOrder, error) {
	var order models.VendorOrder
	err := s.db.GetContext(ctx, &order, "SELECT"+orderColumns+" FROM vendor_orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// GetOrderBySessionAndVendor returns the order a session created for a
// vendor, nil if none
func (s *Store) GetOrderBySessionAndVendor(ctx context.Context, sessionID string, vendorID int64) (*models.VendorOrder, error) {
	var order models.VendorOrder
	err := s.db.GetContext(ctx, &order,
		"SELECT"+orderColumns+" FROM vendor_orders WHERE checkout_session_id = $1 AND vendor_id = $2",
		sessionID, vendorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order for session vendor: %w", err)
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT id, order_id, product_id, product_name, product_image, quantity, unit_price, total_price, custom_weight
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return items, nil
}

// GetStatusHistory retrieves an order's history, oldest first
func (s *Store) GetStatusHistory(ctx context.Context, orderID int64) ([]models.StatusHistory, error) {
	var history []models.StatusHistory
	err := s.db.SelectContext(ctx, &history, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, note, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	return history, nil
}

// Transition is one requested status change.
type Transition struct {
	OrderID           int64
	From              models.OrderStatus
	To                models.OrderStatus
	ActorType         models.ActorType
	ActorID           *int64
	Note              string
	CourierName       *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	CustomerNote      *string
}

// TransitionResult is the order after a transition was applied.
type TransitionResult struct {
	Order        *models.VendorOrder
	StockApplied bool
}

// ApplyTransition moves an order from t.From to t.To. The update is
// conditional on the current status so concurrent callers cannot both
// succeed; the loser gets ErrStaleState. Entering delivered decrements stock
// once per order, floored at zero.
func (s *Store) ApplyTransition(ctx context.Context, t Transition) (*TransitionResult, error) {
	result := &TransitionResult{}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var order models.VendorOrder
		err := tx.GetContext(ctx, &order, `
			UPDATE vendor_orders
			SET status = $1::text,
			    courier_name = COALESCE($2, courier_name),
			    tracking_number = COALESCE($3, tracking_number),
			    estimated_delivery_date = COALESCE($4, estimated_delivery_date),
			    customer_note = COALESCE($5, customer_note),
			    shipped_at = CASE WHEN $1::text = 'shipped' THEN COALESCE(shipped_at, NOW()) ELSE shipped_at END,
			    delivered_at = CASE WHEN $1::text = 'delivered' THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END,
			    updated_at = NOW()
			WHERE id = $6 AND status = $7
			RETURNING`+orderColumns,
			t.To, t.CourierName, t.TrackingNumber, t.EstimatedDelivery, t.CustomerNote, t.OrderID, t.From)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleState
		}
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if t.To == models.OrderStatusDelivered {
			applied, err := applyStockDecrement(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			result.StockApplied = applied
			order.StockApplied = order.StockApplied || applied
		}

		if err := insertHistory(ctx, tx, &models.StatusHistory{
			OrderID:    order.ID,
			FromStatus: t.From,
			ToStatus:   t.To,
			ActorType:  t.ActorType,
			ActorID:    t.ActorID,
			Note:       t.Note,
		}); err != nil {
			return err
		}

		result.Order = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyStockDecrement(ctx context.Context, tx *sqlx.Tx, orderID int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE vendor_orders SET stock_applied = TRUE WHERE id = $1 AND NOT stock_applied", orderID)
	if err != nil {
		return false, fmt.Errorf("failed to flag stock applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to flag stock applied: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products p
		SET stock = GREATEST(p.stock - oi.qty, 0)
		FROM (SELECT product_id, SUM(quantity) AS qty FROM order_items WHERE order_id = $1 GROUP BY product_id) oi
		WHERE p.id = oi.product_id`, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return true, nil
}

// AssignPartner sets the delivery partner on a non-terminal order.
func (s *Store) AssignPartner(ctx context.Context, orderID, partnerID int64, actor models.ActorType, actorID *int64) (*models.VendorOrder, error) {
	var order models.VendorOrder
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, `
			UPDATE vendor_orders
			SET delivery_partner_id = $1, updated_at = NOW()
			WHERE id = $2 AND status NOT IN ('delivered', 'cancelled')
			RETURNING`+orderColumns, partnerID, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleState
		}
		if err != nil {
			return fmt.Errorf("failed to assign delivery partner: %w", err)
		}

		return insertHistory(ctx, tx, &models.StatusHistory{
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			ActorType:  actor,
			ActorID:    actorID,
			Note:       fmt.Sprintf("delivery partner %d assigned", partnerID),
		})
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// RecordCODCollection marks a live COD order paid with the collected amount.
// Orders already paid, cancelled or not COD yield ErrStaleState.
func (s *Store) RecordCODCollection(ctx context.Context, orderID int64, amount decimal.Decimal, reference string, actor models.ActorType, actorID *int64) (*models.VendorOrder, error) {
	var order models.VendorOrder
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, `
			UPDATE vendor_orders
			SET payment_status = $1, payment_reference = $2, cod_amount_collected = $3, updated_at = NOW()
			WHERE id = $4 AND payment_method = $5 AND payment_status <> $1 AND status <> $6
			RETURNING`+orderColumns,
			models.PaymentStatusPaid, reference, amount, orderID, models.PaymentMethodCOD, models.OrderStatusCancelled)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleState
		}
		if err != nil {
			return fmt.Errorf("failed to record cod collection: %w", err)
		}

		return insertHistory(ctx, tx, &models.StatusHistory{
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			ActorType:  actor,
			ActorID:    actorID,
			Note:       fmt.Sprintf("COD collected: %s (ref %s)", amount.StringFixed(2), reference),
		})
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, h *models.StatusHistory) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_type, actor_id, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		h.OrderID, h.FromStatus, h.ToStatus, h.ActorType, h.ActorID, h.Note).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}
