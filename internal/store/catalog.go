package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/lib/pq"
)

const vendorSettingsColumns = `
	id AS vendor_id, name, shop_type, in_zone_shipping_cost, out_zone_shipping_cost,
	free_delivery_above, in_zone_sla_days, out_zone_sla_days, zone_states,
	zone_postal_from, zone_postal_to, cod_enabled, online_enabled,
	razorpay_key_id, razorpay_key_secret, phonepe_merchant_id, phonepe_salt_key,
	phonepe_salt_index, service_area_enabled, service_center_lat, service_center_lng,
	service_radius_km, self_pickup_enabled, extra_charges, updated_at`

// GetVendorSettings returns a vendor's fulfillment settings, or nil when the
// vendor has never configured them.
func (s *Store) GetVendorSettings(ctx context.Context, vendorID int64) (*models.VendorSettings, error) {
	var settings models.VendorSettings
	err := s.db.GetContext(ctx, &settings,
		"SELECT"+vendorSettingsColumns+" FROM vendors WHERE id = $1 AND settings_configured", vendorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor settings %d: %w", vendorID, err)
	}
	return &settings, nil
}

// GetCartLines returns a customer's cart joined with the current product
// snapshot, oldest line first.
func (s *Store) GetCartLines(ctx context.Context, customerID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines, `
		SELECT c.id, c.customer_id, c.product_id, p.vendor_id,
		       p.name AS product_name, p.image_url AS product_image,
		       p.price AS unit_price, c.quantity, c.custom_weight
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.customer_id = $1
		ORDER BY c.created_at, c.id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart lines: %w", err)
	}
	return lines, nil
}

// ClearCartForVendors removes the customer's cart lines belonging to vendorIDs.
func (s *Store) ClearCartForVendors(ctx context.Context, customerID int64, vendorIDs []int64) error {
	if len(vendorIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_items c
		USING products p
		WHERE c.product_id = p.id AND c.customer_id = $1 AND p.vendor_id = ANY($2)`,
		customerID, pq.Array(vendorIDs))
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// GetAddress retrieves an address by ID
func (s *Store) GetAddress(ctx context.Context, id int64) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr, `
		SELECT id, customer_id, full_name, phone, line1, line2, city, state, postal_code, geo_link
		FROM addresses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address %d: %w", id, err)
	}
	return &addr, nil
}

// GetDeliveryPartner retrieves a delivery partner by ID
func (s *Store) GetDeliveryPartner(ctx context.Context, id int64) (*models.DeliveryPartner, error) {
	var partner models.DeliveryPartner
	err := s.db.GetContext(ctx, &partner,
		"SELECT id, vendor_id, user_id, name, active, created_at FROM delivery_partners WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery partner %d: %w", id, err)
	}
	return &partner, nil
}
