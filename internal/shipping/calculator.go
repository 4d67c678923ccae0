package shipping

import (
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// Defaults applies when a vendor has no settings row.
type Defaults struct {
	FlatCost decimal.Decimal
	SLADays  int
	Zone     ZoneConfig
}

// QuoteInput is everything needed to price one vendor order.
type QuoteInput struct {
	Settings       *models.VendorSettings
	Zone           string
	DeliveryMethod string
	Subtotal       decimal.Decimal
}

// Quote is the priced shipping for one vendor order.
type Quote struct {
	Zone         string
	ShippingCost decimal.Decimal
	ExtraCharges decimal.Decimal
	SLADays      int
	FreeDelivery bool
}

// Total returns subtotal + shipping + extra charges.
func (q Quote) Total(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Add(q.ShippingCost).Add(q.ExtraCharges)
}

// EstimatedDelivery returns from plus the quoted SLA days.
func (q Quote) EstimatedDelivery(from time.Time) time.Time {
	return from.AddDate(0, 0, q.SLADays)
}

// Calculator prices shipping. It is pure; zone resolution happens before
// it is called, once per vendor order.
type Calculator struct {
	defaults Defaults
}

// NewCalculator creates a shipping calculator
func NewCalculator(defaults Defaults) *Calculator {
	return &Calculator{defaults: defaults}
}

// Defaults returns the configured fallbacks
func (c *Calculator) Defaults() Defaults {
	return c.defaults
}

// Quote computes shipping cost, extra charges and SLA for one vendor order.
func (c *Calculator) Quote(in QuoteInput) Quote {
	q := Quote{
		Zone:         in.Zone,
		ShippingCost: decimal.Zero,
		ExtraCharges: ExtraChargesFor(in.Settings),
	}

	if in.DeliveryMethod == models.DeliveryMethodPickup {
		q.Zone = ""
		q.SLADays = c.slaDays(in.Settings, models.ZoneIn)
		return q
	}

	q.SLADays = c.slaDays(in.Settings, in.Zone)

	if in.Settings == nil {
		q.ShippingCost = c.defaults.FlatCost
		return q
	}

	threshold := in.Settings.FreeDeliveryAbove
	if threshold.IsPositive() && in.Subtotal.GreaterThanOrEqual(threshold) {
		q.FreeDelivery = true
		return q
	}

	cost := in.Settings.InZoneShippingCost
	if in.Zone != models.ZoneIn {
		cost = in.Settings.OutZoneShippingCost
	}
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	q.ShippingCost = cost
	return q
}

func (c *Calculator) slaDays(settings *models.VendorSettings, zone string) int {
	if settings == nil {
		return c.defaults.SLADays
	}
	days := settings.InZoneSLADays
	if zone == models.ZoneOut {
		days = settings.OutZoneSLADays
	}
	if days <= 0 {
		return c.defaults.SLADays
	}
	return days
}

// ExtraChargesFor sums the flat per-order charges, which only food vendors levy.
func ExtraChargesFor(settings *models.VendorSettings) decimal.Decimal {
	if settings == nil || settings.ShopType != models.ShopTypeFood {
		return decimal.Zero
	}
	sum := settings.ExtraCharges.Sum()
	if sum.IsNegative() {
		return decimal.Zero
	}
	return sum
}
