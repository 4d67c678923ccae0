package models

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func settingsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(vendorSettingsStructLevel, VendorSettings{})
	})
	return validate
}

// a vendor must accept at least one way of paying
func vendorSettingsStructLevel(sl validator.StructLevel) {
	v := sl.Current().Interface().(VendorSettings)
	online := v.OnlineEnabled && (v.RazorpayConfigured() || v.PhonePeConfigured())
	if !v.CODEnabled && !online {
		sl.ReportError(v.CODEnabled, "CODEnabled", "cod_enabled", "payment_method_required", "")
	}
	if v.FreeDeliveryAbove.IsNegative() {
		sl.ReportError(v.FreeDeliveryAbove, "FreeDeliveryAbove", "free_delivery_above", "gte", "0")
	}
	if v.InZoneShippingCost.IsNegative() || v.OutZoneShippingCost.IsNegative() {
		sl.ReportError(v.InZoneShippingCost, "InZoneShippingCost", "in_zone_shipping_cost", "gte", "0")
	}
}

// Validate checks the vendor settings invariants.
func (v *VendorSettings) Validate() error {
	return settingsValidator().Struct(v)
}
