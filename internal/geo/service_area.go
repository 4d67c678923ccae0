package geo

// ServiceArea is a vendor's optional delivery geofence.
type ServiceArea struct {
	Enabled  bool
	Center   Point
	RadiusKm float64
}

// AreaResult classifies a service-area check.
type AreaResult string

const (
	AreaNotRestricted AreaResult = "not_restricted"
	AreaInRange       AreaResult = "in_range"
	AreaOutOfRange    AreaResult = "out_of_range"
)

// AreaCheck is the outcome of CheckServiceArea.
type AreaCheck struct {
	Result     AreaResult `json:"result"`
	DistanceKm float64    `json:"distance_km,omitempty"`
	RadiusKm   float64    `json:"radius_km,omitempty"`
}

// Violated reports whether the customer is outside the geofence.
func (c AreaCheck) Violated() bool {
	return c.Result == AreaOutOfRange
}

// CheckServiceArea compares the customer coordinate against the vendor's
// geofence. Missing data never blocks: a disabled area, a non-positive
// radius or an unknown customer position all yield AreaNotRestricted.
func CheckServiceArea(area ServiceArea, customer *Point) AreaCheck {
	if !area.Enabled || area.RadiusKm <= 0 || customer == nil || !customer.Valid() {
		return AreaCheck{Result: AreaNotRestricted}
	}

	distance := DistanceKm(area.Center, *customer)
	if distance > area.RadiusKm {
		return AreaCheck{Result: AreaOutOfRange, DistanceKm: distance, RadiusKm: area.RadiusKm}
	}
	return AreaCheck{Result: AreaInRange, DistanceKm: distance, RadiusKm: area.RadiusKm}
}
