package geo

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceKm returns the great-circle distance between a and b using the
// haversine formula.
func DistanceKm(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

var (
	pairPattern    = `(-?\d{1,3}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)`
	atPattern      = regexp.MustCompile(`@` + pairPattern)
	dataPattern    = regexp.MustCompile(`!3d(-?\d{1,3}(?:\.\d+)?)!4d(-?\d{1,3}(?:\.\d+)?)`)
	barePattern    = regexp.MustCompile(`^\s*` + pairPattern + `\s*$`)
	anyPairPattern = regexp.MustCompile(pairPattern)
	linkQueryKeys  = []string{"q", "query", "ll", "destination", "center"}
)

// ParseMapLink extracts a coordinate from free-text map link input. It
// understands query parameters (q, query, ll, destination, center), the
// "@lat,lng" path segment, the "!3dlat!4dlng" data segment and bare
// "lat,lng" text. ok is false when nothing usable is found.
func ParseMapLink(raw string) (Point, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Point{}, false
	}

	if m := barePattern.FindStringSubmatch(raw); m != nil {
		return pointFrom(m[1], m[2])
	}

	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		query := u.Query()
		for _, key := range linkQueryKeys {
			if m := anyPairPattern.FindStringSubmatch(query.Get(key)); m != nil {
				if p, ok := pointFrom(m[1], m[2]); ok {
					return p, true
				}
			}
		}
	}

	// place links carry the pin in the data segment, the viewport after '@'
	if m := dataPattern.FindStringSubmatch(raw); m != nil {
		if p, ok := pointFrom(m[1], m[2]); ok {
			return p, true
		}
	}
	if m := atPattern.FindStringSubmatch(raw); m != nil {
		return pointFrom(m[1], m[2])
	}

	return Point{}, false
}

func pointFrom(latText, lngText string) (Point, bool) {
	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return Point{}, false
	}
	lng, err := strconv.ParseFloat(lngText, 64)
	if err != nil {
		return Point{}, false
	}
	p := Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Point{}, false
	}
	return p, true
}
