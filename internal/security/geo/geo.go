// Package geo resolves IP addresses to coarse locations for risk
// scoring. Resolution is strictly best effort: detectors that need
// coordinates degrade gracefully when a lookup fails, so resolver errors
// never block a login.
package geo

import (
	"context"
	"math"
)

// Location is a coarse place, precise enough to compare two logins but
// deliberately not street-level.
type Location struct {
	// City-or-region label, e.g. "Berlin, DE". Empty when unknown.
	Label string

	// ISO 3166-1 alpha-2 country code. Empty when unknown.
	Country string

	Latitude  float64
	Longitude float64

	// HasCoordinates reports whether Latitude/Longitude are meaningful.
	HasCoordinates bool
}

// IsZero reports whether nothing could be resolved.
func (l Location) IsZero() bool {
	return l.Label == "" && l.Country == "" && !l.HasCoordinates
}

// Resolver turns an IP address into a Location. Implementations return
// the zero Location (not an error) for private, loopback and otherwise
// unresolvable addresses; errors are reserved for lookup failures.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two locations in
// kilometres using the haversine formula.
func DistanceKm(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
