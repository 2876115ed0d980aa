// Package geo provides great-circle range and bearing calculations on the
// WGS84 sphere, used to relate aircraft positions to the poll center.
package geo

import "math"

const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's mean radius in kilometers (WGS84)
	EarthRadiusKm = 6371.0

	// KmPerNauticalMile converts nautical miles to kilometers
	KmPerNauticalMile = 1.852
)

// DistanceNM returns the great-circle distance between two points in
// nautical miles, using the haversine formula.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	deltaLat := (lat2 - lat1) * DegreesToRadians
	deltaLon := (lon2 - lon1) * DegreesToRadians

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c / KmPerNauticalMile
}

// BearingDeg returns the initial bearing from point 1 to point 2 in degrees
// from true north, normalized to [0, 360).
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	deltaLon := (lon2 - lon1) * DegreesToRadians

	y := math.Sin(deltaLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	return NormalizeBearing(math.Atan2(y, x) * RadiansToDegrees)
}

// NormalizeBearing wraps a bearing in degrees into [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
