// Package geo provides the spherical-earth distance math used for session
// movement classification.
package geo

import "math"

// EarthRadiusKM is the mean Earth radius used by the spherical approximation.
const EarthRadiusKM = 6378.137

// Point is a client geolocation coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKM returns the great-circle distance between two points in
// kilometers, computed with the haversine formula on a spherical earth.
func DistanceKM(a, b Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(a.Lat))*
			math.Cos(degreesToRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKM * c
}

func degreesToRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
