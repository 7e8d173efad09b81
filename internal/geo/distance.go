// Package geo implements great-circle distance helpers.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

const degToRad = math.Pi / 180

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Distance returns the great-circle distance in kilometers between two
// points using the spherical law of cosines.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	// The cosine of identical points can round to just below 1, which acos
	// turns into a few centimeters.
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}
	lat1 *= degToRad
	lng1 *= degToRad
	lat2 *= degToRad
	lng2 *= degToRad

	cosine := math.Cos(lat1)*math.Cos(lat2)*math.Cos(lng2-lng1) + math.Sin(lat1)*math.Sin(lat2)
	// Rounding can push identical points just past 1.
	cosine = math.Max(-1, math.Min(1, cosine))
	return EarthRadiusKm * math.Acos(cosine)
}

// Between is Distance expressed over Points.
func Between(a, b Point) float64 {
	return Distance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Within reports whether p lies strictly inside radiusMeters of center.
func Within(center, p Point, radiusMeters float64) bool {
	return Between(center, p)*1000 < radiusMeters
}
