package geo

import "math"

// earthRadiusMeters is the mean Earth radius used for great-circle distance
const earthRadiusMeters = 6371000.0

// HaversineMeters calculates the great-circle distance between two GPS
// coordinates in meters
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// IsInside reports whether a distance falls within the geofence radius
func IsInside(distance, radius float64) bool {
	return distance <= radius
}

// HysteresisMargin is the extra distance beyond the radius a vehicle must
// travel before it counts as outside. Points between radius and
// radius+margin are neither inside nor outside, which keeps a vehicle
// parked near the fence edge from flapping between states.
func HysteresisMargin(radius float64) float64 {
	return math.Max(100, radius*0.33)
}

// IsOutsideWithHysteresis reports whether a distance is confirmed outside
// the geofence, i.e. beyond the radius plus the hysteresis margin
func IsOutsideWithHysteresis(distance, radius float64) bool {
	return distance > radius+HysteresisMargin(radius)
}
