package eta

import "math"

// AssumedSpeedKmh is the travel speed every estimate assumes.
const AssumedSpeedKmh = 40.0

// Minutes estimates travel time for distanceKm at AssumedSpeedKmh, rounded up
// to the next whole minute. Zero distance is zero minutes.
func Minutes(distanceKm float64) int {
	return MinutesAt(distanceKm, AssumedSpeedKmh)
}

// MinutesAt is Minutes with an explicit speed. Non-positive speeds fall back
// to AssumedSpeedKmh and negative distances count as zero.
func MinutesAt(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = AssumedSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}
