// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package geo provides pure geographic velocity math and IP geolocation
// resolution for the impossible-travel detector.
package geo

import (
	"math"
	"time"
)

// CoordinateEpsilon is the threshold for considering coordinates as
// effectively zero. The sentinel value (0, 0) means geolocation data is
// unavailable; epsilon comparison avoids IEEE 754 equality pitfalls.
// 1e-7 degrees is about 1.1cm at the equator, well below GPS accuracy.
const CoordinateEpsilon = 1e-7

// IsUnknownLocation returns true if the coordinates represent an unknown
// location (the 0,0 sentinel).
func IsUnknownLocation(lat, lon float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lon) < CoordinateEpsilon
}

// HasValidCoordinates is the inverse of IsUnknownLocation for readability.
func HasValidCoordinates(lat, lon float64) bool {
	return !IsUnknownLocation(lat, lon)
}

// Sample is one (location, timestamp) observation for an identity.
type Sample struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}

// Velocity is the result of evaluating two consecutive samples.
type Velocity struct {
	DistanceKm       float64
	HoursElapsed     float64
	RequiredSpeedKmh float64
}

// Evaluate computes the great-circle distance, elapsed time, and required
// travel speed between two samples for the same identity.
//
// It returns ok=false (not evaluable) when either sample has unknown
// coordinates or when the elapsed time is not positive (simultaneous logins,
// clock skew, out-of-order events). A non-positive duration never reaches
// the division.
func Evaluate(prev, curr Sample) (Velocity, bool) {
	if IsUnknownLocation(prev.Latitude, prev.Longitude) ||
		IsUnknownLocation(curr.Latitude, curr.Longitude) {
		return Velocity{}, false
	}

	hours := curr.At.Sub(prev.At).Hours()
	if hours <= 0 {
		return Velocity{}, false
	}

	distance := Distance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)

	return Velocity{
		DistanceKm:       distance,
		HoursElapsed:     hours,
		RequiredSpeedKmh: distance / hours,
	}, true
}

// Distance calculates the great-circle distance between two points on Earth
// using the Haversine formula. Returns distance in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// FormatLocation returns a human-readable location string.
func FormatLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case country != "":
		return country
	case city != "":
		return city
	default:
		return "Unknown"
	}
}

// RoundTo2 rounds a float64 to 2 decimal places, used when embedding
// computed values in alert payloads.
func RoundTo2(f float64) float64 {
	return math.Round(f*100) / 100
}
