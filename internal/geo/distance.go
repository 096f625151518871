// Package geo provides great-circle distance math, display formatting and
// distance-ordered sorting, plus best-effort user location acquisition.
package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// earthRadiusMiles is the mean Earth radius used by the haversine formula.
const earthRadiusMiles = 3958.8

// Distance returns the great-circle distance in miles between two
// coordinate pairs. Symmetric in its arguments and zero for coincident
// points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// FormatDistance renders a distance in miles for display: below one mile
// in whole feet, below ten miles with one decimal, otherwise whole miles.
func FormatDistance(miles float64) string {
	if miles < 1 {
		return fmt.Sprintf("%.0f ft", math.Round(miles*5280))
	}
	if miles < 10 {
		return fmt.Sprintf("%.1f mi", miles)
	}
	return fmt.Sprintf("%.0f mi", math.Round(miles))
}

// SortByDistance returns the events ordered by ascending distance from the
// user location. Events without resolvable coordinates come after all
// located events, keeping their original relative order. The input slice
// is not modified.
func SortByDistance(events []model.Event, user model.UserLocation) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)

	dist := func(ev model.Event) (float64, bool) {
		c := ev.Location.Coordinates
		if c == nil {
			return 0, false
		}
		return Distance(user.Coordinates.Lat, user.Coordinates.Lng, c.Lat, c.Lng), true
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, iOK := dist(out[i])
		dj, jOK := dist(out[j])
		switch {
		case iOK && jOK:
			return di < dj
		case iOK:
			return true
		default:
			return false
		}
	})
	return out
}
