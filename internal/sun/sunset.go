// Package sun computes sunset times for the configured location.
package sun

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// SunsetAt returns the sunset time for the local calendar date of t at the
// given coordinates, expressed in t's location. At extreme latitudes with no
// sunset the zero time is returned.
func SunsetAt(lat, lon float64, t time.Time) time.Time {
	_, set := sunrise.SunriseSunset(lat, lon, t.Year(), t.Month(), t.Day())
	if set.IsZero() {
		return time.Time{}
	}
	return set.In(t.Location())
}
