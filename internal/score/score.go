// Package score implements the sunset quality model: a deterministic mapping
// from a weather observation and a weight configuration to a 1-10 score.
package score

import (
	"math"

	"github.com/lox/sunsetglow/internal/models"
)

const (
	// Baseline is the neutral starting score before any weather term is applied.
	Baseline = 5.0

	// PM2.5 band that produces the most vivid sunsets. Below the band the air
	// is too clean to scatter light; above it the haze mutes colour.
	DustBandLow  = 10.0
	DustBandHigh = 35.0
)

// Score computes the predicted sunset quality for an observation. It is a pure
// function: no I/O, no clock, and it never fails for finite inputs. Percentage
// fields are clamped here; callers are not required to pre-normalize them.
func Score(obs models.WeatherObservation, w Weights) float64 {
	s := Baseline

	// Cloud cover: best at a tunable partial-cover fraction, worse toward
	// both clear sky and overcast. Zero-centered around half the weight.
	cloud := clamp(obs.CloudCoverPct, 0, 100)
	deviation := math.Abs(cloud - w.CloudCoverOptimal*100)
	s += (100-deviation)/100*w.CloudCover - w.CloudCover/2

	// Humidity: lower is better for colour saturation.
	humidity := clamp(obs.HumidityPct, 0, 100)
	s += (100-humidity)/100*w.Humidity - w.Humidity/2

	// Visibility: helps with diminishing returns, saturating at 10 km. The
	// term maxes out at the full weight, so centering subtracts the full
	// weight rather than half.
	visibilityKm := math.Max(obs.VisibilityM, 0) / 1000
	s += math.Min(visibilityKm/10, 1.0)*w.Visibility - w.Visibility

	// Particulates: non-monotonic sweet spot.
	pm25 := math.Max(obs.PM25, 0)
	switch {
	case pm25 >= DustBandLow && pm25 <= DustBandHigh:
		s += 0.5 * w.Dust
	case pm25 < DustBandLow:
		s -= 0.3 * w.Dust
	default:
		s -= 0.5 * w.Dust
	}

	return clamp(s, 1, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
