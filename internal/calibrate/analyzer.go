// Package calibrate compares predicted against human-reported sunset quality
// and proposes weight corrections. It is strictly read-only: sample sizes are
// tens of records at best, so a human reviews every suggestion before editing
// the weights file.
package calibrate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lox/sunsetglow/internal/models"
	"github.com/lox/sunsetglow/internal/score"
)

// Thresholds gate the statistically fragile sub-reports. The segment cutoffs
// are heuristic starting points, not derived constants.
type Thresholds struct {
	MinCorrelation int     // resolved records needed for correlation analysis
	MinSuggestion  int     // resolved records needed for weight suggestions
	BiasThreshold  float64 // absolute mean error that flags global bias
	HighCloudPct   float64 // cloud cover above this defines the high-cloud segment
	LowHumidityPct float64 // humidity below this defines the low-humidity segment
	SegmentMin     int     // samples needed inside a segment
	SegmentBias    float64 // absolute mean segment error that flags a localized bias
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCorrelation: 3,
		MinSuggestion:  5,
		BiasThreshold:  1.0,
		HighCloudPct:   70,
		LowHumidityPct: 40,
		SegmentMin:     2,
		SegmentBias:    1.5,
	}
}

type FeatureCorrelation struct {
	Feature string
	R       float64
}

type SegmentStats struct {
	Name      string
	Count     int
	MeanError float64
	Flagged   bool
}

// Report is the full calibration output. Sub-reports that lacked enough data
// are marked skipped rather than populated with meaningless numbers.
type Report struct {
	Count         int
	MAE           float64
	RMSE          float64
	MeanPredicted float64
	MeanActual    float64
	MeanBias      float64

	Correlations       []FeatureCorrelation
	CorrelationSkipped bool

	BestCloudValid bool
	BestCloudMin   float64
	BestCloudMax   float64
	BestCloudMean  float64

	Segments           []SegmentStats
	Suggestions        []string
	SuggestionsSkipped bool
}

// Analyze builds a calibration report from resolved prediction records against
// the currently active weights. Returns nil when no resolved records exist;
// that is the caller's "insufficient data" outcome, not an error.
func Analyze(records []models.PredictionRecord, weights score.Weights, th Thresholds) *Report {
	var resolved []models.PredictionRecord
	for _, rec := range records {
		if rec.Resolved() {
			resolved = append(resolved, rec)
		}
	}
	if len(resolved) == 0 {
		return nil
	}

	r := &Report{Count: len(resolved)}

	var sumAbs, sumSq, sumPred, sumActual, sumErr float64
	for _, rec := range resolved {
		err := rec.PredictedQuality - float64(rec.ActualQuality.Int64)
		sumAbs += math.Abs(err)
		sumSq += err * err
		sumErr += err
		sumPred += rec.PredictedQuality
		sumActual += float64(rec.ActualQuality.Int64)
	}
	n := float64(len(resolved))
	r.MAE = sumAbs / n
	r.RMSE = math.Sqrt(sumSq / n)
	r.MeanPredicted = sumPred / n
	r.MeanActual = sumActual / n
	r.MeanBias = sumErr / n

	r.analyzeCorrelations(resolved, th)
	r.analyzeSuggestions(resolved, weights, th)

	return r
}

func (r *Report) analyzeCorrelations(resolved []models.PredictionRecord, th Thresholds) {
	if len(resolved) < th.MinCorrelation {
		r.CorrelationSkipped = true
		return
	}

	actuals := make([]float64, len(resolved))
	for i, rec := range resolved {
		actuals[i] = float64(rec.ActualQuality.Int64)
	}

	features := []struct {
		name  string
		value func(models.WeatherObservation) float64
	}{
		{"cloud_cover", func(w models.WeatherObservation) float64 { return w.CloudCoverPct }},
		{"humidity", func(w models.WeatherObservation) float64 { return w.HumidityPct }},
		{"visibility", func(w models.WeatherObservation) float64 { return w.VisibilityM }},
		{"pm25", func(w models.WeatherObservation) float64 { return w.PM25 }},
	}

	for _, f := range features {
		values := make([]float64, len(resolved))
		for i, rec := range resolved {
			values[i] = f.value(rec.Weather)
		}
		r.Correlations = append(r.Correlations, FeatureCorrelation{
			Feature: f.name,
			R:       pearson(values, actuals),
		})
	}

	// Cloud cover range of the best-rated third of all records: which
	// conditions the user actually favoured, regardless of the model.
	byActual := append([]models.PredictionRecord(nil), resolved...)
	sort.SliceStable(byActual, func(i, j int) bool {
		return byActual[i].ActualQuality.Int64 > byActual[j].ActualQuality.Int64
	})
	top := byActual[:len(byActual)/3]
	if len(top) > 0 {
		r.BestCloudValid = true
		r.BestCloudMin = top[0].Weather.CloudCoverPct
		r.BestCloudMax = top[0].Weather.CloudCoverPct
		var sum float64
		for _, rec := range top {
			c := rec.Weather.CloudCoverPct
			r.BestCloudMin = math.Min(r.BestCloudMin, c)
			r.BestCloudMax = math.Max(r.BestCloudMax, c)
			sum += c
		}
		r.BestCloudMean = sum / float64(len(top))
	}
}

func (r *Report) analyzeSuggestions(resolved []models.PredictionRecord, weights score.Weights, th Thresholds) {
	if len(resolved) < th.MinSuggestion {
		r.SuggestionsSkipped = true
		return
	}

	if math.Abs(r.MeanBias) > th.BiasThreshold {
		if r.MeanBias > 0 {
			r.Suggestions = append(r.Suggestions,
				fmt.Sprintf("model is over-predicting by %.1f points on average; consider reducing the base score or feature weights", r.MeanBias))
		} else {
			r.Suggestions = append(r.Suggestions,
				fmt.Sprintf("model is under-predicting by %.1f points on average; consider increasing the base score or feature weights", -r.MeanBias))
		}
	}

	highCloud := segmentStats("high cloud cover", resolved, func(rec models.PredictionRecord) bool {
		return rec.Weather.CloudCoverPct > th.HighCloudPct
	})
	if highCloud.Count >= th.SegmentMin {
		if highCloud.MeanError > th.SegmentBias {
			highCloud.Flagged = true
			r.Suggestions = append(r.Suggestions,
				fmt.Sprintf("over-predicting in high cloud conditions; consider raising the cloud penalty (cloud_cover_weight %.1f -> %.1f)",
					weights.CloudCover, weights.CloudCover*1.1))
		}
		r.Segments = append(r.Segments, highCloud)
	}

	lowHumidity := segmentStats("low humidity", resolved, func(rec models.PredictionRecord) bool {
		return rec.Weather.HumidityPct < th.LowHumidityPct
	})
	if lowHumidity.Count >= th.SegmentMin {
		if lowHumidity.MeanError < -th.SegmentBias {
			lowHumidity.Flagged = true
			r.Suggestions = append(r.Suggestions,
				fmt.Sprintf("under-predicting in low humidity conditions; consider raising the humidity weight (humidity_weight %.1f -> %.1f)",
					weights.Humidity, weights.Humidity*1.1))
		}
		r.Segments = append(r.Segments, lowHumidity)
	}
}

func segmentStats(name string, resolved []models.PredictionRecord, match func(models.PredictionRecord) bool) SegmentStats {
	s := SegmentStats{Name: name}
	var sum float64
	for _, rec := range resolved {
		if !match(rec) {
			continue
		}
		s.Count++
		sum += rec.PredictedQuality - float64(rec.ActualQuality.Int64)
	}
	if s.Count > 0 {
		s.MeanError = sum / float64(s.Count)
	}
	return s
}

// pearson computes the correlation coefficient between two equal-length
// series, returning 0 when either series has no variance.
func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}

	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / n
	meanY := sumY / n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// String renders a human-readable report.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Calibration Report\n")
	fmt.Fprintf(&b, "==================\n")
	fmt.Fprintf(&b, "Resolved records: %d\n", r.Count)
	fmt.Fprintf(&b, "Mean absolute error: %.2f\n", r.MAE)
	fmt.Fprintf(&b, "Root mean squared error: %.2f\n", r.RMSE)
	fmt.Fprintf(&b, "Average predicted quality: %.2f\n", r.MeanPredicted)
	fmt.Fprintf(&b, "Average actual quality: %.2f\n", r.MeanActual)
	fmt.Fprintf(&b, "Bias: %+.2f\n", r.MeanBias)

	fmt.Fprintf(&b, "\nFeature correlations with actual quality:\n")
	if r.CorrelationSkipped {
		fmt.Fprintf(&b, "  insufficient data (need at least 3 resolved records)\n")
	} else {
		for _, c := range r.Correlations {
			fmt.Fprintf(&b, "  %-12s %+.3f\n", c.Feature, c.R)
		}
		if r.BestCloudValid {
			fmt.Fprintf(&b, "  best sunsets had cloud cover %.0f-%.0f%% (average %.0f%%)\n",
				r.BestCloudMin, r.BestCloudMax, r.BestCloudMean)
		}
	}

	fmt.Fprintf(&b, "\nSuggestions:\n")
	switch {
	case r.SuggestionsSkipped:
		fmt.Fprintf(&b, "  insufficient data (need at least 5 resolved records)\n")
	case len(r.Suggestions) == 0:
		fmt.Fprintf(&b, "  none; model error is within thresholds\n")
	default:
		for _, s := range r.Suggestions {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}

	for _, seg := range r.Segments {
		fmt.Fprintf(&b, "\nSegment %q: %d records, mean error %+.2f\n", seg.Name, seg.Count, seg.MeanError)
	}

	fmt.Fprintf(&b, "\nNo changes are applied automatically; edit the weights file to accept a suggestion.\n")
	return b.String()
}
