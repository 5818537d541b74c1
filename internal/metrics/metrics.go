package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sunsetglow_weather_api_calls_total",
			Help: "Total OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)

	PredictionsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sunsetglow_predictions_stored_total",
			Help: "Total prediction records appended to the log",
		},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sunsetglow_deliveries_total",
			Help: "Total outbound notification attempts",
		},
		[]string{"status"},
	)

	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sunsetglow_feedback_total",
			Help: "Inbound feedback messages by outcome",
		},
		[]string{"result"},
	)
)

// WeatherAPICall records one weather API call outcome.
func WeatherAPICall(endpoint string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
}

// Delivery records one outbound send outcome.
func Delivery(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DeliveriesTotal.WithLabelValues(status).Inc()
}
