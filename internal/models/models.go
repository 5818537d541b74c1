package models

import (
	"database/sql"
	"time"
)

// WeatherObservation is a snapshot of conditions at prediction time. Optional
// fields are defaulted at the fetcher boundary, so downstream code always sees
// a fully populated value.
type WeatherObservation struct {
	CloudCoverPct float64
	HumidityPct   float64
	VisibilityM   float64
	PM25          float64
	AQI           int64
	Description   string
	CapturedAt    time.Time
}

// PredictionRecord is one row of the append-only prediction log. ActualQuality
// and FeedbackAt stay NULL until a human rating is attached; a record is
// mutated at most once and never deleted.
type PredictionRecord struct {
	ID               int64
	CycleDate        time.Time
	SunsetTime       time.Time
	PredictedQuality float64
	ActualQuality    sql.NullInt64
	Weather          WeatherObservation
	FeedbackAt       sql.NullTime
	CreatedAt        time.Time
}

// Resolved reports whether a human rating has been attached.
func (p PredictionRecord) Resolved() bool {
	return p.ActualQuality.Valid
}

type User struct {
	ChatID       int64
	Username     string
	FirstName    string
	RegisteredAt time.Time
	Active       bool
}
