// Package cycle drives one prediction cycle: fetch conditions, score,
// append the record, notify subscribers.
package cycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/sunsetglow/internal/metrics"
	"github.com/lox/sunsetglow/internal/models"
	"github.com/lox/sunsetglow/internal/score"
	"github.com/lox/sunsetglow/internal/store"
	"github.com/lox/sunsetglow/internal/sun"
)

// Fetcher returns current conditions for a coordinate.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error)
}

// Delivery sends a message to one chat.
type Delivery interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Runner struct {
	store    *store.Store
	fetcher  Fetcher
	delivery Delivery
	clock    clockwork.Clock
	weights  score.Weights
	lat      float64
	lon      float64
	location string
	loc      *time.Location
}

func NewRunner(st *store.Store, fetcher Fetcher, delivery Delivery, weights score.Weights, lat, lon float64, location string, loc *time.Location, clock clockwork.Clock) *Runner {
	return &Runner{
		store:    st,
		fetcher:  fetcher,
		delivery: delivery,
		clock:    clock,
		weights:  weights,
		lat:      lat,
		lon:      lon,
		location: location,
		loc:      loc,
	}
}

// RunOnce executes a full prediction cycle for today and returns the stored
// record. A weather fetch failure aborts the cycle before anything is written;
// per-user delivery failures are logged and do not fail the cycle.
func (r *Runner) RunOnce(ctx context.Context) (*models.PredictionRecord, error) {
	now := r.clock.Now().In(r.loc)

	sunset := sun.SunsetAt(r.lat, r.lon, now)
	if sunset.IsZero() {
		return nil, fmt.Errorf("no sunset at %.4f,%.4f on %s", r.lat, r.lon, now.Format("2006-01-02"))
	}

	obs, err := r.fetcher.Fetch(ctx, r.lat, r.lon)
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}

	quality := score.Score(obs, r.weights)

	rec := models.PredictionRecord{
		CycleDate:        now,
		SunsetTime:       sunset,
		PredictedQuality: quality,
		Weather:          obs,
		CreatedAt:        now,
	}
	id, err := r.store.AppendPrediction(rec)
	if err != nil {
		return nil, fmt.Errorf("append prediction: %w", err)
	}
	rec.ID = id
	metrics.PredictionsStored.Inc()
	log.Printf("cycle: prediction %d for %s: %.1f/10 (sunset %s)",
		id, now.Format("2006-01-02"), quality, sunset.Format("15:04"))

	r.broadcast(ctx, sunset, quality, obs)

	return &rec, nil
}

func (r *Runner) broadcast(ctx context.Context, sunset time.Time, quality float64, obs models.WeatherObservation) {
	users, err := r.store.ActiveUsers()
	if err != nil {
		log.Printf("cycle: list users: %v", err)
		return
	}
	if len(users) == 0 {
		log.Println("cycle: no registered users, skipping delivery")
		return
	}

	msg := FormatPrediction(r.location, sunset, quality, obs)
	sent := 0
	for _, u := range users {
		err := r.delivery.SendMessage(ctx, u.ChatID, msg)
		metrics.Delivery(err)
		if err != nil {
			log.Printf("cycle: send to %d: %v", u.ChatID, err)
			continue
		}
		sent++
	}
	log.Printf("cycle: delivered prediction to %d/%d users", sent, len(users))
}

// FormatPrediction renders the outbound notification in Telegram Markdown.
func FormatPrediction(location string, sunset time.Time, quality float64, obs models.WeatherObservation) string {
	return fmt.Sprintf(`🌅 *Sunset Prediction for %s*

*Sunset Time:* %s
*Predicted Quality:* %.1f/10

*Current Conditions:*
• Cloud Cover: %.0f%%
• Humidity: %.0f%%
• Visibility: %.1f km
• PM2.5: %.1f
• Weather: %s

After watching the sunset, reply with a number 1-10 to help calibrate the model!`,
		location,
		sunset.Format("3:04 PM"),
		quality,
		obs.CloudCoverPct,
		obs.HumidityPct,
		obs.VisibilityM/1000,
		obs.PM25,
		obs.Description,
	)
}
