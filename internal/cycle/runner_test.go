package cycle

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/lox/sunsetglow/internal/feedback"
	"github.com/lox/sunsetglow/internal/models"
	"github.com/lox/sunsetglow/internal/score"
	"github.com/lox/sunsetglow/internal/store"
	"github.com/lox/sunsetglow/internal/sun"
	"github.com/lox/sunsetglow/internal/telegram"
)

const (
	testLat = 37.9358
	testLon = -122.3478
)

type fakeFetcher struct {
	obs   models.WeatherObservation
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ float64) (models.WeatherObservation, error) {
	f.calls++
	return f.obs, f.err
}

type fakeDelivery struct {
	sent map[int64][]string
	err  error
}

func (f *fakeDelivery) SendMessage(_ context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

type fakeInbound struct{}

func (fakeInbound) GetUpdates(_ context.Context, _ int64) ([]telegram.Update, error) {
	return nil, nil
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func registerUser(t *testing.T, st *store.Store, chatID int64) {
	t.Helper()
	if _, err := st.RegisterUser(models.User{ChatID: chatID, Username: "u", FirstName: "U", RegisteredAt: time.Now(), Active: true}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
}

func neutralObservation(at time.Time) models.WeatherObservation {
	return models.WeatherObservation{
		CloudCoverPct: 50,
		HumidityPct:   60,
		VisibilityM:   10000,
		PM25:          15,
		AQI:           3,
		Description:   "clear sky",
		CapturedAt:    at,
	}
}

func testRunner(st *store.Store, fetcher Fetcher, delivery Delivery, clock clockwork.Clock) *Runner {
	loc, _ := time.LoadLocation("America/Los_Angeles")
	return NewRunner(st, fetcher, delivery, score.DefaultWeights(), testLat, testLon, "Richmond, CA", loc, clock)
}

func TestRunOnceStoresAndBroadcasts(t *testing.T) {
	st := setupTestStore(t)
	registerUser(t, st, 100)
	registerUser(t, st, 200)

	now := time.Date(2026, 6, 20, 19, 45, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	fetcher := &fakeFetcher{obs: neutralObservation(now)}
	delivery := &fakeDelivery{}

	rec, err := testRunner(st, fetcher, delivery, clock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected assigned record ID")
	}
	if math.Abs(rec.PredictedQuality-7.3) > 1e-9 {
		t.Errorf("PredictedQuality = %v, want 7.3 for neutral conditions", rec.PredictedQuality)
	}

	stored, err := st.GetPrediction(rec.ID)
	if err != nil {
		t.Fatalf("GetPrediction: %v", err)
	}
	if stored.Resolved() {
		t.Error("new prediction should be unresolved")
	}

	if len(delivery.sent) != 2 {
		t.Fatalf("delivered to %d chats, want 2", len(delivery.sent))
	}
	msg := delivery.sent[100][0]
	for _, want := range []string{"Sunset Prediction for Richmond, CA", "7.3/10", "Cloud Cover: 50%", "clear sky", "reply with a number 1-10"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestRunOnceWeatherFailureWritesNothing(t *testing.T) {
	st := setupTestStore(t)
	registerUser(t, st, 100)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 20, 19, 45, 0, 0, time.UTC))
	fetcher := &fakeFetcher{err: errors.New("owm unreachable")}
	delivery := &fakeDelivery{}

	if _, err := testRunner(st, fetcher, delivery, clock).RunOnce(context.Background()); err == nil {
		t.Fatal("expected error from failed fetch")
	}

	n, err := st.CountUnresolved()
	if err != nil {
		t.Fatalf("CountUnresolved: %v", err)
	}
	if n != 0 {
		t.Errorf("stored %d records after failed fetch, want 0", n)
	}
	if len(delivery.sent) != 0 {
		t.Errorf("sent %d messages after failed fetch, want 0", len(delivery.sent))
	}
}

func TestRunOnceDeliveryFailureKeepsRecord(t *testing.T) {
	st := setupTestStore(t)
	registerUser(t, st, 100)

	now := time.Date(2026, 6, 20, 19, 45, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	fetcher := &fakeFetcher{obs: neutralObservation(now)}
	delivery := &fakeDelivery{err: errors.New("telegram down")}

	rec, err := testRunner(st, fetcher, delivery, clock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce should tolerate delivery failure: %v", err)
	}
	if _, err := st.GetPrediction(rec.ID); err != nil {
		t.Fatalf("record should exist despite failed delivery: %v", err)
	}
}

func TestSchedulerPredictsOncePerDay(t *testing.T) {
	st := setupTestStore(t)
	registerUser(t, st, 100)

	loc, _ := time.LoadLocation("America/Los_Angeles")
	day := time.Date(2026, 6, 20, 12, 0, 0, 0, loc)
	sunset := sun.SunsetAt(testLat, testLon, day)
	if sunset.IsZero() {
		t.Fatal("no sunset computed for test date")
	}

	clock := clockwork.NewFakeClockAt(sunset.Add(-10 * time.Minute))
	fetcher := &fakeFetcher{obs: neutralObservation(clock.Now())}
	delivery := &fakeDelivery{}
	runner := testRunner(st, fetcher, delivery, clock)
	processor := feedback.NewProcessor(st, fakeInbound{}, delivery, "Richmond, CA", clock)
	sched := NewScheduler(st, runner, processor, 30*time.Minute, loc, clock)

	sched.predictIfDue(context.Background())
	sched.predictIfDue(context.Background())

	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times inside window, want 1", fetcher.calls)
	}
	exists, err := st.HasPredictionForDate(clock.Now().In(loc))
	if err != nil {
		t.Fatalf("HasPredictionForDate: %v", err)
	}
	if !exists {
		t.Error("expected a prediction for today")
	}
}

func TestSchedulerSkipsOutsideWindow(t *testing.T) {
	st := setupTestStore(t)

	loc, _ := time.LoadLocation("America/Los_Angeles")
	noon := time.Date(2026, 6, 20, 12, 0, 0, 0, loc)

	clock := clockwork.NewFakeClockAt(noon)
	fetcher := &fakeFetcher{obs: neutralObservation(noon)}
	delivery := &fakeDelivery{}
	runner := testRunner(st, fetcher, delivery, clock)
	processor := feedback.NewProcessor(st, fakeInbound{}, delivery, "Richmond, CA", clock)
	sched := NewScheduler(st, runner, processor, 30*time.Minute, loc, clock)

	sched.predictIfDue(context.Background())

	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times outside window, want 0", fetcher.calls)
	}
}

func TestFormatPredictionVisibilityKm(t *testing.T) {
	obs := neutralObservation(time.Now())
	obs.VisibilityM = 2500

	msg := FormatPrediction("Richmond, CA", time.Date(2026, 6, 20, 20, 30, 0, 0, time.UTC), 5.5, obs)
	if !strings.Contains(msg, "Visibility: 2.5 km") {
		t.Errorf("message missing km conversion:\n%s", msg)
	}
}
