package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func fixedClock(t *testing.T) clockwork.Clock {
	t.Helper()
	return clockwork.NewFakeClockAt(time.Date(2026, 8, 14, 2, 0, 0, 0, time.UTC))
}

func TestFetchNormalizesObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/weather":
			if got := r.URL.Query().Get("units"); got != "metric" {
				t.Errorf("units = %q, want metric", got)
			}
			w.Write([]byte(`{"clouds":{"all":45},"main":{"humidity":40},"visibility":15000,"weather":[{"description":"scattered clouds"}]}`))
		case "/air_pollution":
			w.Write([]byte(`{"list":[{"main":{"aqi":2},"components":{"pm2_5":20.5}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient("key")
	c.SetBaseURL(srv.URL)
	c.SetClock(fixedClock(t))

	obs, err := c.Fetch(context.Background(), 37.9358, -122.3478)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if obs.CloudCoverPct != 45 {
		t.Errorf("CloudCoverPct = %v, want 45", obs.CloudCoverPct)
	}
	if obs.HumidityPct != 40 {
		t.Errorf("HumidityPct = %v, want 40", obs.HumidityPct)
	}
	if obs.VisibilityM != 15000 {
		t.Errorf("VisibilityM = %v, want 15000", obs.VisibilityM)
	}
	if obs.PM25 != 20.5 {
		t.Errorf("PM25 = %v, want 20.5", obs.PM25)
	}
	if obs.AQI != 2 {
		t.Errorf("AQI = %v, want 2", obs.AQI)
	}
	if obs.Description != "scattered clouds" {
		t.Errorf("Description = %q", obs.Description)
	}
	if obs.CapturedAt != time.Date(2026, 8, 14, 2, 0, 0, 0, time.UTC) {
		t.Errorf("CapturedAt = %v", obs.CapturedAt)
	}
}

func TestFetchDefaultsMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/weather":
			// No visibility, no humidity, no air-quality coverage.
			w.Write([]byte(`{"clouds":{"all":80},"weather":[{"description":"overcast"}]}`))
		case "/air_pollution":
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient("key")
	c.SetBaseURL(srv.URL)
	c.SetClock(fixedClock(t))

	obs, err := c.Fetch(context.Background(), 37.9358, -122.3478)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if obs.HumidityPct != DefaultHumidityPct {
		t.Errorf("HumidityPct = %v, want default %v", obs.HumidityPct, DefaultHumidityPct)
	}
	if obs.VisibilityM != DefaultVisibilityM {
		t.Errorf("VisibilityM = %v, want default %v", obs.VisibilityM, DefaultVisibilityM)
	}
	if obs.PM25 != DefaultPM25 {
		t.Errorf("PM25 = %v, want default %v", obs.PM25, DefaultPM25)
	}
	if obs.AQI != DefaultAQI {
		t.Errorf("AQI = %v, want default %v", obs.AQI, DefaultAQI)
	}
}

func TestFetchClampsPercentages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/weather":
			w.Write([]byte(`{"clouds":{"all":130},"main":{"humidity":-5}}`))
		case "/air_pollution":
			w.Write([]byte(`{"list":[]}`))
		}
	}))
	defer srv.Close()

	c := NewClient("key")
	c.SetBaseURL(srv.URL)
	c.SetClock(fixedClock(t))

	obs, err := c.Fetch(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if obs.CloudCoverPct != 100 {
		t.Errorf("CloudCoverPct = %v, want clamp to 100", obs.CloudCoverPct)
	}
	if obs.HumidityPct != 0 {
		t.Errorf("HumidityPct = %v, want clamp to 0", obs.HumidityPct)
	}
}

func TestFetchCurrentWeatherFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("badkey")
	c.SetBaseURL(srv.URL)
	c.SetClock(fixedClock(t))

	if _, err := c.Fetch(context.Background(), 0, 0); err == nil {
		t.Error("Fetch expected error when current weather call fails")
	}
}
