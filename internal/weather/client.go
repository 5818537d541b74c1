// Package weather wraps the OpenWeatherMap current-conditions and air-quality
// APIs and normalizes their responses into a WeatherObservation. Missing
// optional fields fall back to documented neutral defaults so a partial API
// failure never aborts a prediction cycle.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/lox/sunsetglow/internal/httputil"
	"github.com/lox/sunsetglow/internal/metrics"
	"github.com/lox/sunsetglow/internal/models"
)

// Neutral defaults substituted for missing fields. The cloud-cover default is
// also the model's neutral-day input.
const (
	DefaultCloudCoverPct = 50.0
	DefaultHumidityPct   = 60.0
	DefaultVisibilityM   = 10000.0
	DefaultPM25          = 15.0
	DefaultAQI           = 3
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	clock   clockwork.Clock
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  httputil.NewClient(),
		clock:   clockwork.NewRealClock(),
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetClock overrides the time source used for CapturedAt, for tests.
func (c *Client) SetClock(clock clockwork.Clock) { c.clock = clock }

type currentResponse struct {
	Clouds *struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Main *struct {
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Visibility *float64 `json:"visibility"`
	Weather    []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

type airQualityResponse struct {
	List []struct {
		Main struct {
			AQI int64 `json:"aqi"`
		} `json:"main"`
		Components struct {
			PM25 *float64 `json:"pm2_5"`
		} `json:"components"`
	} `json:"list"`
}

// Fetch returns a fully defaulted observation for the given coordinates. A
// failure of the current-weather call is an error (the cycle aborts cleanly);
// a failure of the air-quality call falls back to neutral particulate values,
// matching its best-effort role in the model.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	obs := models.WeatherObservation{
		CloudCoverPct: DefaultCloudCoverPct,
		HumidityPct:   DefaultHumidityPct,
		VisibilityM:   DefaultVisibilityM,
		PM25:          DefaultPM25,
		AQI:           DefaultAQI,
		CapturedAt:    c.clock.Now().UTC(),
	}

	body, err := c.get(ctx, "/weather", lat, lon, url.Values{"units": {"metric"}})
	metrics.WeatherAPICall("weather", err)
	if err != nil {
		return models.WeatherObservation{}, fmt.Errorf("fetch current weather: %w", err)
	}

	var current currentResponse
	if err := json.Unmarshal(body, &current); err != nil {
		return models.WeatherObservation{}, fmt.Errorf("unmarshal current weather: %w", err)
	}

	if current.Clouds != nil && current.Clouds.All != nil {
		obs.CloudCoverPct = clampPct(*current.Clouds.All)
	}
	if current.Main != nil && current.Main.Humidity != nil {
		obs.HumidityPct = clampPct(*current.Main.Humidity)
	}
	if current.Visibility != nil && *current.Visibility >= 0 {
		obs.VisibilityM = *current.Visibility
	}
	if len(current.Weather) > 0 {
		obs.Description = current.Weather[0].Description
	}

	body, err = c.get(ctx, "/air_pollution", lat, lon, nil)
	metrics.WeatherAPICall("air_pollution", err)
	if err != nil {
		// Best effort: keep the neutral particulate defaults.
		return obs, nil
	}

	var air airQualityResponse
	if err := json.Unmarshal(body, &air); err != nil {
		return obs, nil
	}
	if len(air.List) > 0 {
		if air.List[0].Main.AQI > 0 {
			obs.AQI = air.List[0].Main.AQI
		}
		if air.List[0].Components.PM25 != nil && *air.List[0].Components.PM25 >= 0 {
			obs.PM25 = *air.List[0].Components.PM25
		}
	}

	return obs, nil
}

func (c *Client) get(ctx context.Context, path string, lat, lon float64, extra url.Values) ([]byte, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.4f", lat))
	params.Set("lon", fmt.Sprintf("%.4f", lon))
	params.Set("appid", c.apiKey)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", path, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 1 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
