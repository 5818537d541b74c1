package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/sunsetglow/internal/calibrate"
	"github.com/lox/sunsetglow/internal/cycle"
	"github.com/lox/sunsetglow/internal/feedback"
	"github.com/lox/sunsetglow/internal/score"
	"github.com/lox/sunsetglow/internal/store"
	"github.com/lox/sunsetglow/internal/telegram"
	"github.com/lox/sunsetglow/internal/weather"
)

type Globals struct {
	DB       string  `help:"Path to SQLite database." default:"data/sunsetglow.db" env:"SUNSETGLOW_DB"`
	Weights  string  `help:"Path to model weights JSON file." default:"model_weights.json" env:"SUNSETGLOW_WEIGHTS"`
	Lat      float64 `help:"Observer latitude." default:"37.9358" env:"SUNSETGLOW_LAT"`
	Lon      float64 `help:"Observer longitude." default:"-122.3478" env:"SUNSETGLOW_LON"`
	Location string  `help:"Location name used in messages." default:"Richmond, CA" env:"SUNSETGLOW_LOCATION"`
	Timezone string  `help:"Local timezone for the daily cycle." default:"America/Los_Angeles" env:"SUNSETGLOW_TZ"`

	TelegramToken  string `help:"Telegram bot token." env:"TELEGRAM_BOT_TOKEN"`
	OpenWeatherKey string `help:"OpenWeatherMap API key." env:"OPENWEATHER_API_KEY"`
}

var cli struct {
	Globals

	Predict   PredictCmd   `cmd:"" help:"Run one prediction cycle now: fetch weather, score, store, notify."`
	Feedback  FeedbackCmd  `cmd:"" help:"Poll Telegram once and apply any pending ratings."`
	Calibrate CalibrateCmd `cmd:"" help:"Compare predictions against ratings and print a calibration report."`
	Serve     ServeCmd     `cmd:"" help:"Run the long-lived scheduler with a metrics endpoint."`
}

func (g *Globals) location() (*time.Location, error) {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", g.Timezone, err)
	}
	return loc, nil
}

func (g *Globals) openStore() (*store.Store, error) {
	return store.Open(g.DB)
}

func (g *Globals) loadWeights() (score.Weights, error) {
	return score.LoadWeights(g.Weights)
}

func (g *Globals) telegramClient() (*telegram.Client, error) {
	if g.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN required")
	}
	return telegram.NewClient(g.TelegramToken), nil
}

func (g *Globals) weatherClient() (*weather.Client, error) {
	if g.OpenWeatherKey == "" {
		return nil, errors.New("OPENWEATHER_API_KEY required")
	}
	return weather.NewClient(g.OpenWeatherKey), nil
}

func (g *Globals) runner(st *store.Store, clock clockwork.Clock) (*cycle.Runner, error) {
	loc, err := g.location()
	if err != nil {
		return nil, err
	}
	weights, err := g.loadWeights()
	if err != nil {
		return nil, err
	}
	wc, err := g.weatherClient()
	if err != nil {
		return nil, err
	}
	tc, err := g.telegramClient()
	if err != nil {
		return nil, err
	}
	return cycle.NewRunner(st, wc, tc, weights, g.Lat, g.Lon, g.Location, loc, clock), nil
}

type PredictCmd struct{}

func (c *PredictCmd) Run(g *Globals) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := g.runner(st, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec, err := runner.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("prediction %d: %.1f/10, sunset %s\n", rec.ID, rec.PredictedQuality, rec.SunsetTime.Format("15:04"))
	return nil
}

type FeedbackCmd struct{}

func (c *FeedbackCmd) Run(g *Globals) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tc, err := g.telegramClient()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	processor := feedback.NewProcessor(st, tc, tc, g.Location, clockwork.NewRealClock())
	applied, err := processor.ProcessOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d ratings\n", applied)
	return nil
}

type CalibrateCmd struct {
	Days int `help:"Only analyze records resolved in the last N days (0 = all)." default:"0"`
}

func (c *CalibrateCmd) Run(g *Globals) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	weights, err := g.loadWeights()
	if err != nil {
		return err
	}

	var cutoff time.Time
	if c.Days > 0 {
		cutoff = time.Now().AddDate(0, 0, -c.Days)
	}
	records, err := st.ResolvedSince(cutoff)
	if err != nil {
		return err
	}

	report := calibrate.Analyze(records, weights, calibrate.DefaultThresholds())
	if report == nil {
		fmt.Println("no resolved predictions yet; rate a few sunsets first")
		return nil
	}
	fmt.Print(report.String())
	return nil
}

type ServeCmd struct {
	Port     string        `help:"HTTP port for metrics and health." default:"8080" env:"SUNSETGLOW_PORT"`
	LeadTime time.Duration `help:"How long before sunset to issue the prediction." default:"30m" env:"SUNSETGLOW_LEAD_TIME"`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	loc, err := g.location()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	runner, err := g.runner(st, clock)
	if err != nil {
		return err
	}
	tc, err := g.telegramClient()
	if err != nil {
		return err
	}

	processor := feedback.NewProcessor(st, tc, tc, g.Location, clock)
	scheduler := cycle.NewScheduler(st, runner, processor, c.LeadTime, loc, clock)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go scheduler.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: ":" + c.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("serving metrics on :%s", c.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("sunsetglow"),
		kong.Description("Predicts sunset quality from current conditions and learns from your ratings."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		log.Fatalf("%s: %v", ctx.Command(), err)
	}
}
