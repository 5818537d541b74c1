package cycle

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/sunsetglow/internal/feedback"
	"github.com/lox/sunsetglow/internal/store"
	"github.com/lox/sunsetglow/internal/sun"
)

// Scheduler runs the long-lived serve loop: poll for feedback regularly and
// fire one prediction cycle per local day inside the pre-sunset window.
type Scheduler struct {
	store     *store.Store
	runner    *Runner
	processor *feedback.Processor
	clock     clockwork.Clock
	loc       *time.Location
	leadTime  time.Duration

	feedbackInterval time.Duration
	predictInterval  time.Duration
}

func NewScheduler(st *store.Store, runner *Runner, processor *feedback.Processor, leadTime time.Duration, loc *time.Location, clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		store:            st,
		runner:           runner,
		processor:        processor,
		clock:            clock,
		loc:              loc,
		leadTime:         leadTime,
		feedbackInterval: 5 * time.Minute,
		predictInterval:  time.Minute,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.pollFeedback(ctx)
	s.predictIfDue(ctx)

	feedbackTicker := s.clock.NewTicker(s.feedbackInterval)
	predictTicker := s.clock.NewTicker(s.predictInterval)
	defer feedbackTicker.Stop()
	defer predictTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-feedbackTicker.Chan():
			s.pollFeedback(ctx)
		case <-predictTicker.Chan():
			s.predictIfDue(ctx)
		}
	}
}

func (s *Scheduler) pollFeedback(ctx context.Context) {
	applied, err := s.processor.ProcessOnce(ctx)
	if err != nil {
		log.Printf("scheduler: poll feedback: %v", err)
		return
	}
	if applied > 0 {
		log.Printf("scheduler: applied %d feedback ratings", applied)
	}
}

// predictIfDue runs a cycle when local time is inside [sunset-leadTime, sunset)
// and no prediction exists yet for the local day. The ticker fires well inside
// the window, so a restart mid-window still issues the day's prediction.
func (s *Scheduler) predictIfDue(ctx context.Context) {
	now := s.clock.Now().In(s.loc)

	sunset := sun.SunsetAt(s.runner.lat, s.runner.lon, now)
	if sunset.IsZero() {
		return
	}
	if now.Before(sunset.Add(-s.leadTime)) || !now.Before(sunset) {
		return
	}

	exists, err := s.store.HasPredictionForDate(now)
	if err != nil {
		log.Printf("scheduler: check today's prediction: %v", err)
		return
	}
	if exists {
		return
	}

	if _, err := s.runner.RunOnce(ctx); err != nil {
		log.Printf("scheduler: prediction cycle: %v", err)
	}
}
