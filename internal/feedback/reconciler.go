// Package feedback matches inbound human ratings to outstanding prediction
// records. Anything that is not an integer 1-10 is treated as unrelated
// chatter and silently ignored.
package feedback

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lox/sunsetglow/internal/metrics"
	"github.com/lox/sunsetglow/internal/store"
)

// Delivery sends outbound messages; satisfied by telegram.Client.
type Delivery interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// ParseRating extracts a sunset rating from free-form message text. It
// accepts only a bare integer in [1,10]; "7.5", "0", "11" and prose are all
// rejected.
func ParseRating(text string) (int, bool) {
	rating, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, false
	}
	if rating < 1 || rating > 10 {
		return 0, false
	}
	return rating, true
}

type Reconciler struct {
	store    *store.Store
	delivery Delivery
	clock    clockwork.Clock
}

func NewReconciler(st *store.Store, delivery Delivery, clock clockwork.Clock) *Reconciler {
	return &Reconciler{store: st, delivery: delivery, clock: clock}
}

// Apply validates one inbound message and, when it carries a rating, attaches
// it to the oldest unresolved prediction. Non-ratings, ratings with no
// outstanding record, and ratings for an already-resolved record are all
// ignored without error; only persistence faults are returned. On success a
// confirmation is sent to the rating user (delivery failure is logged, never
// rolled back).
func (r *Reconciler) Apply(ctx context.Context, chatID int64, text string) (bool, error) {
	rating, ok := ParseRating(text)
	if !ok {
		metrics.FeedbackTotal.WithLabelValues("ignored").Inc()
		return false, nil
	}

	rec, err := r.store.OldestUnresolved()
	if err != nil {
		return false, err
	}
	if rec == nil {
		// Stray number on a day with no outstanding prediction.
		metrics.FeedbackTotal.WithLabelValues("no_record").Inc()
		return false, nil
	}

	resolved, err := r.store.ResolvePrediction(rec.ID, rating, r.clock.Now().UTC())
	if err != nil {
		return false, err
	}
	if !resolved {
		// Lost a race with an overlapping invocation; the record already
		// has feedback and must not change again.
		metrics.FeedbackTotal.WithLabelValues("already_resolved").Inc()
		return false, nil
	}

	metrics.FeedbackTotal.WithLabelValues("applied").Inc()
	log.Printf("feedback: recorded rating %d for prediction %d", rating, rec.ID)

	confirmation := "Thanks! Recorded your rating of " + strconv.Itoa(rating) + "/10 🌅"
	if err := r.delivery.SendMessage(ctx, chatID, confirmation); err != nil {
		log.Printf("feedback: send confirmation to %d: %v", chatID, err)
	}
	return true, nil
}
