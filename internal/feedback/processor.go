package feedback

import (
	"context"
	"fmt"
	"log"

	"github.com/jonboulle/clockwork"

	"github.com/lox/sunsetglow/internal/models"
	"github.com/lox/sunsetglow/internal/store"
	"github.com/lox/sunsetglow/internal/telegram"
)

// Inbound polls the feedback channel; satisfied by telegram.Client.
type Inbound interface {
	GetUpdates(ctx context.Context, offset int64) ([]telegram.Update, error)
}

// Processor drains the inbound channel: it registers newly seen users,
// reconciles ratings, and advances the persisted update offset so replayed
// polls cannot re-apply old messages.
type Processor struct {
	store      *store.Store
	inbound    Inbound
	reconciler *Reconciler
	delivery   Delivery
	location   string
	clock      clockwork.Clock
}

func NewProcessor(st *store.Store, inbound Inbound, delivery Delivery, location string, clock clockwork.Clock) *Processor {
	return &Processor{
		store:      st,
		inbound:    inbound,
		reconciler: NewReconciler(st, delivery, clock),
		delivery:   delivery,
		location:   location,
		clock:      clock,
	}
}

// ProcessOnce performs one poll of the inbound channel and returns the number
// of ratings applied. An empty channel is a normal outcome, not an error.
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	last, err := p.store.LastUpdateID()
	if err != nil {
		return 0, fmt.Errorf("load update offset: %w", err)
	}

	var offset int64
	if last > 0 {
		offset = last + 1
	}
	updates, err := p.inbound.GetUpdates(ctx, offset)
	if err != nil {
		return 0, fmt.Errorf("get updates: %w", err)
	}

	applied := 0
	maxID := last
	for _, update := range updates {
		if update.UpdateID > maxID {
			maxID = update.UpdateID
		}
		if update.Message == nil {
			continue
		}

		if err := p.registerSender(ctx, update.Message); err != nil {
			return applied, err
		}

		ok, err := p.reconciler.Apply(ctx, update.Message.Chat.ID, update.Message.Text)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}

	if maxID > last {
		if err := p.store.SetLastUpdateID(maxID); err != nil {
			return applied, fmt.Errorf("save update offset: %w", err)
		}
	}
	return applied, nil
}

func (p *Processor) registerSender(ctx context.Context, msg *telegram.Message) error {
	u := models.User{
		ChatID:       msg.Chat.ID,
		RegisteredAt: p.clock.Now().UTC(),
		Active:       true,
	}
	if msg.From != nil {
		u.Username = msg.From.Username
		u.FirstName = msg.From.FirstName
	}

	created, err := p.store.RegisterUser(u)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	log.Printf("feedback: registered new user %d (@%s)", u.ChatID, u.Username)
	if err := p.delivery.SendMessage(ctx, u.ChatID, welcomeMessage(u.FirstName, p.location)); err != nil {
		log.Printf("feedback: send welcome to %d: %v", u.ChatID, err)
	}
	return nil
}

func welcomeMessage(firstName, location string) string {
	name := firstName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`🌅 Welcome to Sunset Predictions, %s!

You're now registered to receive daily sunset quality predictions 30 minutes before sunset in %s.

After each sunset, reply with a number 1-10 to rate the actual quality and help improve the predictions!

Rating guide:
• 1-3: Disappointing
• 4-6: Average
• 7-8: Beautiful
• 9-10: Spectacular
`, name, location)
}
