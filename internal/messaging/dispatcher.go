package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
	"github.com/pharmflow/pharmflow/internal/util"
)

// ContactStore is the repository surface the dispatcher needs.
type ContactStore interface {
	GetContact(phone string) (*models.Contact, error)
	SaveContact(c models.Contact) error
}

// Conductor is the conversation core surface the dispatcher drives: the
// session governor wrapping the flow engine, plus the per-contact
// serialization lock shared with the staleness sweep.
type Conductor interface {
	WithContact(phone string, fn func())
	Advance(ctx context.Context, contact *models.Contact, ev models.InboundEvent, now time.Time) ([]models.OutboundMessage, error)
}

// Dispatcher connects a messaging service to the conversation core. Each
// inbound event is processed on its own goroutine under the contact's
// serialization lock: load or create the contact, advance the conversation,
// persist, then deliver the replies. Delivery failures are logged and retried
// once on the fallback channel; they never roll back a committed transition.
type Dispatcher struct {
	service      Service
	fallback     Service // may be nil
	governor     Conductor
	store        ContactStore
	newContactID func() string
	now          func() time.Time
	wg           sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the primary service. fallback may
// be nil when no secondary channel is configured.
func NewDispatcher(service, fallback Service, governor Conductor, st ContactStore) *Dispatcher {
	return &Dispatcher{
		service:      service,
		fallback:     fallback,
		governor:     governor,
		store:        st,
		newContactID: util.GenerateContactID,
		now:          time.Now,
	}
}

// Start consumes the service's inbound events until the channel closes or the
// context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-d.service.Responses():
				if !ok {
					return
				}
				d.wg.Add(1)
				go func() {
					defer d.wg.Done()
					d.handle(ctx, ev)
				}()
			}
		}
	}()
	slog.Info("Dispatcher started")
}

// Submit processes a single externally delivered event (e.g. from the Twilio
// webhook) through the same path as channel traffic.
func (d *Dispatcher) Submit(ctx context.Context, ev models.InboundEvent) {
	canonical, err := d.service.ValidateAndCanonicalizeRecipient(ev.From)
	if err != nil {
		slog.Warn("Dispatcher dropping event with invalid sender", "from", ev.From, "error", err)
		return
	}
	ev.From = canonical
	d.handle(ctx, ev)
}

// Wait blocks until all in-flight event handlers finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, ev models.InboundEvent) {
	if ev.Time.IsZero() {
		ev.Time = d.now()
	}
	d.governor.WithContact(ev.From, func() {
		contact, err := d.store.GetContact(ev.From)
		if err != nil {
			slog.Error("Dispatcher failed to load contact", "phone", ev.From, "error", err)
			return
		}
		if contact == nil {
			now := d.now()
			contact = &models.Contact{
				ID:        d.newContactID(),
				Phone:     ev.From,
				CreatedAt: now,
				UpdatedAt: now,
			}
			slog.Info("Dispatcher created contact", "contact", contact.ID, "phone", ev.From)
		}

		msgs, err := d.governor.Advance(ctx, contact, ev, ev.Time)
		if err != nil {
			slog.Error("Dispatcher advance failed", "contact", contact.ID, "error", err)
			return
		}

		contact.UpdatedAt = d.now()
		if err := d.store.SaveContact(*contact); err != nil {
			// The transition is not committed; the contact's next message
			// replays from the stored state.
			slog.Error("Dispatcher failed to save contact", "contact", contact.ID, "error", err)
			return
		}

		for _, msg := range msgs {
			d.deliver(ctx, msg)
		}
	})
}

// deliver sends one message, retrying once on the fallback channel. Failures
// are logged and swallowed; the state transition is already committed.
func (d *Dispatcher) deliver(ctx context.Context, msg models.OutboundMessage) {
	err := d.service.SendMessage(ctx, msg.To, msg.Body, msg.QuickReplies)
	if err == nil {
		return
	}
	slog.Error("Dispatcher primary delivery failed", "to", msg.To, "error", err)
	if d.fallback == nil {
		return
	}
	if err := d.fallback.SendMessage(ctx, msg.To, msg.Body, msg.QuickReplies); err != nil {
		slog.Error("Dispatcher fallback delivery failed", "to", msg.To, "error", err)
	}
}
