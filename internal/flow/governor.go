package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

// Default session policy values.
const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultStalenessBound = time.Hour
)

// User-visible copy for governor-level outcomes.
const msgSessionExpired = "Your previous session expired, so we've taken you back to the main menu."

// Advancer is the engine surface the governor wraps.
type Advancer interface {
	Advance(ctx context.Context, contact *models.Contact, ev models.InboundEvent, now time.Time) ([]models.OutboundMessage, error)
}

// GovernorStore is the repository surface the sweep needs.
type GovernorStore interface {
	GetContact(phone string) (*models.Contact, error)
	SaveContact(models.Contact) error
	ListContacts() ([]models.Contact, error)
}

// GovernorOpts configures session policy.
type GovernorOpts struct {
	SessionTimeout time.Duration
	StalenessBound time.Duration
}

// GovernorOption configures a Governor.
type GovernorOption func(*GovernorOpts)

// WithSessionTimeout overrides the live-traffic session timeout.
func WithSessionTimeout(d time.Duration) GovernorOption {
	return func(o *GovernorOpts) { o.SessionTimeout = d }
}

// WithStalenessBound overrides the sweep staleness bound.
func WithStalenessBound(d time.Duration) GovernorOption {
	return func(o *GovernorOpts) { o.StalenessBound = d }
}

// Governor wraps the engine with timeout policy and owns the per-contact
// serialization used by both live traffic and the periodic sweep. At most one
// state transition is in flight per contact at any time.
type Governor struct {
	engine  Advancer
	catalog *Catalog
	store   GovernorStore
	opts    GovernorOpts

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGovernor creates a Governor over a validated catalog.
func NewGovernor(engine Advancer, catalog *Catalog, st GovernorStore, options ...GovernorOption) *Governor {
	opts := GovernorOpts{
		SessionTimeout: DefaultSessionTimeout,
		StalenessBound: DefaultStalenessBound,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Governor{
		engine:  engine,
		catalog: catalog,
		store:   st,
		opts:    opts,
		locks:   make(map[string]*sync.Mutex),
	}
}

// WithContact runs fn while holding the contact's serialization lock. Distinct
// contacts proceed fully in parallel. Lock entries are never reclaimed; they
// are bounded by the contact population.
func (g *Governor) WithContact(phone string, fn func()) {
	g.mu.Lock()
	lock, ok := g.locks[phone]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[phone] = lock
	}
	g.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn()
}

// Advance applies session policy before delegating to the engine. A stale
// session is reset to root and the input's business meaning is ignored; a
// depth-guard trip (a catalog defect, never reachable by user input alone)
// degrades to a generic error plus the root menu.
func (g *Governor) Advance(ctx context.Context, contact *models.Contact, ev models.InboundEvent, now time.Time) ([]models.OutboundMessage, error) {
	st := &contact.Conversation
	if !st.AtRoot() && now.Sub(st.LastUpdated) > g.opts.SessionTimeout {
		slog.Info("Governor expiring stale session", "contact", contact.ID, "flow", st.Flow, "idle", now.Sub(st.LastUpdated))
		st.Reset(now)
		contact.LastInteraction = now
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgSessionExpired},
			g.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}

	msgs, err := g.engine.Advance(ctx, contact, ev, now)
	if errors.Is(err, ErrDepthExceeded) {
		slog.Error("Governor depth guard tripped, aborting to root", "contact", contact.ID, "flow", st.Flow)
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			g.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}
	return msgs, err
}

// Sweep force-resets every contact whose conversation has been idle past the
// staleness bound. It is silent: no message is emitted. Each reset takes the
// same per-contact lock as live traffic and re-reads the contact under it so
// an in-flight transition is never clobbered. Returns the number of contacts
// reset.
func (g *Governor) Sweep(ctx context.Context, now time.Time) (int, error) {
	contacts, err := g.store.ListContacts()
	if err != nil {
		return 0, err
	}
	reset := 0
	for i := range contacts {
		phone := contacts[i].Phone
		if contacts[i].Conversation.AtRoot() {
			continue
		}
		if now.Sub(contacts[i].Conversation.LastUpdated) <= g.opts.StalenessBound {
			continue
		}
		g.WithContact(phone, func() {
			fresh, err := g.store.GetContact(phone)
			if err != nil || fresh == nil {
				return
			}
			if fresh.Conversation.AtRoot() || now.Sub(fresh.Conversation.LastUpdated) <= g.opts.StalenessBound {
				return
			}
			fresh.Conversation.Reset(now)
			if err := g.store.SaveContact(*fresh); err != nil {
				slog.Error("Governor sweep failed to save contact", "contact", fresh.ID, "error", err)
				return
			}
			reset++
			slog.Debug("Governor sweep reset contact", "contact", fresh.ID)
		})
	}
	if reset > 0 {
		slog.Info("Governor sweep completed", "reset", reset, "scanned", len(contacts))
	}
	return reset, nil
}
