// Package store provides storage backends for PharmFlow.
//
// It persists contacts (with their embedded conversation state) and orders,
// with SQLite and PostgreSQL implementations plus an in-memory store used in
// tests and development.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/pharmflow/pharmflow/internal/models"
)

// ErrDuplicateOrderNumber reports an order-number collision on creation. The
// finalizer regenerates the number and retries once; it is never surfaced to
// the contact.
var ErrDuplicateOrderNumber = errors.New("duplicate order number")

// Store is the repository contract of the conversation core. Contact reads
// and writes operate on whole documents; per-contact serialization above this
// layer keeps read-modify-write cycles safe.
type Store interface {
	// GetContact returns the contact keyed by phone, or nil if unseen.
	GetContact(phone string) (*models.Contact, error)
	// SaveContact inserts or replaces the contact record.
	SaveContact(c models.Contact) error
	// ListContacts returns every contact (used by the staleness sweep).
	ListContacts() ([]models.Contact, error)
	// CreateOrder persists a new order. Returns ErrDuplicateOrderNumber on
	// an order-number collision.
	CreateOrder(o models.Order) error
	// ListOrders returns a contact's orders, newest first, capped at limit.
	ListOrders(contactID string, limit int) ([]models.Order, error)
	// Close releases the backend.
	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN configures an SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded Store for tests and development.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]models.Contact // keyed by phone
	orders   []models.Order
	numbers  map[string]struct{}
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contacts: make(map[string]models.Contact),
		numbers:  make(map[string]struct{}),
	}
}

// cloneContact detaches the scratch map so a stored record and the copies
// handed out never share mutable state. The SQL backends get this isolation
// for free from serialization.
func cloneContact(c models.Contact) models.Contact {
	if c.Conversation.Scratch != nil {
		scratch := make(map[models.FieldID]models.FieldValue, len(c.Conversation.Scratch))
		for k, v := range c.Conversation.Scratch {
			scratch[k] = v
		}
		c.Conversation.Scratch = scratch
	}
	return c
}

// GetContact returns a copy of the stored contact, or nil if unseen.
func (s *InMemoryStore) GetContact(phone string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[phone]
	if !ok {
		return nil, nil
	}
	c = cloneContact(c)
	return &c, nil
}

// SaveContact inserts or replaces the contact record.
func (s *InMemoryStore) SaveContact(c models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.Phone] = cloneContact(c)
	return nil
}

// ListContacts returns every contact.
func (s *InMemoryStore) ListContacts() ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, cloneContact(c))
	}
	return out, nil
}

// CreateOrder persists a new order, enforcing order-number uniqueness.
func (s *InMemoryStore) CreateOrder(o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.numbers[o.OrderNumber]; exists {
		return ErrDuplicateOrderNumber
	}
	s.numbers[o.OrderNumber] = struct{}{}
	s.orders = append(s.orders, o)
	return nil
}

// ListOrders returns a contact's orders, newest first.
func (s *InMemoryStore) ListOrders(contactID string, limit int) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.ContactID == contactID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
