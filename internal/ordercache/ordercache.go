// Package ordercache provides a TTL read-through cache over recent orders.
//
// Order-status lookups hit this cache instead of the database; finalizing a
// new order invalidates the contact's entry so the next lookup sees it.
package ordercache

import (
	"context"
	"sync"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

// DefaultTTL bounds how stale a cached order list may be.
const DefaultTTL = 5 * time.Minute

// Lister is the store surface the cache reads through to.
type Lister interface {
	ListOrders(contactID string, limit int) ([]models.Order, error)
}

type entry struct {
	orders    []models.Order
	limit     int
	expiresAt time.Time
}

// Cache is a mutex-guarded per-contact cache of recent orders.
type Cache struct {
	source Lister
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// New creates a cache reading through to the given source.
func New(source Lister, opts ...CacheOption) *Cache {
	c := &Cache{
		source:  source,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recent returns the contact's most recent orders, newest first. A fresh
// cached entry is served as long as it covers the requested limit; otherwise
// the source is consulted and the entry refreshed.
func (c *Cache) Recent(ctx context.Context, contactID string, limit int) ([]models.Order, error) {
	c.mu.Lock()
	e, ok := c.entries[contactID]
	if ok && e.limit >= limit && c.now().Before(e.expiresAt) {
		orders := e.orders
		c.mu.Unlock()
		if len(orders) > limit {
			orders = orders[:limit]
		}
		return orders, nil
	}
	c.mu.Unlock()

	orders, err := c.source.ListOrders(contactID, limit)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[contactID] = entry{orders: orders, limit: limit, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return orders, nil
}

// Invalidate drops the contact's cached entry. Called when a new order is
// finalized so the next status lookup reflects it.
func (c *Cache) Invalidate(contactID string) {
	c.mu.Lock()
	delete(c.entries, contactID)
	c.mu.Unlock()
}
