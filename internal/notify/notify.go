// Package notify publishes staff-facing events over NATS.
//
// Order creations and consultation requests are broadcast as JSON messages so
// back-office tooling can react without polling the database. A no-op
// implementation serves deployments without a broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pharmflow/pharmflow/internal/models"
)

// NATS subjects for staff notifications.
const (
	SubjectOrderCreated          = "pharmflow.orders.created"
	SubjectConsultationRequested = "pharmflow.consultations.requested"
)

// consultationEvent is the wire shape of a consultation request.
type consultationEvent struct {
	ContactID     string    `json:"contact_id"`
	Phone         string    `json:"phone"`
	Name          string    `json:"name,omitempty"`
	Topic         string    `json:"topic"`
	PreferredTime string    `json:"preferred_time"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Opts holds configuration options for the NATS notifier.
type Opts struct {
	URL  string
	Name string
}

// Option defines a configuration option for the NATS notifier.
type Option func(*Opts)

// WithURL sets the NATS server URL.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithName sets the client connection name.
func WithName(name string) Option {
	return func(o *Opts) { o.Name = name }
}

// NATSNotifier publishes events to a NATS broker.
type NATSNotifier struct {
	conn *nats.Conn
	now  func() time.Time
}

// NewNATSNotifier connects to the broker and returns a notifier.
func NewNATSNotifier(opts ...Option) (*NATSNotifier, error) {
	cfg := Opts{URL: nats.DefaultURL, Name: "pharmflow"}
	for _, opt := range opts {
		opt(&cfg)
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	slog.Info("NATS notifier connected", "url", cfg.URL)
	return &NATSNotifier{conn: conn, now: time.Now}, nil
}

// OrderCreated publishes a new-order event.
func (n *NATSNotifier) OrderCreated(ctx context.Context, order models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	if err := n.conn.Publish(SubjectOrderCreated, payload); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	slog.Debug("Published order created event", "order_number", order.OrderNumber)
	return nil
}

// ConsultationRequested publishes a consultation request event.
func (n *NATSNotifier) ConsultationRequested(ctx context.Context, contact *models.Contact, topic, preferredTime string) error {
	payload, err := json.Marshal(consultationEvent{
		ContactID:     contact.ID,
		Phone:         contact.Phone,
		Name:          contact.Name,
		Topic:         topic,
		PreferredTime: preferredTime,
		RequestedAt:   n.now(),
	})
	if err != nil {
		return fmt.Errorf("encode consultation event: %w", err)
	}
	if err := n.conn.Publish(SubjectConsultationRequested, payload); err != nil {
		return fmt.Errorf("publish consultation event: %w", err)
	}
	slog.Debug("Published consultation requested event", "contact", contact.ID, "topic", topic)
	return nil
}

// Close drains and closes the broker connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// NoopNotifier satisfies the notifier interfaces without a broker.
type NoopNotifier struct{}

// NewNoopNotifier creates a notifier that logs and discards events.
func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) OrderCreated(ctx context.Context, order models.Order) error {
	slog.Debug("Order created (notifications disabled)", "order_number", order.OrderNumber)
	return nil
}

func (NoopNotifier) ConsultationRequested(ctx context.Context, contact *models.Contact, topic, preferredTime string) error {
	slog.Debug("Consultation requested (notifications disabled)", "contact", contact.ID, "topic", topic)
	return nil
}

func (NoopNotifier) Close() {}
