package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pharmflow/pharmflow/internal/models"
	"github.com/pharmflow/pharmflow/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound traffic
// arrives through the Twilio webhook, which hands events straight to the
// dispatcher; the Responses channel only signals shutdown to its consumer.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	responses chan models.InboundEvent
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService wrapping the given Sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op; inbound events arrive via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio, flattening quick replies into the
// body.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string, quickReplies []string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, "+"+canonicalTo, flattenQuickReplies(body, quickReplies))
}

// Responses returns the channel of inbound contact events. It never carries
// traffic (the webhook is the inbound path); it closes on Stop so the
// dispatcher's consume loop exits.
func (s *TwilioService) Responses() <-chan models.InboundEvent {
	return s.responses
}
