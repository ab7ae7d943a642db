package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/pharmflow/pharmflow/internal/models"
	"github.com/pharmflow/pharmflow/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. Quick replies are flattened into the body since plain WhatsApp text
// has no button payloads; contacts answer with the token or its list number.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // nil when constructed from a mock
	responses chan models.InboundEvent
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start registers the inbound event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
	}()
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.responses)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a message, flattening quick replies into the body.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string, quickReplies []string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, flattenQuickReplies(body, quickReplies))
}

// Responses returns the channel of inbound contact events.
func (s *WhatsAppService) Responses() <-chan models.InboundEvent {
	return s.responses
}

// handleIncomingMessage converts a whatsmeow message event into an inbound
// event. Image messages become attachment references; other non-text payloads
// are dropped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	ev := models.InboundEvent{Time: evt.Info.Timestamp}

	switch {
	case evt.Message.Conversation != nil:
		ev.Text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		ev.Text = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.ImageMessage != nil:
		img := evt.Message.ImageMessage
		ev.Attachment = &models.Attachment{
			URL:         img.GetURL(),
			ContentType: img.GetMimetype(),
		}
		ev.Text = img.GetCaption()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	from := strings.TrimSuffix(evt.Info.Sender.User, "@"+whatsapp.JIDSuffix)
	canonical, err := canonicalizePhone(from)
	if err != nil {
		slog.Warn("WhatsAppService dropping event with invalid sender", "from", from, "error", err)
		return
	}
	ev.From = canonical
	s.forward(ev)
}

// forward hands an inbound event to the consumer. The read lock is held across
// the send so Stop cannot close the channel under a sender; an event arriving
// during shutdown is dropped instead.
func (s *WhatsAppService) forward(ev models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Debug("WhatsAppService dropping event after stop", "from", ev.From)
		return
	}
	select {
	case s.responses <- ev:
		slog.Debug("WhatsAppService inbound event forwarded", "from", ev.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping event", "from", ev.From)
	}
}
