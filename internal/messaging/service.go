// Package messaging provides the transport abstraction between WhatsApp-style
// channels and the conversation core, plus the dispatcher that drives the
// flow engine from inbound events.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

// Constants for messaging service configuration.
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound
	// event channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking
	// channel operations.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped indicates a send was attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It sends
// rendered prompts and exposes a channel of inbound contact events. Delivery
// and read receipts are not surfaced; the conversation core keys everything
// off inbound messages.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Returns the canonicalized recipient and an error
	// if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient. Quick replies may be
	// rendered as interactive buttons or flattened into the body, at the
	// transport's discretion.
	SendMessage(ctx context.Context, to string, body string, quickReplies []string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of inbound contact events.
	Responses() <-chan models.InboundEvent
}

// canonicalizePhone reduces a recipient to its digits and validates length.
// Shared by every transport so a contact keeps one identity across channels.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("Messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// flattenQuickReplies renders quick-reply options into the message body for
// transports without interactive buttons.
func flattenQuickReplies(body string, quickReplies []string) string {
	if len(quickReplies) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	for i, qr := range quickReplies {
		fmt.Fprintf(&b, "\n%d. %s", i+1, qr)
	}
	return b.String()
}
