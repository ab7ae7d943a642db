package models

import "time"

// Attachment references media delivered with an inbound message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// InboundEvent is one normalized message from the transport. Exactly one of
// Text, SelectedOption or Attachment carries the payload; SelectedOption is
// preferred when present.
type InboundEvent struct {
	From           string      `json:"from"`
	Text           string      `json:"text,omitempty"`
	SelectedOption string      `json:"selected_option,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Time           time.Time   `json:"time"`
}

// Payload returns the effective textual payload of the event.
func (e InboundEvent) Payload() string {
	if e.SelectedOption != "" {
		return e.SelectedOption
	}
	return e.Text
}

// OutboundMessage is the abstract shape handed to the messaging gateway. The
// core never constructs provider-specific envelopes.
type OutboundMessage struct {
	To           string   `json:"to"`
	Body         string   `json:"body"`
	QuickReplies []string `json:"quick_replies,omitempty"`
}
