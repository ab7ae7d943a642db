package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pharmflow/pharmflow/internal/models"
)

// Auxiliary step identifiers.
const (
	StepConsultTopic models.StepID = "CONSULT_TOPIC"
	StepConsultTime  models.StepID = "CONSULT_TIME"
	StepEnquiryText  models.StepID = "ENQUIRY_TEXT"
)

// recentOrderLimit caps how many orders the status lookup reports.
const recentOrderLimit = 3

// OrderSource supplies a contact's recent orders, newest first. The order
// cache satisfies this; a bare repository does too.
type OrderSource interface {
	Recent(ctx context.Context, contactID string, limit int) ([]models.Order, error)
}

// ConsultationNotifier pages the pharmacy staff about a consultation request.
type ConsultationNotifier interface {
	ConsultationRequested(ctx context.Context, contact *models.Contact, topic, preferredTime string) error
}

// Answerer produces a reply to a free-form enquiry.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// NewOrderStatusFlow builds the lookup-and-reply flow reporting the contact's
// most recent orders. Its entry is terminal: it collects nothing.
func NewOrderStatusFlow(orders OrderSource) *Flow {
	return &Flow{
		ID:       models.FlowOrderStatus,
		Entry:    StepTerminal,
		Steps:    map[models.StepID]*Step{},
		Terminal: &orderStatusLookup{orders: orders},
	}
}

type orderStatusLookup struct {
	orders OrderSource
}

func (l *orderStatusLookup) Complete(ctx context.Context, contact *models.Contact, _ map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error) {
	recent, err := l.orders.Recent(ctx, contact.ID, recentOrderLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to look up orders for %s: %w", contact.ID, err)
	}
	if len(recent) == 0 {
		return []models.OutboundMessage{{To: contact.Phone, Body: "You have no orders with us yet."}}, nil
	}
	var b strings.Builder
	b.WriteString("Your recent orders:")
	for _, o := range recent {
		fmt.Fprintf(&b, "\n%s — %s (%s)", o.OrderNumber, o.Status, o.CreatedAt.Format("02/01/2006"))
	}
	return []models.OutboundMessage{{To: contact.Phone, Body: b.String()}}, nil
}

// NewConsultationFlow builds the consultation request flow: topic and
// preferred time, handed to the staff notifier at the end.
func NewConsultationFlow(notifier ConsultationNotifier) *Flow {
	return &Flow{
		ID:    models.FlowConsultation,
		Entry: StepConsultTopic,
		Steps: map[models.StepID]*Step{
			StepConsultTopic: {
				ID:     StepConsultTopic,
				Prompt: "What would you like to consult the pharmacist about?",
				Field:  FieldTopic,
				Type:   FieldText,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepConsultTime
				},
				Targets: []models.StepID{StepConsultTime},
			},
			StepConsultTime: {
				ID:        StepConsultTime,
				Prompt:    "When would suit you for a call? (e.g. \"weekday mornings\")",
				Field:     FieldPreferredTime,
				Type:      FieldText,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepTerminal
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepConsultTopic
				},
				Targets: []models.StepID{StepTerminal, StepConsultTopic},
			},
		},
		Terminal: &consultationRequest{notifier: notifier},
	}
}

type consultationRequest struct {
	notifier ConsultationNotifier
}

func (c *consultationRequest) Complete(ctx context.Context, contact *models.Contact, scratch map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error) {
	topic := scratch[FieldTopic].Text
	preferred := scratch[FieldPreferredTime].Text
	if err := c.notifier.ConsultationRequested(ctx, contact, topic, preferred); err != nil {
		return nil, fmt.Errorf("failed to notify staff of consultation request: %w", err)
	}
	slog.Info("Consultation request forwarded", "contact", contact.ID)
	body := "Thanks! A pharmacist will reach out to arrange the consultation. 📞"
	return []models.OutboundMessage{{To: contact.Phone, Body: body}}, nil
}

// NewEnquiryFlow builds the general enquiry flow: one free-text question
// answered by the enquiry assistant.
func NewEnquiryFlow(answerer Answerer) *Flow {
	return &Flow{
		ID:    models.FlowGeneralEnquiry,
		Entry: StepEnquiryText,
		Steps: map[models.StepID]*Step{
			StepEnquiryText: {
				ID:     StepEnquiryText,
				Prompt: "What would you like to know? Ask away.",
				Field:  FieldQuestion,
				Type:   FieldText,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepTerminal
				},
				Targets: []models.StepID{StepTerminal},
			},
		},
		Terminal: &enquiryAnswer{answerer: answerer},
	}
}

type enquiryAnswer struct {
	answerer Answerer
}

// fallbackEnquiryReply is sent when the assistant is unavailable; an enquiry
// must never leave the conversation unresponsive.
const fallbackEnquiryReply = "Thanks for your question! One of our team will get back to you shortly."

func (a *enquiryAnswer) Complete(ctx context.Context, contact *models.Contact, scratch map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error) {
	question := scratch[FieldQuestion].Text
	reply, err := a.answerer.Answer(ctx, question)
	if err != nil {
		slog.Error("Enquiry assistant failed, sending fallback", "contact", contact.ID, "error", err)
		reply = fallbackEnquiryReply
	}
	return []models.OutboundMessage{{To: contact.Phone, Body: reply}}, nil
}
