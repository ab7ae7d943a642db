package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

// maxTransitionChain bounds the number of flow transitions one inbound event
// may trigger. Exceeding it indicates a cycle in the catalog graph, never a
// consequence of user input.
const maxTransitionChain = 10

// ErrDepthExceeded reports a transition chain past maxTransitionChain.
var ErrDepthExceeded = errors.New("flow transition chain exceeded depth bound")

// User-visible copy for engine-level outcomes.
const (
	msgUnknownSelection = "Sorry, we didn't understand that selection."
	msgAborted          = "Okay, we've cancelled that."
	msgGenericFailure   = "⚠️ Something went wrong on our side. Please try again, or contact the pharmacy if it keeps happening."
	msgInvalidText      = "Please send a short text answer."
	msgInvalidDate      = "That doesn't look like a valid date. Please reply in DD/MM/YYYY format, e.g. 07/03/1985."
	msgInvalidChoice    = "Please choose one of the listed options."
)

// Engine applies one inbound event to a contact's conversation state. It is
// deterministic over (state, event, now); terminal actions are the only point
// where side effects happen.
type Engine struct {
	catalog *Catalog
}

// NewEngine creates an engine over a validated catalog.
func NewEngine(c *Catalog) *Engine {
	return &Engine{catalog: c}
}

// Advance interprets the event against the contact's current position,
// mutates the contact in place and returns the outbound messages to send, in
// order. Every transition stamps LastUpdated with now.
func (e *Engine) Advance(ctx context.Context, contact *models.Contact, ev models.InboundEvent, now time.Time) ([]models.OutboundMessage, error) {
	contact.LastInteraction = now
	st := &contact.Conversation

	if st.AtRoot() {
		return e.advanceFromRoot(ctx, contact, ev, now)
	}

	step, ok := e.catalog.Step(st.Flow, st.Step)
	if !ok {
		// Unreachable with a validated catalog; degrade instead of looping.
		slog.Error("Engine state references unknown step", "contact", contact.ID, "flow", st.Flow, "step", st.Step)
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}

	payload := strings.TrimSpace(ev.Payload())

	// Reserved tokens take precedence over field validation. The catalog
	// guarantees option sets never reuse them.
	if payload == e.catalog.BackToken() && step.AllowBack {
		return e.goBack(contact, step, now), nil
	}
	if payload == e.catalog.AbortToken() {
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgAborted},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}

	if step.automatic() {
		// A failed terminal action can leave the state resting on an automatic
		// branch; any message retries the chain from it.
		return e.transition(ctx, contact, step, step.Next(st.Scratch, models.FieldValue{}), now, 1)
	}

	var value models.FieldValue
	if ev.Attachment != nil && step.AcceptsAttachment {
		value = models.BlobValue(ev.Attachment.URL)
	} else {
		var err error
		value, err = ValidateField(step, payload, now)
		if err != nil {
			// Idempotent retry: nothing moves except LastUpdated, and the
			// prompt is re-derived from catalog data.
			st.LastUpdated = now
			slog.Debug("Engine input rejected", "contact", contact.ID, "flow", st.Flow, "step", st.Step, "reason", err)
			return []models.OutboundMessage{
				{To: contact.Phone, Body: rejectionText(err)},
				e.catalog.RenderStep(contact.Phone, step),
			}, nil
		}
	}

	if value.Absent() {
		delete(st.Scratch, step.Field)
	} else if step.Field != "" {
		st.Set(step.Field, value)
	}

	return e.transition(ctx, contact, step, step.Next(st.Scratch, value), now, 1)
}

// transition applies a computed step change, chaining through automatic branch
// steps until the conversation rests on a prompting step or the flow ends.
// depth counts the transitions taken for the current inbound event; exceeding
// the bound means the catalog's rules form a cycle, never user input.
func (e *Engine) transition(ctx context.Context, contact *models.Contact, from *Step, next models.StepID, now time.Time, depth int) ([]models.OutboundMessage, error) {
	if depth > maxTransitionChain {
		return nil, ErrDepthExceeded
	}
	st := &contact.Conversation
	switch next {
	case StepTerminal:
		return e.completeFlow(ctx, contact, from, now)
	case StepAbort:
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgAborted},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}
	nextStep, ok := e.catalog.Step(st.Flow, next)
	if !ok {
		slog.Error("Engine next rule returned unknown step", "flow", st.Flow, "step", next)
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}
	st.Step = next
	st.LastUpdated = now
	if nextStep.automatic() {
		slog.Debug("Engine automatic branch", "contact", contact.ID, "flow", st.Flow, "step", next)
		return e.transition(ctx, contact, nextStep, nextStep.Next(st.Scratch, models.FieldValue{}), now, depth+1)
	}
	slog.Debug("Engine advanced", "contact", contact.ID, "flow", st.Flow, "step", next)
	return []models.OutboundMessage{e.catalog.RenderStep(contact.Phone, nextStep)}, nil
}

// advanceFromRoot interprets input at the root menu. Unregistered contacts are
// routed into the registration wizard regardless of what they sent.
func (e *Engine) advanceFromRoot(ctx context.Context, contact *models.Contact, ev models.InboundEvent, now time.Time) ([]models.OutboundMessage, error) {
	if !contact.RegistrationComplete {
		slog.Info("Engine routing unregistered contact into registration", "contact", contact.ID)
		return e.enterFlow(ctx, contact, models.FlowRegistration, now)
	}
	opt, ok := e.catalog.MatchRootOption(ev.Payload())
	if !ok {
		contact.Conversation.LastUpdated = now
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgUnknownSelection},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}
	return e.enterFlow(ctx, contact, opt.Flow, now)
}

// enterFlow positions the contact at a flow's entry step. Flows whose entry is
// StepTerminal run their terminal action immediately (lookup-and-reply flows);
// an automatic entry step starts a transition chain.
func (e *Engine) enterFlow(ctx context.Context, contact *models.Contact, id models.FlowID, now time.Time) ([]models.OutboundMessage, error) {
	f, ok := e.catalog.Flow(id)
	if !ok {
		slog.Error("Engine asked to enter unknown flow", "flow", id)
		contact.Conversation.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}
	st := &contact.Conversation
	st.Enter(id, f.Entry, now)
	if f.Entry == StepTerminal {
		msgs, err := f.Terminal.Complete(ctx, contact, st.Scratch)
		st.Reset(now)
		if err != nil {
			slog.Error("Engine entry terminal action failed", "flow", id, "error", err)
			msgs = append(msgs, models.OutboundMessage{To: contact.Phone, Body: msgGenericFailure})
		}
		msgs = append(msgs, e.catalog.RenderRootMenu(contact.Phone))
		return msgs, nil
	}
	entry, ok := f.Steps[f.Entry]
	if !ok {
		// Unreachable with a validated catalog; degrade instead of looping.
		slog.Error("Engine flow entry step missing", "flow", id, "step", f.Entry)
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			e.catalog.RenderRootMenu(contact.Phone),
		}, nil
	}
	if entry.automatic() {
		return e.transition(ctx, contact, entry, entry.Next(st.Scratch, models.FieldValue{}), now, 1)
	}
	return []models.OutboundMessage{e.catalog.RenderStep(contact.Phone, entry)}, nil
}

// goBack performs a backward navigation: the field collected by the back
// target (i.e. on the transition being undone) is removed from scratch, no
// validation occurs, and the target's prompt is re-emitted.
func (e *Engine) goBack(contact *models.Contact, step *Step, now time.Time) []models.OutboundMessage {
	st := &contact.Conversation
	target := step.Back(st.Scratch)
	targetStep, ok := e.catalog.Step(st.Flow, target)
	if !ok {
		slog.Error("Engine back rule returned unknown step", "flow", st.Flow, "from", step.ID, "to", target)
		st.Reset(now)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			e.catalog.RenderRootMenu(contact.Phone),
		}
	}
	if targetStep.Field != "" {
		delete(st.Scratch, targetStep.Field)
	}
	st.Step = target
	st.LastUpdated = now
	slog.Debug("Engine back navigation", "contact", contact.ID, "flow", st.Flow, "from", step.ID, "to", target)
	return []models.OutboundMessage{e.catalog.RenderStep(contact.Phone, targetStep)}
}

// completeFlow runs the flow's terminal action. On failure the contact stays
// at the pre-terminal step so the same input can be retried safely.
func (e *Engine) completeFlow(ctx context.Context, contact *models.Contact, step *Step, now time.Time) ([]models.OutboundMessage, error) {
	st := &contact.Conversation
	f, _ := e.catalog.Flow(st.Flow)
	msgs, err := f.Terminal.Complete(ctx, contact, st.Scratch)
	if err != nil {
		st.LastUpdated = now
		slog.Error("Engine terminal action failed, state held for retry", "contact", contact.ID, "flow", st.Flow, "step", step.ID, "error", err)
		return []models.OutboundMessage{
			{To: contact.Phone, Body: msgGenericFailure},
			e.catalog.RenderStep(contact.Phone, step),
		}, nil
	}
	slog.Info("Engine flow completed", "contact", contact.ID, "flow", st.Flow)
	st.Reset(now)
	msgs = append(msgs, e.catalog.RenderRootMenu(contact.Phone))
	return msgs, nil
}

// rejectionText maps a validation rejection to its user-facing explanation.
func rejectionText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDate):
		return msgInvalidDate
	case errors.Is(err, ErrInvalidChoice):
		return msgInvalidChoice
	default:
		return msgInvalidText
	}
}
