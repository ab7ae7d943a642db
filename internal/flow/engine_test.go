package flow

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

var engineNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// captureTerminal records the scratch it completes with and can be made to
// fail, standing in for the order finalizer.
type captureTerminal struct {
	scratch map[models.FieldID]models.FieldValue
	calls   int
	err     error
}

func (c *captureTerminal) Complete(_ context.Context, contact *models.Contact, scratch map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	c.scratch = make(map[models.FieldID]models.FieldValue, len(scratch))
	for k, v := range scratch {
		c.scratch[k] = v
	}
	return []models.OutboundMessage{{To: contact.Phone, Body: "Order placed!"}}, nil
}

type engineFixture struct {
	engine    *Engine
	finalizer *captureTerminal
	orders    *stubOrders
	notifier  *stubNotifier
	answerer  *stubAnswerer
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		finalizer: &captureTerminal{},
		orders:    &stubOrders{},
		notifier:  &stubNotifier{},
		answerer:  &stubAnswerer{answer: "We open at 8am."},
	}
	c, err := BuildCatalog(Config{}, Dependencies{
		Finalizer: fx.finalizer,
		Orders:    fx.orders,
		Notifier:  fx.notifier,
		Answerer:  fx.answerer,
	})
	if err != nil {
		t.Fatalf("BuildCatalog failed: %v", err)
	}
	fx.engine = NewEngine(c)
	return fx
}

func registeredContact() *models.Contact {
	return &models.Contact{
		ID:                   "c_1",
		Phone:                "27820000001",
		Name:                 "Thandi",
		RegistrationComplete: true,
	}
}

func textEvent(contact *models.Contact, text string) models.InboundEvent {
	return models.InboundEvent{From: contact.Phone, Text: text, Time: engineNow}
}

// send advances the contact with a text event and fails the test on error.
func send(t *testing.T, e *Engine, contact *models.Contact, text string) []models.OutboundMessage {
	t.Helper()
	msgs, err := e.Advance(context.Background(), contact, textEvent(contact, text), engineNow)
	if err != nil {
		t.Fatalf("Advance(%q) failed: %v", text, err)
	}
	return msgs
}

func TestUnregisteredContactEntersRegistration(t *testing.T) {
	fx := newEngineFixture(t)
	contact := &models.Contact{ID: "c_1", Phone: "27820000001"}

	msgs := send(t, fx.engine, contact, "hello")

	if contact.Conversation.Flow != models.FlowRegistration || contact.Conversation.Step != StepRegName {
		t.Fatalf("expected registration entry, got %s/%s", contact.Conversation.Flow, contact.Conversation.Step)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "full name") {
		t.Errorf("expected name prompt, got %+v", msgs)
	}
}

func TestRegistrationHappyPathWithSkip(t *testing.T) {
	fx := newEngineFixture(t)
	contact := &models.Contact{ID: "c_1", Phone: "27820000001"}

	send(t, fx.engine, contact, "hi")
	send(t, fx.engine, contact, "Thandi Mokoena")
	send(t, fx.engine, contact, "07/03/1985")
	msgs := send(t, fx.engine, contact, "N/A")

	if !contact.RegistrationComplete {
		t.Fatal("expected registration to complete")
	}
	if contact.Name != "Thandi Mokoena" {
		t.Errorf("Name = %q", contact.Name)
	}
	if contact.DateOfBirth.Format("02/01/2006") != "07/03/1985" {
		t.Errorf("DateOfBirth = %v", contact.DateOfBirth)
	}
	if contact.MedicalAid != "" || contact.MedicalAidNumber != "" {
		t.Errorf("skipped medical aid should stay empty: %q, %q", contact.MedicalAid, contact.MedicalAidNumber)
	}
	if !contact.Conversation.AtRoot() {
		t.Errorf("expected contact back at root, got %s/%s", contact.Conversation.Flow, contact.Conversation.Step)
	}
	// Completion message plus root menu.
	if len(msgs) != 2 || !strings.Contains(msgs[0].Body, "You're all set") {
		t.Errorf("unexpected completion messages: %+v", msgs)
	}
}

func TestRegistrationWithMedicalAidNumber(t *testing.T) {
	fx := newEngineFixture(t)
	contact := &models.Contact{ID: "c_1", Phone: "27820000001"}

	send(t, fx.engine, contact, "hi")
	send(t, fx.engine, contact, "Thandi")
	send(t, fx.engine, contact, "07/03/1985")
	send(t, fx.engine, contact, "Discovery Health")
	if contact.Conversation.Step != StepRegMedicalAidNumber {
		t.Fatalf("expected membership number step, got %s", contact.Conversation.Step)
	}
	send(t, fx.engine, contact, "DH-554433")

	if contact.MedicalAid != "Discovery Health" || contact.MedicalAidNumber != "DH-554433" {
		t.Errorf("medical aid not committed: %q, %q", contact.MedicalAid, contact.MedicalAidNumber)
	}
}

func TestInvalidDateRejectionIsIdempotent(t *testing.T) {
	fx := newEngineFixture(t)
	contact := &models.Contact{ID: "c_1", Phone: "27820000001"}

	send(t, fx.engine, contact, "hi")
	send(t, fx.engine, contact, "Thandi")

	before := contact.Conversation
	beforeScratch := map[models.FieldID]models.FieldValue{}
	for k, v := range contact.Conversation.Scratch {
		beforeScratch[k] = v
	}

	first := send(t, fx.engine, contact, "31/02/2020")
	second := send(t, fx.engine, contact, "31/02/2020")

	if contact.Conversation.Flow != before.Flow || contact.Conversation.Step != before.Step {
		t.Errorf("rejection moved the state: %s/%s", contact.Conversation.Flow, contact.Conversation.Step)
	}
	if !reflect.DeepEqual(contact.Conversation.Scratch, beforeScratch) {
		t.Errorf("rejection changed scratch: %+v", contact.Conversation.Scratch)
	}
	if len(first) != 2 || !strings.Contains(first[0].Body, "DD/MM/YYYY") {
		t.Fatalf("expected rejection text + re-prompt, got %+v", first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated rejection not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestOrderingOTCPickup(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	if contact.Conversation.Step != StepMedicationType {
		t.Fatalf("expected medication type step, got %s", contact.Conversation.Step)
	}
	send(t, fx.engine, contact, "OTC")
	send(t, fx.engine, contact, "paracetamol and vitamin C")
	send(t, fx.engine, contact, "PICKUP")
	if contact.Conversation.Step != StepConfirmOrder {
		t.Fatalf("pickup should skip address capture, got %s", contact.Conversation.Step)
	}
	msgs := send(t, fx.engine, contact, "CONFIRM")

	if fx.finalizer.calls != 1 {
		t.Fatalf("expected finalizer to run once, ran %d times", fx.finalizer.calls)
	}
	if got := fx.finalizer.scratch[FieldMedications].Text; got != "paracetamol and vitamin C" {
		t.Errorf("medications scratch = %q", got)
	}
	if got := fx.finalizer.scratch[FieldDeliveryMethod].Token; got != string(models.DeliveryPickup) {
		t.Errorf("delivery scratch = %q", got)
	}
	if !contact.Conversation.AtRoot() {
		t.Errorf("expected reset to root after completion")
	}
	if len(msgs) != 2 || !strings.Contains(msgs[0].Body, "Order placed") {
		t.Errorf("unexpected completion messages: %+v", msgs)
	}
}

func TestOrderingPrescriptionDeliveryWithAttachment(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	send(t, fx.engine, contact, "PRESCRIPTION")
	if contact.Conversation.Step != StepScriptNumber {
		t.Fatalf("expected script step, got %s", contact.Conversation.Step)
	}

	// A script photo is accepted in place of text.
	ev := models.InboundEvent{
		From:       contact.Phone,
		Attachment: &models.Attachment{URL: "https://cdn.example/script.jpg", ContentType: "image/jpeg"},
		Time:       engineNow,
	}
	if _, err := fx.engine.Advance(context.Background(), contact, ev, engineNow); err != nil {
		t.Fatalf("attachment advance failed: %v", err)
	}
	if v := contact.Conversation.Scratch[FieldScriptNumber]; v.Kind != models.ValueBlob || v.URL != "https://cdn.example/script.jpg" {
		t.Fatalf("script attachment not captured: %+v", v)
	}

	send(t, fx.engine, contact, "DELIVERY")
	send(t, fx.engine, contact, "WORK")
	send(t, fx.engine, contact, "12 Main Rd, Cape Town")
	send(t, fx.engine, contact, "CONFIRM")

	if fx.finalizer.calls != 1 {
		t.Fatalf("expected finalizer to run once, ran %d times", fx.finalizer.calls)
	}
	if got := fx.finalizer.scratch[FieldAddress].Text; got != "12 Main Rd, Cape Town" {
		t.Errorf("address scratch = %q", got)
	}
	if got := fx.finalizer.scratch[FieldAddressKind].Token; got != string(models.AddressWork) {
		t.Errorf("address kind scratch = %q", got)
	}
}

func TestBackRestoresPriorScratch(t *testing.T) {
	fx := newEngineFixture(t)
	contact := &models.Contact{ID: "c_1", Phone: "27820000001"}

	send(t, fx.engine, contact, "hi")
	send(t, fx.engine, contact, "Thandi")

	beforeScratch := map[models.FieldID]models.FieldValue{}
	for k, v := range contact.Conversation.Scratch {
		beforeScratch[k] = v
	}

	// Forward with a valid date, then navigate back.
	send(t, fx.engine, contact, "07/03/1985")
	if contact.Conversation.Step != StepRegMedicalAid {
		t.Fatalf("expected medical aid step, got %s", contact.Conversation.Step)
	}
	msgs := send(t, fx.engine, contact, "0")

	if contact.Conversation.Step != StepRegDateOfBirth {
		t.Fatalf("expected back at date step, got %s", contact.Conversation.Step)
	}
	if !reflect.DeepEqual(contact.Conversation.Scratch, beforeScratch) {
		t.Errorf("back navigation did not restore scratch:\nbefore: %+v\nafter:  %+v", beforeScratch, contact.Conversation.Scratch)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "date of birth") {
		t.Errorf("expected re-rendered date prompt, got %+v", msgs)
	}
}

func TestBackBranchesOnOrderType(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	send(t, fx.engine, contact, "OTC")
	send(t, fx.engine, contact, "paracetamol")
	if contact.Conversation.Step != StepDeliveryMethod {
		t.Fatalf("expected delivery step, got %s", contact.Conversation.Step)
	}
	// From delivery on the OTC branch, back lands on medications, not script.
	send(t, fx.engine, contact, "0")
	if contact.Conversation.Step != StepMedications {
		t.Errorf("expected medications step after back, got %s", contact.Conversation.Step)
	}
	if _, ok := contact.Conversation.Scratch[FieldMedications]; ok {
		t.Error("expected medications scratch to be removed on back")
	}
	// The order type chosen earlier survives.
	if contact.Conversation.Scratch[FieldOrderType].Token != string(models.OrderTypeOTC) {
		t.Errorf("order type scratch lost: %+v", contact.Conversation.Scratch)
	}
}

func TestAbortResetsToRoot(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	send(t, fx.engine, contact, "OTC")
	msgs := send(t, fx.engine, contact, "00")

	if !contact.Conversation.AtRoot() {
		t.Fatalf("expected root after abort, got %s/%s", contact.Conversation.Flow, contact.Conversation.Step)
	}
	if contact.Conversation.Scratch != nil {
		t.Errorf("expected scratch discarded, got %+v", contact.Conversation.Scratch)
	}
	if len(msgs) != 2 || !strings.Contains(msgs[0].Body, "cancelled") {
		t.Errorf("unexpected abort messages: %+v", msgs)
	}
}

func TestCancelAtConfirmAborts(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	send(t, fx.engine, contact, "OTC")
	send(t, fx.engine, contact, "paracetamol")
	send(t, fx.engine, contact, "PICKUP")
	msgs := send(t, fx.engine, contact, "CANCEL")

	if fx.finalizer.calls != 0 {
		t.Errorf("cancel must not run the finalizer, ran %d times", fx.finalizer.calls)
	}
	if !contact.Conversation.AtRoot() {
		t.Errorf("expected root after cancel")
	}
	if !strings.Contains(msgs[0].Body, "cancelled") {
		t.Errorf("unexpected cancel messages: %+v", msgs)
	}
}

func TestTerminalFailureHoldsStateForRetry(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	send(t, fx.engine, contact, "OTC")
	send(t, fx.engine, contact, "paracetamol")
	send(t, fx.engine, contact, "PICKUP")

	fx.finalizer.err = errors.New("database is down")
	msgs := send(t, fx.engine, contact, "CONFIRM")

	if contact.Conversation.Step != StepConfirmOrder {
		t.Fatalf("expected state held at confirmation, got %s", contact.Conversation.Step)
	}
	if len(msgs) != 2 || !strings.Contains(msgs[0].Body, "Something went wrong") {
		t.Errorf("expected failure notice + re-prompt, got %+v", msgs)
	}

	// The same input succeeds once the backend recovers.
	fx.finalizer.err = nil
	send(t, fx.engine, contact, "CONFIRM")
	if !contact.Conversation.AtRoot() {
		t.Errorf("expected completion after retry")
	}
	if fx.finalizer.calls != 2 {
		t.Errorf("expected 2 finalizer attempts, got %d", fx.finalizer.calls)
	}
}

func TestUnknownRootSelectionReprompts(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	msgs := send(t, fx.engine, contact, "banana")
	if !contact.Conversation.AtRoot() {
		t.Fatal("unknown selection must not enter a flow")
	}
	if len(msgs) != 2 || !strings.Contains(msgs[0].Body, "didn't understand") {
		t.Errorf("unexpected reprompt: %+v", msgs)
	}
}

func TestOrderStatusLookup(t *testing.T) {
	fx := newEngineFixture(t)
	fx.orders.orders = []models.Order{
		{OrderNumber: "PF-AAAA2222", Status: models.OrderStatusReady, CreatedAt: engineNow.Add(-24 * time.Hour)},
		{OrderNumber: "PF-BBBB3333", Status: models.OrderStatusPending, CreatedAt: engineNow.Add(-48 * time.Hour)},
	}
	contact := registeredContact()

	msgs := send(t, fx.engine, contact, "STATUS")

	if !contact.Conversation.AtRoot() {
		t.Fatal("status lookup must leave the contact at root")
	}
	if len(msgs) != 2 {
		t.Fatalf("expected report + menu, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Body, "PF-AAAA2222") || !strings.Contains(msgs[0].Body, "READY") {
		t.Errorf("report missing order line: %q", msgs[0].Body)
	}
}

func TestOrderStatusNoOrders(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	msgs := send(t, fx.engine, contact, "STATUS")
	if !strings.Contains(msgs[0].Body, "no orders") {
		t.Errorf("expected empty-state reply, got %q", msgs[0].Body)
	}
}

func TestOrderStatusLookupFailureDegrades(t *testing.T) {
	fx := newEngineFixture(t)
	fx.orders.err = errors.New("db down")
	contact := registeredContact()

	msgs := send(t, fx.engine, contact, "STATUS")
	if !contact.Conversation.AtRoot() {
		t.Fatal("lookup failure must leave the contact at root")
	}
	found := false
	for _, m := range msgs {
		if strings.Contains(m.Body, "Something went wrong") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected failure notice, got %+v", msgs)
	}
}

func TestConsultationNotifiesStaff(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "CONSULT")
	send(t, fx.engine, contact, "blood pressure medication dosage")
	msgs := send(t, fx.engine, contact, "weekday mornings")

	if len(fx.notifier.topics) != 1 || fx.notifier.topics[0] != "blood pressure medication dosage" {
		t.Errorf("notifier topics = %+v", fx.notifier.topics)
	}
	if !strings.Contains(msgs[0].Body, "pharmacist will reach out") {
		t.Errorf("unexpected confirmation: %q", msgs[0].Body)
	}
	if !contact.Conversation.AtRoot() {
		t.Error("expected root after consultation request")
	}
}

func TestEnquiryAnswered(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ASK")
	msgs := send(t, fx.engine, contact, "What time do you open?")
	if msgs[0].Body != "We open at 8am." {
		t.Errorf("unexpected answer: %q", msgs[0].Body)
	}
}

func TestEnquiryFallsBackWhenAssistantFails(t *testing.T) {
	fx := newEngineFixture(t)
	fx.answerer.err = errors.New("api quota exceeded")
	contact := registeredContact()

	send(t, fx.engine, contact, "ASK")
	msgs := send(t, fx.engine, contact, "What time do you open?")
	if msgs[0].Body != fallbackEnquiryReply {
		t.Errorf("expected fallback reply, got %q", msgs[0].Body)
	}
	if !contact.Conversation.AtRoot() {
		t.Error("enquiry must complete even when the assistant fails")
	}
}

func TestSelectedOptionTakesPrecedenceOverText(t *testing.T) {
	fx := newEngineFixture(t)
	contact := registeredContact()

	send(t, fx.engine, contact, "ORDER")
	ev := models.InboundEvent{From: contact.Phone, Text: "whatever the user typed", SelectedOption: "OTC", Time: engineNow}
	if _, err := fx.engine.Advance(context.Background(), contact, ev, engineNow); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if contact.Conversation.Scratch[FieldOrderType].Token != string(models.OrderTypeOTC) {
		t.Errorf("button payload not honored: %+v", contact.Conversation.Scratch)
	}
}

// routingCatalog builds a flow whose second step routes on scratch without
// prompting: a channel choice, an automatic branch, then the matching capture
// step.
func routingCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(Config{})
	c.AddFlow(&Flow{
		ID:    "NOTIFY_PREF",
		Entry: "CHANNEL",
		Steps: map[models.StepID]*Step{
			"CHANNEL": {
				ID:      "CHANNEL",
				Prompt:  "How should we reach you?",
				Field:   "channel",
				Type:    FieldChoice,
				Options: []string{"EMAIL", "SMS"},
				Mode:    InputEither,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return "ROUTE"
				},
				Targets: []models.StepID{"ROUTE"},
			},
			"ROUTE": {
				ID: "ROUTE",
				Next: func(scratch map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					if scratch["channel"].Token == "EMAIL" {
						return "EMAIL_ADDR"
					}
					return "SMS_NUMBER"
				},
				Targets: []models.StepID{"EMAIL_ADDR", "SMS_NUMBER"},
			},
			"EMAIL_ADDR": {
				ID:     "EMAIL_ADDR",
				Prompt: "What is your email address?",
				Field:  "email",
				Type:   FieldText,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepTerminal
				},
				Targets: []models.StepID{StepTerminal},
			},
			"SMS_NUMBER": {
				ID:     "SMS_NUMBER",
				Prompt: "Which number should we text?",
				Field:  "smsNumber",
				Type:   FieldText,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepTerminal
				},
				Targets: []models.StepID{StepTerminal},
			},
		},
		Terminal: nopTerminal{},
	})
	c.AddRootOption("PREF", "Notification preferences", "NOTIFY_PREF")
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return c
}

func TestAutomaticStepChainsWithoutNewInput(t *testing.T) {
	engine := NewEngine(routingCatalog(t))
	contact := registeredContact()

	send(t, engine, contact, "PREF")
	if contact.Conversation.Step != "CHANNEL" {
		t.Fatalf("expected channel step, got %s", contact.Conversation.Step)
	}
	msgs := send(t, engine, contact, "EMAIL")

	// One event carries the contact through the branch to the capture step.
	if contact.Conversation.Step != "EMAIL_ADDR" {
		t.Fatalf("expected email step after automatic branch, got %s", contact.Conversation.Step)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "email address") {
		t.Errorf("expected the capture prompt only, got %+v", msgs)
	}

	contact2 := registeredContact()
	send(t, engine, contact2, "PREF")
	send(t, engine, contact2, "SMS")
	if contact2.Conversation.Step != "SMS_NUMBER" {
		t.Errorf("expected sms step after automatic branch, got %s", contact2.Conversation.Step)
	}
}

func TestRuleCycleTripsDepthGuard(t *testing.T) {
	// The looping step declares a terminal target, so startup validation
	// passes; only the runtime counter can catch the stray rule.
	c := NewCatalog(Config{})
	c.AddFlow(&Flow{
		ID:    "LOOPY",
		Entry: "ASK",
		Steps: map[models.StepID]*Step{
			"ASK": {
				ID:     "ASK",
				Prompt: "say something",
				Field:  "text",
				Type:   FieldText,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return "LOOP"
				},
				Targets: []models.StepID{"LOOP"},
			},
			"LOOP": {
				ID: "LOOP",
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return "LOOP"
				},
				Targets: []models.StepID{StepTerminal},
			},
		},
		Terminal: nopTerminal{},
	})
	c.AddRootOption("GO", "Go", "LOOPY")
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	engine := NewEngine(c)
	contact := registeredContact()

	send(t, engine, contact, "GO")
	_, err := engine.Advance(context.Background(), contact, textEvent(contact, "hello"), engineNow)
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded from cycling rules, got %v", err)
	}
}
