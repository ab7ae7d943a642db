package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
	"github.com/pharmflow/pharmflow/internal/store"
)

// collidingStore wraps the in-memory store and fails the first N CreateOrder
// calls with a duplicate-number conflict.
type collidingStore struct {
	store.Store
	collisions int
	attempts   []string
}

func (s *collidingStore) CreateOrder(o models.Order) error {
	s.attempts = append(s.attempts, o.OrderNumber)
	if s.collisions > 0 {
		s.collisions--
		return store.ErrDuplicateOrderNumber
	}
	return s.Store.CreateOrder(o)
}

// recordingNotifier records created orders.
type recordingNotifier struct {
	orders []models.Order
	err    error
}

func (n *recordingNotifier) OrderCreated(_ context.Context, order models.Order) error {
	if n.err != nil {
		return n.err
	}
	n.orders = append(n.orders, order)
	return nil
}

// recordingInvalidator records cache invalidations.
type recordingInvalidator struct {
	contactIDs []string
}

func (i *recordingInvalidator) Invalidate(contactID string) {
	i.contactIDs = append(i.contactIDs, contactID)
}

func otcScratch() map[models.FieldID]models.FieldValue {
	return map[models.FieldID]models.FieldValue{
		FieldOrderType:      models.TokenValue(string(models.OrderTypeOTC)),
		FieldMedications:    models.TextValue("paracetamol"),
		FieldDeliveryMethod: models.TokenValue(string(models.DeliveryPickup)),
		FieldConfirm:        models.TokenValue(TokenConfirm),
	}
}

func TestFinalizerCreatesOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &recordingNotifier{}
	invalidator := &recordingInvalidator{}
	f := NewFinalizer(st, notifier, invalidator)

	contact := registeredContact()
	msgs, err := f.Complete(context.Background(), contact, otcScratch())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	orders, err := st.ListOrders(contact.ID, 10)
	if err != nil || len(orders) != 1 {
		t.Fatalf("expected 1 persisted order, got %d (%v)", len(orders), err)
	}
	o := orders[0]
	if o.Type != models.OrderTypeOTC || o.Medications != "paracetamol" {
		t.Errorf("unexpected order: %+v", o)
	}
	if o.Status != models.OrderStatusPending {
		t.Errorf("new orders start PENDING, got %s", o.Status)
	}
	if !strings.HasPrefix(o.OrderNumber, "PF-") {
		t.Errorf("order number = %q", o.OrderNumber)
	}
	if len(notifier.orders) != 1 {
		t.Errorf("expected staff notification, got %d", len(notifier.orders))
	}
	if len(invalidator.contactIDs) != 1 || invalidator.contactIDs[0] != contact.ID {
		t.Errorf("expected cache invalidation for %s, got %v", contact.ID, invalidator.contactIDs)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, o.OrderNumber) {
		t.Errorf("confirmation should carry the order number: %+v", msgs)
	}
}

func TestFinalizerRegeneratesOnDuplicate(t *testing.T) {
	st := &collidingStore{Store: store.NewInMemoryStore(), collisions: 1}
	f := NewFinalizer(st, nil, nil)

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, otcScratch()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(st.attempts) != 2 {
		t.Fatalf("expected 2 create attempts, got %d", len(st.attempts))
	}
	if st.attempts[0] == st.attempts[1] {
		t.Error("retry must use a freshly generated order number")
	}
}

func TestFinalizerGivesUpAfterSecondCollision(t *testing.T) {
	st := &collidingStore{Store: store.NewInMemoryStore(), collisions: 2}
	f := NewFinalizer(st, nil, nil)

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, otcScratch()); err == nil {
		t.Fatal("expected error after a second collision")
	}
	orders, _ := st.Store.ListOrders(contact.ID, 10)
	if len(orders) != 0 {
		t.Errorf("no order should be persisted, got %d", len(orders))
	}
}

func TestFinalizerDefaultsMissingOTCMedications(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewFinalizer(st, nil, nil)

	scratch := otcScratch()
	delete(scratch, FieldMedications)

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, scratch); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	orders, _ := st.ListOrders(contact.ID, 10)
	if orders[0].Medications != "unspecified" {
		t.Errorf("Medications = %q, want unspecified", orders[0].Medications)
	}
}

func TestFinalizerPrescriptionImage(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewFinalizer(st, nil, nil)

	scratch := map[models.FieldID]models.FieldValue{
		FieldOrderType:      models.TokenValue(string(models.OrderTypePrescription)),
		FieldScriptNumber:   models.BlobValue("https://cdn.example/script.jpg"),
		FieldDeliveryMethod: models.TokenValue(string(models.DeliveryDeliver)),
		FieldAddressKind:    models.TokenValue(string(models.AddressHome)),
		FieldAddress:        models.TextValue("5 Oak Ave"),
	}

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, scratch); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	orders, _ := st.ListOrders(contact.ID, 10)
	o := orders[0]
	if o.ScriptImageURL != "https://cdn.example/script.jpg" || o.ScriptNumber != "" {
		t.Errorf("script image not mapped: %+v", o)
	}
	if o.AddressKind != models.AddressHome || o.Address != "5 Oak Ave" {
		t.Errorf("delivery address not mapped: %+v", o)
	}
}

func TestFinalizerRejectsDeliveryWithoutAddress(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewFinalizer(st, nil, nil)

	scratch := otcScratch()
	scratch[FieldDeliveryMethod] = models.TokenValue(string(models.DeliveryDeliver))
	// No addressKind or address collected.

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, scratch); !errors.Is(err, models.ErrMissingAddress) {
		t.Fatalf("expected ErrMissingAddress, got %v", err)
	}
}

func TestFinalizerNotifierFailureDoesNotFailOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &recordingNotifier{err: errors.New("broker down")}
	f := NewFinalizer(st, notifier, nil)

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, otcScratch()); err != nil {
		t.Fatalf("notification failure must not fail the order: %v", err)
	}
	orders, _ := st.ListOrders(contact.ID, 10)
	if len(orders) != 1 {
		t.Errorf("order should be persisted despite notifier failure")
	}
}

func TestFinalizerStampsCreationTime(t *testing.T) {
	st := store.NewInMemoryStore()
	f := NewFinalizer(st, nil, nil)
	fixed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	contact := registeredContact()
	if _, err := f.Complete(context.Background(), contact, otcScratch()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	orders, _ := st.ListOrders(contact.ID, 10)
	if !orders[0].CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", orders[0].CreatedAt, fixed)
	}
}
