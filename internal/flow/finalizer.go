package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
	"github.com/pharmflow/pharmflow/internal/store"
	"github.com/pharmflow/pharmflow/internal/util"
)

// unspecifiedMedications is the business default recorded for an OTC order
// whose medication text is somehow absent. It is a deliberate placeholder, not
// an error: staff resolve it with the contact.
const unspecifiedMedications = "unspecified"

// OrderNotifier pages the back office about a newly created order.
type OrderNotifier interface {
	OrderCreated(ctx context.Context, order models.Order) error
}

// OrderInvalidator drops cached order listings for a contact.
type OrderInvalidator interface {
	Invalidate(contactID string)
}

// Finalizer commits the terminal state of the ordering flow into a persisted
// Order. Persistence failure is returned to the engine, which holds the
// contact at the confirmation step so the operation stays retryable.
type Finalizer struct {
	store       store.Store
	notifier    OrderNotifier
	invalidator OrderInvalidator
	orderNumber func() string
	now         func() time.Time
}

// NewFinalizer creates a Finalizer. notifier and invalidator may be nil.
func NewFinalizer(st store.Store, notifier OrderNotifier, invalidator OrderInvalidator) *Finalizer {
	return &Finalizer{
		store:       st,
		notifier:    notifier,
		invalidator: invalidator,
		orderNumber: util.GenerateOrderNumber,
		now:         time.Now,
	}
}

// Complete builds the Order from scratch data and persists it, regenerating
// the order number once on a duplicate-number conflict. Only after successful
// persistence does the engine reset the contact to the root menu.
func (f *Finalizer) Complete(ctx context.Context, contact *models.Contact, scratch map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error) {
	order, err := f.buildOrder(contact, scratch)
	if err != nil {
		return nil, err
	}

	if err := f.store.CreateOrder(*order); err != nil {
		if !errors.Is(err, store.ErrDuplicateOrderNumber) {
			return nil, fmt.Errorf("failed to persist order for %s: %w", contact.ID, err)
		}
		// Duplicate order numbers are a transient collision, not a user
		// error: regenerate once and retry.
		retry := *order
		retry.OrderNumber = f.orderNumber()
		slog.Warn("Order number collision, regenerating", "contact", contact.ID, "old", order.OrderNumber, "new", retry.OrderNumber)
		if err := f.store.CreateOrder(retry); err != nil {
			return nil, fmt.Errorf("failed to persist order after regeneration: %w", err)
		}
		order = &retry
	}

	if f.invalidator != nil {
		f.invalidator.Invalidate(contact.ID)
	}
	if f.notifier != nil {
		// Notification is best effort; the order is already committed.
		if err := f.notifier.OrderCreated(ctx, *order); err != nil {
			slog.Error("Order notification failed", "order", order.OrderNumber, "error", err)
		}
	}

	slog.Info("Order finalized", "contact", contact.ID, "order", order.OrderNumber, "type", order.Type, "delivery", order.DeliveryMethod)
	body := fmt.Sprintf("Your order %s has been placed! ✅ We'll keep you posted on its progress.", order.OrderNumber)
	return []models.OutboundMessage{{To: contact.Phone, Body: body}}, nil
}

// buildOrder maps scratch fields onto an immutable Order record.
func (f *Finalizer) buildOrder(contact *models.Contact, scratch map[models.FieldID]models.FieldValue) (*models.Order, error) {
	order := &models.Order{
		ID:          util.GenerateOrderID(),
		ContactID:   contact.ID,
		OrderNumber: f.orderNumber(),
		Type:        models.OrderType(scratch[FieldOrderType].Token),
		Status:      models.OrderStatusPending,
		CreatedAt:   f.now(),
	}

	switch order.Type {
	case models.OrderTypePrescription:
		script := scratch[FieldScriptNumber]
		switch script.Kind {
		case models.ValueBlob:
			order.ScriptImageURL = script.URL
		default:
			order.ScriptNumber = script.Text
		}
	case models.OrderTypeOTC:
		order.Medications = scratch[FieldMedications].Text
		if order.Medications == "" {
			order.Medications = unspecifiedMedications
		}
	}

	order.DeliveryMethod = models.DeliveryMethod(scratch[FieldDeliveryMethod].Token)
	if order.DeliveryMethod == models.DeliveryDeliver {
		order.AddressKind = models.AddressKind(scratch[FieldAddressKind].Token)
		order.Address = scratch[FieldAddress].Text
	}

	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("order is missing required fields: %w", err)
	}
	return order, nil
}
