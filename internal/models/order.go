package models

import (
	"errors"
	"time"
)

// OrderType distinguishes prescription orders from over-the-counter ones.
type OrderType string

const (
	OrderTypePrescription OrderType = "PRESCRIPTION"
	OrderTypeOTC          OrderType = "OTC"
)

// DeliveryMethod indicates how the contact receives the order.
type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "PICKUP"
	DeliveryDeliver DeliveryMethod = "DELIVERY"
)

// AddressKind distinguishes the two address slots a delivery order may use.
type AddressKind string

const (
	AddressWork AddressKind = "WORK"
	AddressHome AddressKind = "HOME"
)

// OrderStatus tracks the lifecycle of an order. Only status advances after
// creation; every other field is immutable.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReady          OrderStatus = "READY"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Error variables for order construction.
var (
	ErrMissingOrderType      = errors.New("order type is required")
	ErrMissingDeliveryMethod = errors.New("delivery method is required")
	ErrMissingAddress        = errors.New("delivery orders require exactly one address")
)

// Order is the persisted business record produced when an ordering flow
// completes. It references its contact by identity and is immutable after
// creation except for Status.
type Order struct {
	ID             string         `json:"id"`
	ContactID      string         `json:"contact_id"`
	OrderNumber    string         `json:"order_number"`
	Type           OrderType      `json:"type"`
	ScriptNumber   string         `json:"script_number,omitempty"`
	ScriptImageURL string         `json:"script_image_url,omitempty"`
	Medications    string         `json:"medications,omitempty"`
	DeliveryMethod DeliveryMethod `json:"delivery_method"`
	AddressKind    AddressKind    `json:"address_kind,omitempty"`
	Address        string         `json:"address,omitempty"`
	Status         OrderStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks the business-required fields of a finalized order.
func (o *Order) Validate() error {
	if o.Type != OrderTypePrescription && o.Type != OrderTypeOTC {
		return ErrMissingOrderType
	}
	switch o.DeliveryMethod {
	case DeliveryPickup:
	case DeliveryDeliver:
		if o.Address == "" || (o.AddressKind != AddressWork && o.AddressKind != AddressHome) {
			return ErrMissingAddress
		}
	default:
		return ErrMissingDeliveryMethod
	}
	return nil
}
