// Package models defines the core data structures for PharmFlow.
//
// It includes the contact and conversation state records mutated by the flow
// engine, and the order records produced when an ordering flow completes.
package models

import "time"

// FlowID identifies a catalog-defined conversation flow.
type FlowID string

// StepID identifies a single step within a flow.
type StepID string

// FieldID identifies a collected field within a flow instance.
type FieldID string

// Flow identifiers.
const (
	FlowRegistration   FlowID = "REGISTRATION"
	FlowPlaceOrder     FlowID = "PLACE_ORDER"
	FlowOrderStatus    FlowID = "ORDER_STATUS"
	FlowConsultation   FlowID = "CONSULTATION"
	FlowGeneralEnquiry FlowID = "GENERAL_ENQUIRY"
)

// ConversationState tracks a contact's position in a flow. An empty Flow means
// the contact is at the root menu; Scratch holds only values collected in the
// current flow instance and is discarded whenever the flow changes.
type ConversationState struct {
	Flow        FlowID                 `json:"flow,omitempty"`
	Step        StepID                 `json:"step,omitempty"`
	Scratch     map[FieldID]FieldValue `json:"scratch,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
}

// AtRoot reports whether the contact is at the root menu (no active flow).
func (s *ConversationState) AtRoot() bool {
	return s.Flow == ""
}

// Reset discards the active flow and all scratch data, returning the contact
// to the root menu.
func (s *ConversationState) Reset(now time.Time) {
	s.Flow = ""
	s.Step = ""
	s.Scratch = nil
	s.LastUpdated = now
}

// Enter positions the state at the entry step of a flow with fresh scratch.
func (s *ConversationState) Enter(flow FlowID, entry StepID, now time.Time) {
	s.Flow = flow
	s.Step = entry
	s.Scratch = make(map[FieldID]FieldValue)
	s.LastUpdated = now
}

// Set records a collected field value in scratch.
func (s *ConversationState) Set(field FieldID, value FieldValue) {
	if s.Scratch == nil {
		s.Scratch = make(map[FieldID]FieldValue)
	}
	s.Scratch[field] = value
}

// Contact represents one external identity, keyed by phone number. It is
// created on the first inbound event for an unseen number and mutated by every
// processed event; the core never deletes it.
type Contact struct {
	ID                   string            `json:"id"`
	Phone                string            `json:"phone"`
	Name                 string            `json:"name,omitempty"`
	DateOfBirth          time.Time         `json:"date_of_birth,omitempty"`
	MedicalAid           string            `json:"medical_aid,omitempty"`
	MedicalAidNumber     string            `json:"medical_aid_number,omitempty"`
	RegistrationComplete bool              `json:"registration_complete"`
	LastInteraction      time.Time         `json:"last_interaction"`
	Conversation         ConversationState `json:"conversation"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}
