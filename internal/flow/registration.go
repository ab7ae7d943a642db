package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pharmflow/pharmflow/internal/models"
)

// Field identifiers shared by the catalog's flows. Each field's value kind is
// fixed by the step that collects it.
const (
	FieldName             models.FieldID = "name"
	FieldDateOfBirth      models.FieldID = "dateOfBirth"
	FieldMedicalAid       models.FieldID = "medicalAid"
	FieldMedicalAidNumber models.FieldID = "medicalAidNumber"

	FieldOrderType      models.FieldID = "orderType"
	FieldScriptNumber   models.FieldID = "scriptNumber"
	FieldMedications    models.FieldID = "medications"
	FieldDeliveryMethod models.FieldID = "deliveryMethod"
	FieldAddressKind    models.FieldID = "addressKind"
	FieldAddress        models.FieldID = "address"
	FieldConfirm        models.FieldID = "confirm"

	FieldTopic         models.FieldID = "topic"
	FieldPreferredTime models.FieldID = "preferredTime"
	FieldQuestion      models.FieldID = "question"
)

// Registration step identifiers.
const (
	StepRegName             models.StepID = "REG_NAME"
	StepRegDateOfBirth      models.StepID = "REG_DATE_OF_BIRTH"
	StepRegMedicalAid       models.StepID = "REG_MEDICAL_AID"
	StepRegMedicalAidNumber models.StepID = "REG_MEDICAL_AID_NUMBER"
)

// SkipTokenNA is the sentinel contacts send to skip an optional field.
const SkipTokenNA = "N/A"

// NewRegistrationFlow builds the registration wizard: name, date of birth and
// optional medical-aid details, committed onto the contact profile at the end.
func NewRegistrationFlow() *Flow {
	return &Flow{
		ID:    models.FlowRegistration,
		Entry: StepRegName,
		Steps: map[models.StepID]*Step{
			StepRegName: {
				ID:     StepRegName,
				Prompt: "Welcome to the pharmacy! 💊 Let's get you registered.\n\nWhat is your full name?",
				Field:  FieldName,
				Type:   FieldText,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepRegDateOfBirth
				},
				Targets: []models.StepID{StepRegDateOfBirth},
			},
			StepRegDateOfBirth: {
				ID:        StepRegDateOfBirth,
				Prompt:    "Thanks! What is your date of birth? (DD/MM/YYYY)",
				Field:     FieldDateOfBirth,
				Type:      FieldDate,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepRegMedicalAid
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepRegName
				},
				Targets: []models.StepID{StepRegMedicalAid, StepRegName},
			},
			StepRegMedicalAid: {
				ID:        StepRegMedicalAid,
				Prompt:    "Which medical aid are you with? Reply N/A if you don't have one.",
				Field:     FieldMedicalAid,
				Type:      FieldOptional,
				SkipToken: SkipTokenNA,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, value models.FieldValue) models.StepID {
					if value.Absent() {
						return StepTerminal
					}
					return StepRegMedicalAidNumber
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepRegDateOfBirth
				},
				Targets: []models.StepID{StepTerminal, StepRegMedicalAidNumber, StepRegDateOfBirth},
			},
			StepRegMedicalAidNumber: {
				ID:        StepRegMedicalAidNumber,
				Prompt:    "What is your medical aid membership number? Reply N/A if you don't have it handy.",
				Field:     FieldMedicalAidNumber,
				Type:      FieldOptional,
				SkipToken: SkipTokenNA,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepTerminal
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepRegMedicalAid
				},
				Targets: []models.StepID{StepTerminal, StepRegMedicalAid},
			},
		},
		Terminal: profileCommit{},
	}
}

// profileCommit copies registration scratch onto the contact's durable profile
// fields. It is the only point where registration input becomes persistent.
type profileCommit struct{}

func (profileCommit) Complete(_ context.Context, contact *models.Contact, scratch map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error) {
	for field, v := range scratch {
		switch field {
		case FieldName:
			contact.Name = v.Text
		case FieldDateOfBirth:
			contact.DateOfBirth = v.Date
		case FieldMedicalAid:
			contact.MedicalAid = v.Text
		case FieldMedicalAidNumber:
			contact.MedicalAidNumber = v.Text
		}
	}
	contact.RegistrationComplete = true
	slog.Info("Registration committed", "contact", contact.ID)
	body := fmt.Sprintf("You're all set, %s! ✅ Your profile has been saved.", contact.Name)
	return []models.OutboundMessage{{To: contact.Phone, Body: body}}, nil
}
