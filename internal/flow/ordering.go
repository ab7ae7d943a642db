package flow

import "github.com/pharmflow/pharmflow/internal/models"

// Ordering step identifiers.
const (
	StepMedicationType models.StepID = "MEDICATION_TYPE"
	StepScriptNumber   models.StepID = "SCRIPT_NUMBER"
	StepMedications    models.StepID = "MEDICATIONS"
	StepDeliveryMethod models.StepID = "DELIVERY_METHOD"
	StepAddressKind    models.StepID = "ADDRESS_KIND"
	StepAddress        models.StepID = "ADDRESS"
	StepConfirmOrder   models.StepID = "CONFIRM_ORDER"
)

// Choice tokens used by the ordering flow.
const (
	TokenConfirm = "CONFIRM"
	TokenCancel  = "CANCEL"
)

// NewOrderingFlow builds the branching ordering workflow: medication type,
// prescription or OTC capture, delivery method, address capture for
// deliveries, and a final confirmation that hands off to the finalizer.
func NewOrderingFlow(finalizer TerminalAction) *Flow {
	return &Flow{
		ID:    models.FlowPlaceOrder,
		Entry: StepMedicationType,
		Steps: map[models.StepID]*Step{
			StepMedicationType: {
				ID:      StepMedicationType,
				Prompt:  "What kind of medication are you ordering?",
				Field:   FieldOrderType,
				Type:    FieldChoice,
				Options: []string{string(models.OrderTypePrescription), string(models.OrderTypeOTC)},
				Mode:    InputEither,
				Next: func(_ map[models.FieldID]models.FieldValue, value models.FieldValue) models.StepID {
					if value.Token == string(models.OrderTypePrescription) {
						return StepScriptNumber
					}
					return StepMedications
				},
				Targets: []models.StepID{StepScriptNumber, StepMedications},
			},
			StepScriptNumber: {
				ID:                StepScriptNumber,
				Prompt:            "Please send your prescription number, or a photo of the script.",
				Field:             FieldScriptNumber,
				Type:              FieldText,
				AcceptsAttachment: true,
				AllowBack:         true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepDeliveryMethod
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepMedicationType
				},
				Targets: []models.StepID{StepDeliveryMethod, StepMedicationType},
			},
			StepMedications: {
				ID:        StepMedications,
				Prompt:    "Which over-the-counter items would you like? List them in one message.",
				Field:     FieldMedications,
				Type:      FieldText,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepDeliveryMethod
				},
				// The OTC branch backs out to the type chooser, not a linear
				// predecessor.
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepMedicationType
				},
				Targets: []models.StepID{StepDeliveryMethod, StepMedicationType},
			},
			StepDeliveryMethod: {
				ID:        StepDeliveryMethod,
				Prompt:    "Would you like to collect, or should we deliver?",
				Field:     FieldDeliveryMethod,
				Type:      FieldChoice,
				Options:   []string{string(models.DeliveryPickup), string(models.DeliveryDeliver)},
				Mode:      InputEither,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, value models.FieldValue) models.StepID {
					if value.Token == string(models.DeliveryDeliver) {
						return StepAddressKind
					}
					return StepConfirmOrder
				},
				Back: func(scratch map[models.FieldID]models.FieldValue) models.StepID {
					if scratch[FieldOrderType].Token == string(models.OrderTypeOTC) {
						return StepMedications
					}
					return StepScriptNumber
				},
				Targets: []models.StepID{StepAddressKind, StepConfirmOrder, StepMedications, StepScriptNumber},
			},
			StepAddressKind: {
				ID:        StepAddressKind,
				Prompt:    "Deliver to your work or home address?",
				Field:     FieldAddressKind,
				Type:      FieldChoice,
				Options:   []string{string(models.AddressWork), string(models.AddressHome)},
				Mode:      InputEither,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepAddress
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepDeliveryMethod
				},
				Targets: []models.StepID{StepAddress, StepDeliveryMethod},
			},
			StepAddress: {
				ID:        StepAddress,
				Prompt:    "Please send the full delivery address.",
				Field:     FieldAddress,
				Type:      FieldText,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, _ models.FieldValue) models.StepID {
					return StepConfirmOrder
				},
				Back: func(_ map[models.FieldID]models.FieldValue) models.StepID {
					return StepAddressKind
				},
				Targets: []models.StepID{StepConfirmOrder, StepAddressKind},
			},
			StepConfirmOrder: {
				ID:        StepConfirmOrder,
				Prompt:    "Shall we place this order?",
				Field:     FieldConfirm,
				Type:      FieldChoice,
				Options:   []string{TokenConfirm, TokenCancel},
				Mode:      InputEither,
				AllowBack: true,
				Next: func(_ map[models.FieldID]models.FieldValue, value models.FieldValue) models.StepID {
					if value.Token == TokenConfirm {
						return StepTerminal
					}
					return StepAbort
				},
				Back: func(scratch map[models.FieldID]models.FieldValue) models.StepID {
					if scratch[FieldDeliveryMethod].Token == string(models.DeliveryDeliver) {
						return StepAddress
					}
					return StepDeliveryMethod
				},
				Targets: []models.StepID{StepTerminal, StepAbort, StepAddress, StepDeliveryMethod},
			},
		},
		Terminal: finalizer,
	}
}
