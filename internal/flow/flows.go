package flow

import "github.com/pharmflow/pharmflow/internal/models"

// Dependencies holds the collaborators the catalog's terminal actions need.
type Dependencies struct {
	Finalizer TerminalAction
	Orders    OrderSource
	Notifier  ConsultationNotifier
	Answerer  Answerer
}

// BuildCatalog assembles every flow plus the root menu and validates the
// result. A defective catalog fails here, at startup, never at runtime.
func BuildCatalog(cfg Config, deps Dependencies) (*Catalog, error) {
	c := NewCatalog(cfg)

	c.AddFlow(NewRegistrationFlow())
	c.AddFlow(NewOrderingFlow(deps.Finalizer))
	c.AddFlow(NewOrderStatusFlow(deps.Orders))
	c.AddFlow(NewConsultationFlow(deps.Notifier))
	c.AddFlow(NewEnquiryFlow(deps.Answerer))

	c.AddRootOption("ORDER", "Place an order", models.FlowPlaceOrder)
	c.AddRootOption("STATUS", "Check an order's status", models.FlowOrderStatus)
	c.AddRootOption("CONSULT", "Request a consultation", models.FlowConsultation)
	c.AddRootOption("ASK", "General enquiry", models.FlowGeneralEnquiry)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
