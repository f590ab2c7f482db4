package sendd

import (
	"payconfirm/core/invoice"
	"payconfirm/core/readiness"
	"payconfirm/core/submission"
	"payconfirm/core/units"
)

const viewTitle = "Confirm pay invoice"

// FormItem is one read-only row of the confirmation form.
type FormItem struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Value   string `json:"value"`
	Success bool   `json:"success,omitempty"`
}

// View is the presentation model rendered by clients. Clients show the pay
// button enabled only when Ready is true and a spinner otherwise.
type View struct {
	Title        string              `json:"title"`
	WorkflowID   string              `json:"workflowId"`
	Items        []FormItem          `json:"items"`
	Ready        bool                `json:"ready"`
	Pending      bool                `json:"pending"`
	State        submission.State    `json:"state"`
	Waiting      []string            `json:"waitingFor,omitempty"`
	Notification *ActiveNotification `json:"notification,omitempty"`
}

// Display carries the formatting preferences for amounts.
type Display struct {
	Unit     units.Unit
	FiatUnit string
	FiatRate float64
}

// FormItems builds the confirmation rows for req. A recipient named in the
// description takes precedence over the destination node alias.
func FormItems(req invoice.PaymentRequest, display Display) []FormItem {
	items := []FormItem{
		{Key: "INVOICE", Title: "Invoice", Value: req.ShortInvoice(), Success: true},
		{Key: "AMOUNT_BTC", Title: "Amount " + display.Unit.Nice(), Value: units.FormatBitcoin(req.AmountSat, display.Unit)},
		{Key: "AMOUNT_FIAT", Title: "Amount " + display.FiatUnit, Value: units.FormatFiat(req.AmountSat, display.FiatRate)},
	}
	name, message := invoice.ExtractDescription(req.Description)
	if name != "" {
		items = append(items, FormItem{Key: "RECIPIENT", Title: "Recipient", Value: name})
	} else if req.NodeAlias != "" {
		items = append(items, FormItem{Key: "NODE_ALIAS", Title: "Node Alias", Value: req.NodeAlias})
	}
	return append(items, FormItem{Key: "MESSAGE", Title: "Message", Value: message})
}

func buildView(workflowID string, req invoice.PaymentRequest, display Display, signals readiness.Signals, state submission.State) View {
	return View{
		Title:      viewTitle,
		WorkflowID: workflowID,
		Items:      FormItems(req, display),
		Ready:      readiness.IsReady(signals, state.Pending()),
		Pending:    state.Pending(),
		State:      state,
		Waiting:    signals.Missing(),
	}
}
