package stripeclient

// Typed views of the provider's list objects. Each kind is parsed
// explicitly; fields absent from a payload decode to zero values and are
// validated by the caller, never probed dynamically.

// Customer is a provider customer record.
type Customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
	Deleted bool   `json:"deleted"`
}

// SubscriptionItem is one line item on a subscription. Billing periods live
// on the item, not the subscription.
type SubscriptionItem struct {
	ID                 string `json:"id"`
	Quantity           int64  `json:"quantity"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Price              struct {
		ID         string `json:"id"`
		UnitAmount int64  `json:"unit_amount"`
		Currency   string `json:"currency"`
		Recurring  struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	} `json:"price"`
}

// Subscription is a provider subscription with nested line items.
type Subscription struct {
	ID         string `json:"id"`
	Customer   string `json:"customer"`
	Status     string `json:"status"`
	Created    int64  `json:"created"`
	CanceledAt int64  `json:"canceled_at"`
	Items      struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

// Charge is a provider charge record.
type Charge struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Paid          bool   `json:"paid"`
	Refunded      bool   `json:"refunded"`
	Customer      string `json:"customer"`
	Invoice       string `json:"invoice"`
	PaymentIntent string `json:"payment_intent"`
	ReceiptURL    string `json:"receipt_url"`
	Created       int64  `json:"created"`
}

// PaymentIntent is a provider payment intent record.
type PaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Customer string `json:"customer"`
	Invoice  string `json:"invoice"`
	Created  int64  `json:"created"`
}

// Invoice is a provider invoice record.
type Invoice struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	Status           string `json:"status"`
	Currency         string `json:"currency"`
	AmountPaid       int64  `json:"amount_paid"`
	AmountDue        int64  `json:"amount_due"`
	Paid             bool   `json:"paid"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	Created          int64  `json:"created"`
}

// FinancialAccount is a treasury cash account.
type FinancialAccount struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Created int64  `json:"created"`
}

// TreasuryTransaction is a ledger-level money movement on a financial
// account.
type TreasuryTransaction struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
	Status           string `json:"status"`
	FinancialAccount string `json:"financial_account"`
	Flow             string `json:"flow"`
	FlowType         string `json:"flow_type"`
	Created          int64  `json:"created"`

	StatusTransitions struct {
		PostedAt int64 `json:"posted_at"`
		VoidAt   int64 `json:"void_at"`
	} `json:"status_transitions"`

	BalanceImpact struct {
		Cash            int64 `json:"cash"`
		InboundPending  int64 `json:"inbound_pending"`
		OutboundPending int64 `json:"outbound_pending"`
	} `json:"balance_impact"`
}

func (c Customer) objectID() string            { return c.ID }
func (s Subscription) objectID() string        { return s.ID }
func (c Charge) objectID() string              { return c.ID }
func (p PaymentIntent) objectID() string       { return p.ID }
func (i Invoice) objectID() string             { return i.ID }
func (f FinancialAccount) objectID() string    { return f.ID }
func (t TreasuryTransaction) objectID() string { return t.ID }
