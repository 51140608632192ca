package models

import (
	"time"
)

// ObjectKind identifies which provider object a record was ingested from.
type ObjectKind string

const (
	KindCustomer            ObjectKind = "customer"
	KindSubscription        ObjectKind = "subscription"
	KindCharge              ObjectKind = "charge"
	KindPaymentIntent       ObjectKind = "payment_intent"
	KindInvoice             ObjectKind = "invoice"
	KindTreasuryTransaction ObjectKind = "treasury_transaction"
)

// SyncKindOrder is the fixed order object kinds are fetched in during a sync
// run. Customers come first so dependent records can link to them.
var SyncKindOrder = []ObjectKind{
	KindCustomer,
	KindSubscription,
	KindCharge,
	KindPaymentIntent,
	KindInvoice,
	KindTreasuryTransaction,
}

// Payment statuses.
const (
	PaymentSucceeded = "succeeded"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Subscription statuses we act on; the provider defines more but they pass
// through unmodified.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Treasury transaction statuses.
const (
	TreasuryOpen   = "open"
	TreasuryPosted = "posted"
	TreasuryVoid   = "void"
)

// Credential holds a tenant's provider credential. Token fields are stored
// encrypted and only decrypted at the point of use.
type Credential struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	Scope        string     `json:"scope"`
	AccountID    string     `json:"account_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ScopeDirectAPIKey marks credentials backed by a long-lived API key.
// They carry no refresh token and never expire.
const ScopeDirectAPIKey = "direct_api_key"

// Client is a person or account the tenant bills. LifetimeRevenueCents is
// derived by reconciliation, never incremented in place.
type Client struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	Email                string    `json:"email,omitempty"`
	Name                 string    `json:"name,omitempty"`
	LifetimeRevenueCents int64     `json:"lifetime_revenue_cents"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Payment is a point-in-time money movement recorded from a charge,
// payment intent, or invoice object. The dedup columns hold the truncated
// canonical forms of the linked provider ids.
type Payment struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	StripeID          string     `json:"stripe_id"`
	StripeDedup       string     `json:"-"`
	ObjectKind        ObjectKind `json:"object_kind"`
	ClientID          string     `json:"client_id,omitempty"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	SubscriptionDedup string     `json:"-"`
	InvoiceID         string     `json:"invoice_id,omitempty"`
	InvoiceDedup      string     `json:"-"`
	ReceiptURL        string     `json:"receipt_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Subscription is a recurring billing agreement. MRRCents is computed from
// line items at upsert time, normalized to a monthly figure in minor units.
type Subscription struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	ClientID             string     `json:"client_id,omitempty"`
	Status               string     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	PlanID               string     `json:"plan_id,omitempty"`
	MRRCents             float64    `json:"mrr_cents"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TreasuryTransaction is a ledger-level money movement from the provider's
// cash account API. StripeTransactionID is globally unique by construction.
type TreasuryTransaction struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	StripeTransactionID string     `json:"stripe_transaction_id"`
	FinancialAccount    string     `json:"financial_account,omitempty"`
	ClientID            string     `json:"client_id,omitempty"`
	AmountCents         int64      `json:"amount_cents"`
	Currency            string     `json:"currency"`
	Status              string     `json:"status"`
	FlowID              string     `json:"flow_id,omitempty"`
	FlowType            string     `json:"flow_type,omitempty"`
	Description         string     `json:"description,omitempty"`
	PostedAt            *time.Time `json:"posted_at,omitempty"`
	VoidedAt            *time.Time `json:"voided_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
