package models

import "time"

// KindResult tallies one object kind's section of a sync run.
type KindResult struct {
	Kind     ObjectKind `json:"kind"`
	Fetched  int        `json:"fetched"`
	Upserted int        `json:"upserted"`
	Skipped  int        `json:"skipped"`
	Failed   bool       `json:"failed"`
	Error    string     `json:"error,omitempty"`
}

// SyncResult is the structured outcome of one sync run. Errors collects
// non-fatal record and kind level problems so callers can distinguish
// "nothing synced" from "synced with some skipped records".
type SyncResult struct {
	TenantID    string        `json:"tenant_id"`
	FullSync    bool          `json:"full_sync"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Kinds       []*KindResult `json:"kinds"`
	Errors      []string      `json:"errors"`
}

// KindResult returns the tally for a kind, allocating it on first use.
func (r *SyncResult) KindResult(kind ObjectKind) *KindResult {
	for _, k := range r.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	k := &KindResult{Kind: kind}
	r.Kinds = append(r.Kinds, k)
	return k
}

// TotalUpserted sums upserts across all kinds.
func (r *SyncResult) TotalUpserted() int {
	total := 0
	for _, k := range r.Kinds {
		total += k.Upserted
	}
	return total
}

// ReconcileResult reports what a reconciliation pass changed.
type ReconcileResult struct {
	TenantID        string    `json:"tenant_id"`
	ClientsChecked  int       `json:"clients_checked"`
	ClientsAdjusted int       `json:"clients_adjusted"`
	DuplicatesFound int       `json:"duplicates_found"`
	CompletedAt     time.Time `json:"completed_at"`
}

// MRRResult is the recurring revenue snapshot for a tenant.
type MRRResult struct {
	MRRCents            float64 `json:"mrr_cents"`
	ARRCents            float64 `json:"arr_cents"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
	Currency            string  `json:"currency"`
}

// TimelinePoint is one revenue bucket (day or week).
type TimelinePoint struct {
	BucketStart  time.Time `json:"bucket_start"`
	RevenueCents int64     `json:"revenue_cents"`
	Payments     int       `json:"payments"`
}

// ChurnMonth is churn for one calendar month.
type ChurnMonth struct {
	Month            string  `json:"month"`
	ActiveAtStart    int     `json:"active_at_start"`
	Churned          int     `json:"churned"`
	ChurnRatePercent float64 `json:"churn_rate_percent"`
}

// ChurnResult is churn-by-month over a trailing window.
type ChurnResult struct {
	Months []ChurnMonth `json:"months"`
}

// TopClient ranks a client by deduplicated succeeded payment volume.
type TopClient struct {
	ClientID     string `json:"client_id"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	RevenueCents int64  `json:"revenue_cents"`
	Payments     int    `json:"payments"`
}

// RevenueSummary is the headline KPI block.
type RevenueSummary struct {
	MRRCents             float64 `json:"mrr_cents"`
	ARRCents             float64 `json:"arr_cents"`
	ActiveSubscriptions  int     `json:"active_subscriptions"`
	TotalClients         int     `json:"total_clients"`
	LifetimeRevenueCents int64   `json:"lifetime_revenue_cents"`
}
