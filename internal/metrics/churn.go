package metrics

import (
	"sort"
	"time"

	"bursar/internal/dedup"
	"bursar/pkg/models"
)

// DefaultChurnGrace is how long after a one-off payment a client stays
// "active" before counting as churned.
const DefaultChurnGrace = 30 * 24 * time.Hour

// churnEvent is one churn occurrence for a client. Subscription churn takes
// priority over one-off churn when both fall inside the same lifecycle.
type churnEvent struct {
	At           time.Time
	Subscription bool
}

// ChurnEvents computes when a single client churned. A client churns at most
// once per lifecycle; a succeeded payment after a churn event starts a new
// lifecycle. Clients with a currently active or trialing subscription never
// churn.
func ChurnEvents(subs []models.Subscription, payments []models.Payment, grace time.Duration, now time.Time) []time.Time {
	if grace <= 0 {
		grace = DefaultChurnGrace
	}

	for _, s := range subs {
		if countsTowardMRR(s.Status) {
			return nil
		}
	}

	deduped, _ := dedup.Resolve(payments)
	var paid []models.Payment
	for _, p := range deduped {
		if p.Status == models.PaymentSucceeded {
			paid = append(paid, p)
		}
	}
	sort.Slice(paid, func(i, j int) bool { return paid[i].CreatedAt.Before(paid[j].CreatedAt) })

	var events []churnEvent

	// Rule (a): a canceled subscription's period ends with no replacement.
	for _, s := range subs {
		if s.Status != models.SubscriptionCanceled {
			continue
		}
		at := subscriptionChurnTime(s)
		if at.IsZero() || at.After(now) {
			continue
		}
		events = append(events, churnEvent{At: at, Subscription: true})
	}

	// Rule (b): the most recent one-off payment ages past the grace period.
	// A gap longer than the grace between consecutive payments is a churn
	// followed by a fresh lifecycle.
	var oneOff []models.Payment
	for _, p := range paid {
		if p.SubscriptionID == "" {
			oneOff = append(oneOff, p)
		}
	}
	for i, p := range oneOff {
		deadline := p.CreatedAt.Add(grace)
		if i+1 < len(oneOff) {
			if oneOff[i+1].CreatedAt.After(deadline) {
				events = append(events, churnEvent{At: deadline})
			}
			continue
		}
		if now.After(deadline) {
			events = append(events, churnEvent{At: deadline})
		}
	}

	return collapseLifecycles(events, paid)
}

// subscriptionChurnTime picks the churn moment for a canceled subscription:
// the end of its final period when known, otherwise the cancellation time.
func subscriptionChurnTime(s models.Subscription) time.Time {
	if s.CurrentPeriodEnd != nil {
		return *s.CurrentPeriodEnd
	}
	if s.CanceledAt != nil {
		return *s.CanceledAt
	}
	return s.UpdatedAt
}

// collapseLifecycles enforces at-most-one churn per lifecycle. Lifecycles are
// delimited by succeeded payments: two events with no payment between them
// belong to the same lifecycle and only one survives, preferring the
// subscription-churn rule.
func collapseLifecycles(events []churnEvent, paid []models.Payment) []time.Time {
	if len(events) == 0 {
		return nil
	}

	lifecycleOf := func(at time.Time) time.Time {
		var start time.Time
		for _, p := range paid {
			if p.CreatedAt.Before(at) || p.CreatedAt.Equal(at) {
				start = p.CreatedAt
			}
		}
		return start
	}

	byLifecycle := map[time.Time]churnEvent{}
	for _, e := range events {
		key := lifecycleOf(e.At)
		cur, ok := byLifecycle[key]
		if !ok {
			byLifecycle[key] = e
			continue
		}
		// Subscription churn outranks one-off churn; otherwise earliest wins.
		if e.Subscription != cur.Subscription {
			if e.Subscription {
				byLifecycle[key] = e
			}
			continue
		}
		if e.At.Before(cur.At) {
			byLifecycle[key] = e
		}
	}

	out := make([]time.Time, 0, len(byLifecycle))
	for _, e := range byLifecycle {
		out = append(out, e.At)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// clientActiveAt reports whether a client counted as active at a moment:
// a subscription created before it that had not yet ended, or a succeeded
// payment within the grace window before it.
func clientActiveAt(subs []models.Subscription, payments []models.Payment, at time.Time, grace time.Duration) bool {
	for _, s := range subs {
		if s.CreatedAt.After(at) {
			continue
		}
		if countsTowardMRR(s.Status) {
			return true
		}
		if s.Status == models.SubscriptionCanceled && subscriptionChurnTime(s).After(at) {
			return true
		}
	}
	for _, p := range payments {
		if p.Status != models.PaymentSucceeded {
			continue
		}
		if !p.CreatedAt.After(at) && p.CreatedAt.Add(grace).After(at) {
			return true
		}
	}
	return false
}

// ClientHistory pairs one client's subscriptions and payments for churn
// classification.
type ClientHistory struct {
	ClientID      string
	Subscriptions []models.Subscription
	Payments      []models.Payment
}

// ChurnByMonth classifies churn for every client over the trailing months
// window, newest month last.
func ChurnByMonth(histories []ClientHistory, months int, grace time.Duration, now time.Time) *models.ChurnResult {
	if months <= 0 {
		months = 6
	}
	if grace <= 0 {
		grace = DefaultChurnGrace
	}

	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	result := &models.ChurnResult{}
	for i := 0; i < months; i++ {
		monthStart := first.AddDate(0, i, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)

		var active, churned int
		for _, h := range histories {
			if clientActiveAt(h.Subscriptions, h.Payments, monthStart, grace) {
				active++
			}
			for _, at := range ChurnEvents(h.Subscriptions, h.Payments, grace, now) {
				if !at.Before(monthStart) && at.Before(monthEnd) {
					churned++
					break
				}
			}
		}

		rate := 0.0
		if active > 0 {
			rate = float64(churned) / float64(active) * 100
		}
		result.Months = append(result.Months, models.ChurnMonth{
			Month:            monthStart.Format("2006-01"),
			ActiveAtStart:    active,
			Churned:          churned,
			ChurnRatePercent: rate,
		})
	}
	return result
}
