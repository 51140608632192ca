// Package metrics derives financial figures (MRR, churn, revenue timelines)
// from persisted, deduplicated records. Calculations never call the provider.
package metrics

import (
	"bursar/pkg/models"
)

// Interval multipliers normalize a line item's price to a monthly figure in
// minor units.
const (
	weeksPerMonth = 4.33
	daysPerMonth  = 30
)

// LineItem is the slice of a subscription item MRR needs.
type LineItem struct {
	UnitAmountCents int64
	Interval        string // day, week, month, year
	Quantity        int64
}

// MonthlyItemCents normalizes one line item to monthly recurring revenue in
// minor units: yearly prices divide by 12, weekly multiply by 4.33, daily by
// 30. Unknown intervals contribute nothing.
func MonthlyItemCents(item LineItem) float64 {
	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	base := float64(item.UnitAmountCents * qty)
	switch item.Interval {
	case "month":
		return base
	case "year":
		return base / 12
	case "week":
		return base * weeksPerMonth
	case "day":
		return base * daysPerMonth
	default:
		return 0
	}
}

// SubscriptionMRRCents sums the monthly-normalized value of all line items.
func SubscriptionMRRCents(items []LineItem) float64 {
	var total float64
	for _, item := range items {
		total += MonthlyItemCents(item)
	}
	return total
}

// countsTowardMRR reports whether a subscription status contributes to MRR.
func countsTowardMRR(status string) bool {
	return status == models.SubscriptionActive || status == models.SubscriptionTrialing
}
