package metrics

import (
	"math"
	"testing"

	"bursar/pkg/models"
)

func TestMonthlyItemCentsNormalization(t *testing.T) {
	cases := []struct {
		name string
		item LineItem
		want float64
	}{
		{"yearly divides by 12", LineItem{UnitAmountCents: 12000, Interval: "year", Quantity: 1}, 1000},
		{"weekly multiplies by 4.33", LineItem{UnitAmountCents: 1000, Interval: "week", Quantity: 1}, 4330},
		{"daily multiplies by 30", LineItem{UnitAmountCents: 100, Interval: "day", Quantity: 1}, 3000},
		{"monthly passes through", LineItem{UnitAmountCents: 2900, Interval: "month", Quantity: 1}, 2900},
		{"quantity scales", LineItem{UnitAmountCents: 2900, Interval: "month", Quantity: 3}, 8700},
		{"zero quantity treated as one", LineItem{UnitAmountCents: 2900, Interval: "month"}, 2900},
		{"unknown interval contributes nothing", LineItem{UnitAmountCents: 2900, Interval: "once", Quantity: 1}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MonthlyItemCents(tc.item); math.Abs(got-tc.want) > 0.001 {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSubscriptionMRRCentsSumsItems(t *testing.T) {
	items := []LineItem{
		{UnitAmountCents: 12000, Interval: "year", Quantity: 1},
		{UnitAmountCents: 2900, Interval: "month", Quantity: 1},
	}
	if got := SubscriptionMRRCents(items); math.Abs(got-3900) > 0.001 {
		t.Fatalf("got %v, want 3900", got)
	}
}

func TestCountsTowardMRRFiltersStatus(t *testing.T) {
	if !countsTowardMRR(models.SubscriptionActive) || !countsTowardMRR(models.SubscriptionTrialing) {
		t.Fatal("active and trialing should count toward MRR")
	}
	if countsTowardMRR(models.SubscriptionCanceled) || countsTowardMRR(models.SubscriptionPastDue) {
		t.Fatal("canceled and past_due should not count toward MRR")
	}
}
