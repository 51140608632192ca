package metrics

import (
	"testing"
	"time"

	"bursar/pkg/models"
)

func canceledSub(end time.Time) models.Subscription {
	return models.Subscription{
		StripeSubscriptionID: "sub_S1",
		Status:               models.SubscriptionCanceled,
		CurrentPeriodEnd:     &end,
		CreatedAt:            end.AddDate(0, -6, 0),
		UpdatedAt:            end,
	}
}

func TestChurnEventsSubscriptionChurn(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	events := ChurnEvents([]models.Subscription{canceledSub(end)}, nil, DefaultChurnGrace, now)
	if len(events) != 1 || !events[0].Equal(end) {
		t.Fatalf("expected one churn at period end, got %v", events)
	}
}

func TestChurnEventsActiveSubscriptionSuppressesChurn(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	subs := []models.Subscription{
		canceledSub(end),
		{StripeSubscriptionID: "sub_S2", Status: models.SubscriptionActive, CreatedAt: end.AddDate(0, 0, 3)},
	}

	if events := ChurnEvents(subs, nil, DefaultChurnGrace, now); len(events) != 0 {
		t.Fatalf("replacement subscription must suppress churn, got %v", events)
	}
}

func TestChurnEventsOneOffGracePeriod(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	p := succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 2900, last)
	events := ChurnEvents(nil, []models.Payment{p}, DefaultChurnGrace, now)
	want := last.Add(DefaultChurnGrace)
	if len(events) != 1 || !events[0].Equal(want) {
		t.Fatalf("expected churn at last payment + grace (%v), got %v", want, events)
	}

	// A recent payment keeps the client active.
	recent := succeeded("ch_BBBBBBBBBBBBBBBBBBBB", models.KindCharge, 2900, now.AddDate(0, 0, -5))
	if events := ChurnEvents(nil, []models.Payment{p, recent}, DefaultChurnGrace, now); len(events) != 1 {
		t.Fatalf("expected exactly the gap churn between payments, got %v", events)
	}
}

func TestChurnEventsNewLifecycleAfterChurn(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	first := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	second := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)

	payments := []models.Payment{
		succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 2900, first),
		succeeded("ch_BBBBBBBBBBBBBBBBBBBB", models.KindCharge, 2900, second),
	}

	events := ChurnEvents(nil, payments, DefaultChurnGrace, now)
	if len(events) != 2 {
		t.Fatalf("a payment after churn starts a lifecycle that can churn again, got %v", events)
	}
}

func TestChurnMutualExclusivity(t *testing.T) {
	// A canceled subscription ending in May and a stale one-off payment
	// whose grace also expires in May must churn the client once, not twice.
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	oneOff := succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 2900, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC))

	histories := []ClientHistory{{
		ClientID:      "client-a",
		Subscriptions: []models.Subscription{canceledSub(end)},
		Payments:      []models.Payment{oneOff},
	}}

	result := ChurnByMonth(histories, 3, DefaultChurnGrace, now)
	var total int
	for _, m := range result.Months {
		total += m.Churned
	}
	if total != 1 {
		t.Fatalf("client must churn exactly once, got %d across %+v", total, result.Months)
	}

	var may *models.ChurnMonth
	for i := range result.Months {
		if result.Months[i].Month == "2026-05" {
			may = &result.Months[i]
		}
	}
	if may == nil || may.Churned != 1 {
		t.Fatalf("churn must land in May: %+v", result.Months)
	}
}

func TestChurnByMonthRate(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	histories := []ClientHistory{
		{ClientID: "a", Subscriptions: []models.Subscription{canceledSub(end)}},
		{ClientID: "b", Subscriptions: []models.Subscription{{
			StripeSubscriptionID: "sub_S9",
			Status:               models.SubscriptionActive,
			CreatedAt:            end.AddDate(-1, 0, 0),
		}}},
	}

	result := ChurnByMonth(histories, 2, DefaultChurnGrace, now)
	var may *models.ChurnMonth
	for i := range result.Months {
		if result.Months[i].Month == "2026-05" {
			may = &result.Months[i]
		}
	}
	if may == nil {
		t.Fatalf("missing May: %+v", result.Months)
	}
	if may.ActiveAtStart != 2 || may.Churned != 1 {
		t.Fatalf("expected 1 of 2 churned, got %+v", may)
	}
	if may.ChurnRatePercent != 50 {
		t.Fatalf("expected 50%% rate, got %v", may.ChurnRatePercent)
	}
}
