package metrics

import (
	"testing"
	"time"

	"bursar/pkg/models"
)

func succeeded(id string, kind models.ObjectKind, amount int64, at time.Time) models.Payment {
	return models.Payment{
		StripeID:    id,
		ObjectKind:  kind,
		Status:      models.PaymentSucceeded,
		AmountCents: amount,
		CreatedAt:   at,
	}
}

func TestTimelineBucketsByDay(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC)

	points := Timeline([]models.Payment{
		succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 2900, day1),
		succeeded("ch_BBBBBBBBBBBBBBBBBBBB", models.KindCharge, 1000, day1.Add(2*time.Hour)),
		succeeded("ch_CCCCCCCCCCCCCCCCCCCC", models.KindCharge, 500, day2),
	}, GroupByDay)

	if len(points) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(points))
	}
	if points[0].RevenueCents != 3900 || points[0].Payments != 2 {
		t.Fatalf("unexpected first bucket: %+v", points[0])
	}
	if points[1].RevenueCents != 500 {
		t.Fatalf("unexpected second bucket: %+v", points[1])
	}
}

func TestTimelineWeekStartsMonday(t *testing.T) {
	// 2026-03-04 is a Wednesday; its week bucket starts Monday 2026-03-02.
	wed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	points := Timeline([]models.Payment{
		succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 2900, wed),
	}, GroupByWeek)

	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if len(points) != 1 || !points[0].BucketStart.Equal(want) {
		t.Fatalf("expected week bucket starting %v, got %+v", want, points)
	}
}

func TestTimelineSumEqualsTotalUnderDedup(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	// The charge and payment intent represent the same transaction; only
	// one may contribute to either figure.
	payments := []models.Payment{
		succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 2900, now),
		succeeded("pi_AAAAAAAAAAAAAAAAAAAA", models.KindPaymentIntent, 2900, now.Add(time.Minute)),
		succeeded("ch_DDDDDDDDDDDDDDDDDDDD", models.KindCharge, 1500, now.Add(48*time.Hour)),
	}

	var sum int64
	for _, pt := range Timeline(payments, GroupByDay) {
		sum += pt.RevenueCents
	}
	total := TotalRevenueCents(payments)
	if sum != total {
		t.Fatalf("timeline sum %d must equal total %d", sum, total)
	}
	if total != 4400 {
		t.Fatalf("expected deduplicated total 4400, got %d", total)
	}
}

func TestTopClientsRanksByDedupedRevenue(t *testing.T) {
	now := time.Now()
	p1 := succeeded("ch_AAAAAAAAAAAAAAAAAAAA", models.KindCharge, 5000, now)
	p1.ClientID = "client-a"
	p2 := succeeded("pi_AAAAAAAAAAAAAAAAAAAA", models.KindPaymentIntent, 5000, now)
	p2.ClientID = "client-a"
	p3 := succeeded("ch_BBBBBBBBBBBBBBBBBBBB", models.KindCharge, 7000, now)
	p3.ClientID = "client-b"

	clients := []models.Client{
		{ID: "client-a", Name: "Acme", Email: "ops@acme.test"},
		{ID: "client-b", Name: "Globex", Email: "ap@globex.test"},
	}

	ranked := TopClients([]models.Payment{p1, p2, p3}, clients, 10)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(ranked))
	}
	if ranked[0].ClientID != "client-b" || ranked[0].RevenueCents != 7000 {
		t.Fatalf("unexpected leader: %+v", ranked[0])
	}
	if ranked[1].RevenueCents != 5000 {
		t.Fatalf("duplicate payment must count once: %+v", ranked[1])
	}
	if ranked[0].Name != "Globex" {
		t.Fatalf("client name not joined: %+v", ranked[0])
	}
}
