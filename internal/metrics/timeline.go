package metrics

import (
	"sort"
	"time"

	"bursar/internal/dedup"
	"bursar/pkg/models"
)

// Timeline group-by modes.
const (
	GroupByDay  = "day"
	GroupByWeek = "week"
)

// bucketStart truncates a timestamp to its bucket in UTC. Weeks start on
// Monday.
func bucketStart(t time.Time, groupBy string) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if groupBy != GroupByWeek {
		return day
	}
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Timeline buckets deduplicated succeeded payments by day or week of their
// creation time. The same dedup rule backs TotalRevenueCents, so the sum of
// buckets always equals the total for the same window.
func Timeline(payments []models.Payment, groupBy string) []models.TimelinePoint {
	winners, _ := dedup.Resolve(payments)

	buckets := map[time.Time]*models.TimelinePoint{}
	for _, p := range winners {
		if p.Status != models.PaymentSucceeded {
			continue
		}
		start := bucketStart(p.CreatedAt, groupBy)
		pt, ok := buckets[start]
		if !ok {
			pt = &models.TimelinePoint{BucketStart: start}
			buckets[start] = pt
		}
		pt.RevenueCents += p.AmountCents
		pt.Payments++
	}

	points := make([]models.TimelinePoint, 0, len(buckets))
	for _, pt := range buckets {
		points = append(points, *pt)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].BucketStart.Before(points[j].BucketStart)
	})
	return points
}

// TotalRevenueCents sums deduplicated succeeded payments.
func TotalRevenueCents(payments []models.Payment) int64 {
	return dedup.SumSucceeded(payments)
}

// TopClients ranks clients by deduplicated succeeded payment volume.
func TopClients(payments []models.Payment, clients []models.Client, limit int) []models.TopClient {
	winners, _ := dedup.Resolve(payments)

	byClient := map[string]*models.TopClient{}
	for _, p := range winners {
		if p.Status != models.PaymentSucceeded || p.ClientID == "" {
			continue
		}
		tc, ok := byClient[p.ClientID]
		if !ok {
			tc = &models.TopClient{ClientID: p.ClientID}
			byClient[p.ClientID] = tc
		}
		tc.RevenueCents += p.AmountCents
		tc.Payments++
	}

	for _, c := range clients {
		if tc, ok := byClient[c.ID]; ok {
			tc.Name = c.Name
			tc.Email = c.Email
		}
	}

	ranked := make([]models.TopClient, 0, len(byClient))
	for _, tc := range byClient {
		ranked = append(ranked, *tc)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RevenueCents != ranked[j].RevenueCents {
			return ranked[i].RevenueCents > ranked[j].RevenueCents
		}
		return ranked[i].ClientID < ranked[j].ClientID
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
