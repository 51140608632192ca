// Package dedup decides which of several candidate payment records represent
// the same logical money movement, and which single record survives.
//
// The provider can report one transaction as a charge, a payment intent, and
// an invoice, each under its own id. Collision detection works on canonical
// dedup keys (see the stripeids package); the winner is chosen by object kind
// priority and then recency. Only successful payments are deduplicated:
// failed attempts each represent a distinct retry and are always kept.
package dedup

import (
	"sort"

	"bursar/internal/stripeids"
	"bursar/pkg/models"
)

// kindRank orders payment object kinds by how authoritative they are for a
// money movement. Lower is better.
func kindRank(kind models.ObjectKind) int {
	switch kind {
	case models.KindCharge:
		return 0
	case models.KindPaymentIntent:
		return 1
	case models.KindInvoice:
		return 2
	default:
		return 3
	}
}

// Outranks reports whether kind a takes precedence over kind b when two
// records collide.
func Outranks(a, b models.ObjectKind) bool {
	return kindRank(a) < kindRank(b)
}

// Collides reports whether two payment records describe the same logical
// transaction. The rule only applies to succeeded payments; callers must not
// use it for failed attempts.
func Collides(a, b *models.Payment) bool {
	if stripeids.SameObject(a.StripeID, b.StripeID) {
		return true
	}

	// Same subscription and same invoice, compared on canonical keys.
	if a.SubscriptionID != "" && b.SubscriptionID != "" &&
		a.InvoiceID != "" && b.InvoiceID != "" &&
		stripeids.SameObject(a.SubscriptionID, b.SubscriptionID) &&
		stripeids.SameObject(a.InvoiceID, b.InvoiceID) {
		return true
	}

	// Same invoice with no subscription mismatch. Covers a standalone
	// invoice record colliding with the charge that settled it.
	if a.InvoiceID != "" && b.InvoiceID != "" &&
		stripeids.SameObject(a.InvoiceID, b.InvoiceID) {
		if a.SubscriptionID != "" && b.SubscriptionID != "" &&
			!stripeids.SameObject(a.SubscriptionID, b.SubscriptionID) {
			return false
		}
		return true
	}

	return false
}

// Resolve deduplicates a batch of payments for one tenant. Succeeded payments
// that collide are reduced to a single winner (highest kind priority, then
// most recent CreatedAt); every non-succeeded payment passes through
// untouched. The returned slice preserves winner order; suppressed is the
// number of records dropped.
func Resolve(payments []models.Payment) (winners []models.Payment, suppressed int) {
	var succeeded []models.Payment
	for _, p := range payments {
		if p.Status == models.PaymentSucceeded {
			succeeded = append(succeeded, p)
		} else {
			winners = append(winners, p)
		}
	}

	// Winners are decided in priority order so the first record seen for a
	// logical transaction is always the one to keep.
	sort.SliceStable(succeeded, func(i, j int) bool {
		ri, rj := kindRank(succeeded[i].ObjectKind), kindRank(succeeded[j].ObjectKind)
		if ri != rj {
			return ri < rj
		}
		return succeeded[i].CreatedAt.After(succeeded[j].CreatedAt)
	})

	var kept []models.Payment
	for i := range succeeded {
		dup := false
		for j := range kept {
			if Collides(&succeeded[i], &kept[j]) {
				dup = true
				break
			}
		}
		if dup {
			suppressed++
			continue
		}
		kept = append(kept, succeeded[i])
	}

	winners = append(winners, kept...)
	return winners, suppressed
}

// SumSucceeded totals the deduplicated succeeded payments in a batch.
// Refunded payments never contribute.
func SumSucceeded(payments []models.Payment) int64 {
	winners, _ := Resolve(payments)
	var total int64
	for _, p := range winners {
		if p.Status == models.PaymentSucceeded {
			total += p.AmountCents
		}
	}
	return total
}
