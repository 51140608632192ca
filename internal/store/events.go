package store

import (
	"context"
)

// WebhookSeen reports whether a provider event was already processed.
// Used for webhook idempotency; providers redeliver events at least once.
func (r *Repository) WebhookSeen(ctx context.Context, provider, eventID string) bool {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bursar.webhook_events WHERE provider = $1 AND event_id = $2)`,
		provider, eventID).Scan(&exists)
	return err == nil && exists
}

// MarkWebhookProcessed records a processed provider event. Best effort: a
// failure here only risks reprocessing, and every write path is idempotent.
func (r *Repository) MarkWebhookProcessed(ctx context.Context, provider, eventID, eventType string) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bursar.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, eventType)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}
