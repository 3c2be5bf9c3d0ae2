package database

import (
	"context"
	"fmt"
	"time"

	"zapis/internal/models"
)

// RecordPaymentEvent appends a provider event to the audit log and returns how
// many times that event id has been received.
func (db *DB) RecordPaymentEvent(ctx context.Context, ev *models.ProviderEvent, outcome string) (int, error) {
	now := time.Now().UTC()
	query := `INSERT INTO payment_events (event_id, event_type, intent_id, booking_id, outcome,
                  received_count, first_seen_at, last_seen_at)
              VALUES (?, ?, ?, ?, ?, 1, ?, ?)
              ON CONFLICT(event_id) DO UPDATE SET
                  received_count = payment_events.received_count + 1,
                  outcome = excluded.outcome,
                  last_seen_at = excluded.last_seen_at
              RETURNING received_count`
	var count int
	err := db.QueryRowContext(ctx, query, ev.ID, ev.Type, ev.IntentID, ev.BookingID, outcome, now, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to record payment event: %w", err)
	}
	return count, nil
}
