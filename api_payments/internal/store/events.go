package store

import (
	"context"
	"fmt"

	"frameworks/pkg/database"
)

// InsertProcessedEvent records (gateway, eventID). It reports false when the
// pair already exists.
func (s *Store) InsertProcessedEvent(ctx context.Context, gateway, eventID string) (bool, error) {
	var inserted string
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.processed_events (gateway, event_id)
		VALUES ($1, $2)
		ON CONFLICT (gateway, event_id) DO NOTHING
		RETURNING event_id
	`, gateway, eventID).Scan(&inserted)
	if isNoRows(err) || database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	return true, nil
}

// ClaimDunningNotice records that the reminder for (subscriptionID, retryCount)
// is being sent. It reports false when another worker already claimed it.
func (s *Store) ClaimDunningNotice(ctx context.Context, subscriptionID string, retryCount int, template string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO payments.dunning_notices (subscription_id, retry_count, template)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscription_id, retry_count) DO NOTHING
	`, subscriptionID, retryCount, template)
	if err != nil {
		return false, fmt.Errorf("failed to claim dunning notice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim dunning notice: %w", err)
	}
	return n == 1, nil
}
