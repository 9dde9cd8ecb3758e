package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"frameworks/api_payments/internal/models"
)

const payoutColumns = `id, creator_id, amount, currency, status, period_start, period_end, gross_earnings,
	platform_fee, external_payout_id, failure_reason, created_at`

func scanPayout(row interface{ Scan(...interface{}) error }) (*models.PayoutRecord, error) {
	var p models.PayoutRecord
	var external, reason sql.NullString
	if err := row.Scan(&p.ID, &p.CreatorID, &p.Amount, &p.Currency, &p.Status, &p.PeriodStart, &p.PeriodEnd,
		&p.GrossEarnings, &p.PlatformFee, &external, &reason, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ExternalPayoutID = nullString(external)
	p.FailureReason = nullString(reason)
	return &p, nil
}

// HasOverlappingPayout reports whether the creator already has a payout
// record whose period intersects [start, end).
func (s *Store) HasOverlappingPayout(ctx context.Context, creatorID string, start, end time.Time) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payments.payout_records
			WHERE creator_id = $1 AND tstzrange(period_start, period_end) && tstzrange($2, $3)
		)
	`, creatorID, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check payout overlap: %w", err)
	}
	return exists, nil
}

// InsertPayout writes p. A concurrent overlapping insert surfaces as a
// Postgres exclusion violation (see database.IsExclusionViolation).
func (s *Store) InsertPayout(ctx context.Context, p *models.PayoutRecord) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.payout_records (
			creator_id, amount, currency, status, period_start, period_end, gross_earnings, platform_fee
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, p.CreatorID, p.Amount, p.Currency, string(p.Status), p.PeriodStart, p.PeriodEnd, p.GrossEarnings,
		p.PlatformFee).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payout record: %w", err)
	}
	return nil
}

// PendingPayout is a payout record joined with the payee it should reach.
type PendingPayout struct {
	models.PayoutRecord
	PayeeReference string
}

// ListPendingPayouts returns pending payouts whose creator has a payee reference, oldest first.
func (s *Store) ListPendingPayouts(ctx context.Context, limit int) ([]PendingPayout, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.id, p.creator_id, p.amount, p.currency, p.status, p.period_start, p.period_end, p.gross_earnings,
			p.platform_fee, p.external_payout_id, p.failure_reason, p.created_at, c.payee_reference
		FROM payments.payout_records p
		JOIN payments.creators c ON c.id = p.creator_id
		WHERE p.status = 'pending' AND c.payee_reference IS NOT NULL AND c.payee_reference <> ''
		ORDER BY p.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payouts: %w", err)
	}
	defer rows.Close()

	payouts := []PendingPayout{}
	for rows.Next() {
		var pp PendingPayout
		var external, reason sql.NullString
		p := &pp.PayoutRecord
		if err := rows.Scan(&p.ID, &p.CreatorID, &p.Amount, &p.Currency, &p.Status, &p.PeriodStart, &p.PeriodEnd,
			&p.GrossEarnings, &p.PlatformFee, &external, &reason, &p.CreatedAt, &pp.PayeeReference); err != nil {
			return nil, fmt.Errorf("failed to scan pending payout: %w", err)
		}
		p.ExternalPayoutID = nullString(external)
		p.FailureReason = nullString(reason)
		payouts = append(payouts, pp)
	}
	return payouts, rows.Err()
}

// MarkPayoutInitiated moves a pending payout to initiated.
func (s *Store) MarkPayoutInitiated(ctx context.Context, id, externalID string) (bool, error) {
	return s.updatePayoutStatus(ctx, `
		UPDATE payments.payout_records
		SET status = 'initiated', external_payout_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, externalID)
}

// MarkPayoutFailed moves a pending payout to failed.
func (s *Store) MarkPayoutFailed(ctx context.Context, id, reason string) (bool, error) {
	return s.updatePayoutStatus(ctx, `
		UPDATE payments.payout_records
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
}

func (s *Store) updatePayoutStatus(ctx context.Context, query, id, value string) (bool, error) {
	res, err := s.q.ExecContext(ctx, query, id, value)
	if err != nil {
		return false, fmt.Errorf("failed to update payout status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update payout status: %w", err)
	}
	return n == 1, nil
}

// GetPayout returns a payout record by id.
func (s *Store) GetPayout(ctx context.Context, id string) (*models.PayoutRecord, error) {
	p, err := scanPayout(s.q.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payments.payout_records WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, models.NotFound("payout", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}
