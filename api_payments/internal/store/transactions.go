package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/models"
)

const transactionColumns = `id, user_id, subscription_id, amount, currency, status, gateway, gateway_txn_id,
	gateway_event_id, metadata, supersedes_id, created_at`

// currentTransaction restricts a query over payments.transactions t to rows
// no later row supersedes.
const currentTransaction = `NOT EXISTS (
	SELECT 1 FROM payments.transactions n WHERE n.supersedes_id = t.id
)`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*models.Transaction, error) {
	var t models.Transaction
	var subID, txnID, eventID, supersedesID sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &subID, &t.Amount, &t.Currency, &t.Status, &t.Gateway, &txnID,
		&eventID, &t.Metadata, &supersedesID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.SubscriptionID = nullString(subID)
	t.GatewayTxnID = nullString(txnID)
	t.GatewayEventID = nullString(eventID)
	t.SupersedesID = nullString(supersedesID)
	return &t, nil
}

// InsertTransaction writes t. Rows carrying a gateway event id are unique per
// gateway; a repeat insert is skipped and reported as false. A status change
// for an existing gateway transaction is a new row whose SupersedesID names
// the row it replaces.
func (s *Store) InsertTransaction(ctx context.Context, t *models.Transaction) (bool, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.transactions (
			user_id, subscription_id, amount, currency, status, gateway, gateway_txn_id, gateway_event_id, metadata,
			supersedes_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gateway, gateway_event_id) DO NOTHING
		RETURNING id, created_at
	`, t.UserID, stringArg(t.SubscriptionID), t.Amount, t.Currency, string(t.Status), t.Gateway,
		stringArg(t.GatewayTxnID), stringArg(t.GatewayEventID), t.Metadata, stringArg(t.SupersedesID),
	).Scan(&t.ID, &t.CreatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return true, nil
}

// LatestTransaction returns the current row for a gateway transaction, the
// one no other row supersedes.
func (s *Store) LatestTransaction(ctx context.Context, gateway, gatewayTxnID string) (*models.Transaction, error) {
	t, err := scanTransaction(s.q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payments.transactions t
		WHERE t.gateway = $1 AND t.gateway_txn_id = $2 AND `+currentTransaction+`
		ORDER BY t.created_at DESC
		LIMIT 1
	`, gateway, gatewayTxnID))
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns transactions newest first, optionally for one user.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payments.transactions
		WHERE ($1 = '' OR user_id::text = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// RecentTransactions returns a user's current transactions created at or
// after since, newest first. Superseded rows are left out.
func (s *Store) RecentTransactions(ctx context.Context, userID string, since time.Time) ([]models.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payments.transactions t
		WHERE t.user_id = $1 AND t.created_at >= $2 AND `+currentTransaction+`
		ORDER BY t.created_at DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// EarningLine is one settled transaction attributable to a creator, either
// directly (DirectCreatorID matches) or through a content assignment share.
type EarningLine struct {
	TransactionID   string
	Amount          decimal.Decimal
	DirectCreatorID string
	SharePercent    decimal.NullDecimal
}

// CreatorEarningLines returns succeeded transactions in [start, end] in
// currency that are tagged with the creator or with content assigned to them.
func (s *Store) CreatorEarningLines(ctx context.Context, creatorID string, start, end time.Time, currency string) ([]EarningLine, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.amount, COALESCE(t.metadata->>'creatorId', ''), a.share_percent
		FROM payments.transactions t
		LEFT JOIN payments.content_creator_assignments a
			ON a.content_id = t.metadata->>'contentId' AND a.creator_id = $1
		WHERE t.status = 'succeeded'
			AND `+currentTransaction+`
			AND t.created_at >= $2 AND t.created_at <= $3
			AND LOWER(t.currency) = $4
			AND (t.metadata->>'creatorId' = $1::text OR a.id IS NOT NULL)
		ORDER BY t.created_at
	`, creatorID, start, end, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load creator earnings: %w", err)
	}
	defer rows.Close()

	lines := []EarningLine{}
	for rows.Next() {
		var l EarningLine
		if err := rows.Scan(&l.TransactionID, &l.Amount, &l.DirectCreatorID, &l.SharePercent); err != nil {
			return nil, fmt.Errorf("failed to scan earning line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
