package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStats aggregates subscription churn and renewal outcomes.
type SubscriptionStats struct {
	Total            int64
	Canceled         int64
	RenewalSucceeded int64
	RenewalFailed    int64
}

// SubscriptionStats counts subscriptions touched since the cutoff and
// subscription-linked transactions created since then.
func (s *Store) SubscriptionStats(ctx context.Context, since time.Time) (SubscriptionStats, error) {
	var st SubscriptionStats
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'canceled')
		FROM payments.subscriptions
		WHERE updated_at >= $1
	`, since).Scan(&st.Total, &st.Canceled)
	if err != nil {
		return st, fmt.Errorf("failed to aggregate subscriptions: %w", err)
	}
	err = s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE t.status = 'succeeded'), COUNT(*) FILTER (WHERE t.status = 'failed')
		FROM payments.transactions t
		WHERE t.created_at >= $1 AND t.subscription_id IS NOT NULL AND `+currentTransaction+`
	`, since).Scan(&st.RenewalSucceeded, &st.RenewalFailed)
	if err != nil {
		return st, fmt.Errorf("failed to aggregate renewals: %w", err)
	}
	return st, nil
}

// GatewayStats is the per-gateway transaction outcome count.
type GatewayStats struct {
	Gateway   string
	Succeeded int64
	Total     int64
}

// GatewayStats groups transactions since the cutoff by gateway.
func (s *Store) GatewayStats(ctx context.Context, since time.Time) ([]GatewayStats, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.gateway, COUNT(*) FILTER (WHERE t.status = 'succeeded'), COUNT(*)
		FROM payments.transactions t
		WHERE t.created_at >= $1 AND `+currentTransaction+`
		GROUP BY t.gateway
		ORDER BY t.gateway
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate gateways: %w", err)
	}
	defer rows.Close()

	stats := []GatewayStats{}
	for rows.Next() {
		var g GatewayStats
		if err := rows.Scan(&g.Gateway, &g.Succeeded, &g.Total); err != nil {
			return nil, fmt.Errorf("failed to scan gateway stats: %w", err)
		}
		stats = append(stats, g)
	}
	return stats, rows.Err()
}

// PayoutStats aggregates payout records created since the cutoff.
// Disbursed counts payouts whose transfer was created; a created transfer has
// already moved the funds to the connected account.
type PayoutStats struct {
	Total       int64
	Disbursed   int64
	Failed      int64
	TotalAmount decimal.Decimal
}

// PayoutStats aggregates payout records created since the cutoff.
func (s *Store) PayoutStats(ctx context.Context, since time.Time) (PayoutStats, error) {
	var st PayoutStats
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status IN ('initiated', 'completed')),
			COUNT(*) FILTER (WHERE status = 'failed'), COALESCE(SUM(amount), 0)
		FROM payments.payout_records
		WHERE created_at >= $1
	`, since).Scan(&st.Total, &st.Disbursed, &st.Failed, &st.TotalAmount)
	if err != nil {
		return st, fmt.Errorf("failed to aggregate payouts: %w", err)
	}
	return st, nil
}

// RiskStats counts disputed and failed transactions since the cutoff.
type RiskStats struct {
	Total    int64
	Disputed int64
	Failed   int64
}

// RiskStats counts disputed and failed transactions since the cutoff.
func (s *Store) RiskStats(ctx context.Context, since time.Time) (RiskStats, error) {
	var st RiskStats
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE t.status = 'disputed'), COUNT(*) FILTER (WHERE t.status = 'failed')
		FROM payments.transactions t
		WHERE t.created_at >= $1 AND `+currentTransaction+`
	`, since).Scan(&st.Total, &st.Disputed, &st.Failed)
	if err != nil {
		return st, fmt.Errorf("failed to aggregate risk stats: %w", err)
	}
	return st, nil
}
