package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"frameworks/api_payments/internal/models"
)

const subscriptionColumns = `id, user_id, plan_id, pending_plan_id, status, current_period_start, current_period_end,
	trial_end, external_subscription_id, external_customer_id, cancel_at_period_end, dunning_retry_count,
	metadata, created_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var pendingPlan, extSub, extCustomer sql.NullString
	var periodStart, periodEnd, trialEnd sql.NullTime
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &pendingPlan, &sub.Status, &periodStart, &periodEnd,
		&trialEnd, &extSub, &extCustomer, &sub.CancelAtPeriodEnd, &sub.DunningRetryCount,
		&sub.Metadata, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.PendingPlanID = nullString(pendingPlan)
	sub.ExternalSubscriptionID = nullString(extSub)
	sub.ExternalCustomerID = nullString(extCustomer)
	sub.CurrentPeriodStart = nullTime(periodStart)
	sub.CurrentPeriodEnd = nullTime(periodEnd)
	sub.TrialEnd = nullTime(trialEnd)
	return &sub, nil
}

// CreateSubscription inserts sub unless a row with the same external
// subscription id exists. It reports whether a new row was written; in both
// cases sub is populated from the persisted row.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.subscriptions (
			user_id, plan_id, status, current_period_start, current_period_end, trial_end,
			external_subscription_id, external_customer_id, cancel_at_period_end, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_subscription_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`, sub.UserID, sub.PlanID, string(sub.Status), timeArg(sub.CurrentPeriodStart), timeArg(sub.CurrentPeriodEnd),
		timeArg(sub.TrialEnd), stringArg(sub.ExternalSubscriptionID), stringArg(sub.ExternalCustomerID),
		sub.CancelAtPeriodEnd, sub.Metadata,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !isNoRows(err) {
		return false, fmt.Errorf("failed to create subscription: %w", err)
	}
	existing, err := s.GetSubscriptionByExternalID(ctx, *sub.ExternalSubscriptionID)
	if err != nil {
		return false, err
	}
	*sub = *existing
	return false, nil
}

// GetSubscription returns a subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM payments.subscriptions WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, models.NotFound("subscription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByExternalID returns the subscription mirrored from a gateway subscription.
func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM payments.subscriptions WHERE external_subscription_id = $1`, externalID))
	if isNoRows(err) {
		return nil, models.NotFound("subscription", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription by external id: %w", err)
	}
	return sub, nil
}

// SubscriptionFilter narrows ListSubscriptions.
type SubscriptionFilter struct {
	UserID string
	Status models.SubscriptionStatus
	Limit  int
	Offset int
}

// ListSubscriptions returns subscriptions newest first.
func (s *Store) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	var where []string
	var args []interface{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + subscriptionColumns + ` FROM payments.subscriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// TransitionSubscription moves a subscription to (status, retryCount) only if it
// is still in (fromStatus, fromRetry). It reports whether the row changed.
func (s *Store) TransitionSubscription(ctx context.Context, id string, fromStatus models.SubscriptionStatus, fromRetry int, status models.SubscriptionStatus, retryCount int) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE payments.subscriptions
		SET status = $4, dunning_retry_count = $5, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND dunning_retry_count = $3
	`, id, string(fromStatus), fromRetry, string(status), retryCount)
	if err != nil {
		return false, fmt.Errorf("failed to transition subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to transition subscription: %w", err)
	}
	return n == 1, nil
}

// ChangePlan swaps the plan now (pending=false) or records it for the next
// period (pending=true). The update only applies while the subscription is
// still active on fromPlanID.
func (s *Store) ChangePlan(ctx context.Context, id, fromPlanID, newPlanID string, pending bool) (bool, error) {
	query := `
		UPDATE payments.subscriptions
		SET plan_id = $3, pending_plan_id = NULL, updated_at = NOW()
		WHERE id = $1 AND plan_id = $2 AND status = 'active'
	`
	if pending {
		query = `
		UPDATE payments.subscriptions
		SET pending_plan_id = $3, updated_at = NOW()
		WHERE id = $1 AND plan_id = $2 AND status = 'active'
	`
	}
	res, err := s.q.ExecContext(ctx, query, id, fromPlanID, newPlanID)
	if err != nil {
		return false, fmt.Errorf("failed to change plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to change plan: %w", err)
	}
	return n == 1, nil
}

// ApplyPendingPlan makes the scheduled plan current.
func (s *Store) ApplyPendingPlan(ctx context.Context, id, pendingPlanID string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE payments.subscriptions
		SET plan_id = pending_plan_id, pending_plan_id = NULL, updated_at = NOW()
		WHERE id = $1 AND pending_plan_id = $2
	`, id, pendingPlanID)
	if err != nil {
		return false, fmt.Errorf("failed to apply pending plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to apply pending plan: %w", err)
	}
	return n == 1, nil
}

// PeriodUpdate carries gateway-reported billing period fields.
type PeriodUpdate struct {
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
}

// SyncPeriod records period bounds without touching status.
func (s *Store) SyncPeriod(ctx context.Context, id string, p PeriodUpdate) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE payments.subscriptions
		SET current_period_start = COALESCE($2, current_period_start),
			current_period_end = COALESCE($3, current_period_end),
			trial_end = COALESCE($4, trial_end),
			cancel_at_period_end = $5,
			updated_at = NOW()
		WHERE id = $1
	`, id, timeArg(p.PeriodStart), timeArg(p.PeriodEnd), timeArg(p.TrialEnd), p.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to sync subscription period: %w", err)
	}
	return nil
}

// ListRenewalDue returns subscriptions the renewal sweep has work for:
// trials past their end, cancellations scheduled for a finished period and
// downgrades waiting for the period boundary.
func (s *Store) ListRenewalDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM payments.subscriptions
		WHERE status <> 'canceled' AND (
			(status = 'trial' AND trial_end IS NOT NULL AND trial_end <= $1)
			OR (cancel_at_period_end AND current_period_end IS NOT NULL AND current_period_end <= $1)
			OR (pending_plan_id IS NOT NULL AND current_period_end IS NOT NULL AND current_period_end <= $1)
		)
		ORDER BY updated_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewal candidates: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
