package store

import (
	"context"
	"database/sql"
	"fmt"

	"frameworks/api_payments/internal/models"
)

const planColumns = `id, name, price, currency, billing_interval, external_price_id, created_at`

func scanPlan(row interface{ Scan(...interface{}) error }) (*models.Plan, error) {
	var p models.Plan
	var priceID sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Interval, &priceID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ExternalPriceID = nullString(priceID)
	return &p, nil
}

// CreatePlan inserts p and fills in its id and creation time.
func (s *Store) CreatePlan(ctx context.Context, p *models.Plan) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.plans (name, price, currency, billing_interval, external_price_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, p.Name, p.Price, p.Currency, string(p.Interval), stringArg(p.ExternalPriceID)).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	p, err := scanPlan(s.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM payments.plans WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, models.NotFound("plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

// GetPlanByExternalPrice returns the plan mapped to a gateway price id.
func (s *Store) GetPlanByExternalPrice(ctx context.Context, priceID string) (*models.Plan, error) {
	p, err := scanPlan(s.q.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM payments.plans
		WHERE external_price_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, priceID))
	if isNoRows(err) {
		return nil, models.NotFound("plan with price", priceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan by price: %w", err)
	}
	return p, nil
}

// ListPlans returns every plan, oldest first.
func (s *Store) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+planColumns+` FROM payments.plans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []models.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}
