package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/models"
)

const creatorColumns = `id, user_id, platform_fee_percent, payout_schedule, min_payout_amount, payee_reference,
	tax_metadata, created_at`

func scanCreator(row interface{ Scan(...interface{}) error }) (*models.Creator, error) {
	var c models.Creator
	var payee sql.NullString
	if err := row.Scan(&c.ID, &c.UserID, &c.PlatformFeePercent, &c.PayoutSchedule, &c.MinPayoutAmount, &payee,
		&c.TaxMetadata, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.PayeeReference = nullString(payee)
	return &c, nil
}

// CreateCreator onboards a creator.
func (s *Store) CreateCreator(ctx context.Context, c *models.Creator) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.creators (user_id, platform_fee_percent, payout_schedule, min_payout_amount, payee_reference, tax_metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, c.UserID, c.PlatformFeePercent, string(c.PayoutSchedule), c.MinPayoutAmount, stringArg(c.PayeeReference),
		c.TaxMetadata).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create creator: %w", err)
	}
	return nil
}

// GetCreator returns a creator by id.
func (s *Store) GetCreator(ctx context.Context, id string) (*models.Creator, error) {
	c, err := scanCreator(s.q.QueryRowContext(ctx, `SELECT `+creatorColumns+` FROM payments.creators WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, models.NotFound("creator", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get creator: %w", err)
	}
	return c, nil
}

// CreatorUpdate holds the admin-mutable creator fields; nil leaves a field unchanged.
type CreatorUpdate struct {
	PlatformFeePercent *decimal.Decimal
	MinPayoutAmount    *decimal.Decimal
	PayoutSchedule     *models.PayoutSchedule
	PayeeReference     *string
}

// UpdateCreator applies u and returns the updated creator.
func (s *Store) UpdateCreator(ctx context.Context, id string, u CreatorUpdate) (*models.Creator, error) {
	var fee, minimum, schedule interface{}
	if u.PlatformFeePercent != nil {
		fee = *u.PlatformFeePercent
	}
	if u.MinPayoutAmount != nil {
		minimum = *u.MinPayoutAmount
	}
	if u.PayoutSchedule != nil {
		schedule = string(*u.PayoutSchedule)
	}
	c, err := scanCreator(s.q.QueryRowContext(ctx, `
		UPDATE payments.creators
		SET platform_fee_percent = COALESCE($2, platform_fee_percent),
			min_payout_amount = COALESCE($3, min_payout_amount),
			payout_schedule = COALESCE($4, payout_schedule),
			payee_reference = COALESCE($5, payee_reference),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+creatorColumns, id, fee, minimum, schedule, stringArg(u.PayeeReference)))
	if isNoRows(err) {
		return nil, models.NotFound("creator", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update creator: %w", err)
	}
	return c, nil
}

// ListCreators returns the given creators, or all creators when ids is empty.
// Unknown ids are simply absent from the result.
func (s *Store) ListCreators(ctx context.Context, ids []string) ([]models.Creator, error) {
	var rows *sql.Rows
	var err error
	if len(ids) == 0 {
		rows, err = s.q.QueryContext(ctx, `SELECT `+creatorColumns+` FROM payments.creators ORDER BY created_at`)
	} else {
		rows, err = s.q.QueryContext(ctx, `SELECT `+creatorColumns+` FROM payments.creators WHERE id::text = ANY($1) ORDER BY created_at`, pq.Array(ids))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	defer rows.Close()

	creators := []models.Creator{}
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan creator: %w", err)
		}
		creators = append(creators, *c)
	}
	return creators, rows.Err()
}

// CreatorIDsBySchedule returns ids of creators paid on the given schedule.
func (s *Store) CreatorIDsBySchedule(ctx context.Context, schedule models.PayoutSchedule) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM payments.creators WHERE payout_schedule = $1 ORDER BY created_at`, string(schedule))
	if err != nil {
		return nil, fmt.Errorf("failed to list creators by schedule: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan creator id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateAssignment maps content to a creator.
func (s *Store) CreateAssignment(ctx context.Context, a *models.ContentCreatorAssignment) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.content_creator_assignments (content_id, content_type, creator_id, share_percent)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, a.ContentID, a.ContentType, a.CreatorID, a.SharePercent).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}
