package store

import (
	"context"
	"database/sql"
	"fmt"

	"frameworks/api_payments/internal/models"
)

// CreateUser inserts a user with the given email.
func (s *Store) CreateUser(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{Email: email}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.users (email)
		VALUES ($1)
		RETURNING id, created_at
	`, email).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var customer sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, gateway_customer_id, created_at
		FROM payments.users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &customer, &u.CreatedAt)
	if isNoRows(err) {
		return nil, models.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.GatewayCustomerID = nullString(customer)
	return &u, nil
}

// AssignGatewayCustomer sets the user's gateway customer id if none is set yet.
// It reports whether the row changed.
func (s *Store) AssignGatewayCustomer(ctx context.Context, userID, customerID string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE payments.users
		SET gateway_customer_id = $2, updated_at = NOW()
		WHERE id = $1 AND gateway_customer_id IS NULL
	`, userID, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to assign gateway customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to assign gateway customer: %w", err)
	}
	return n > 0, nil
}
