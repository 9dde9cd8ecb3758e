package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"frameworks/api_payments/internal/models"
)

const decisionColumns = `id, seq, agent, entity_id, entity_type, trigger, payload, decision, explanation, created_at`

// InsertDecision appends e and fills in its id, sequence and timestamp.
func (s *Store) InsertDecision(ctx context.Context, e *models.DecisionLogEntry) error {
	payload := jsonOrEmpty(e.Payload)
	decision := jsonOrEmpty(e.Decision)
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO payments.decision_log (agent, entity_id, entity_type, trigger, payload, decision, explanation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, seq, created_at
	`, string(e.Agent), e.EntityID, e.EntityType, e.Trigger, payload, decision, e.Explanation,
	).Scan(&e.ID, &e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// DecisionFilter narrows QueryDecisions. Zero values match everything.
type DecisionFilter struct {
	Agent    models.Agent
	EntityID string
	Since    time.Time
	Limit    int
}

// QueryDecisions returns matching entries newest first.
func (s *Store) QueryDecisions(ctx context.Context, f DecisionFilter) ([]models.DecisionLogEntry, error) {
	var where []string
	var args []interface{}
	if f.Agent != "" {
		args = append(args, string(f.Agent))
		where = append(where, fmt.Sprintf("agent = $%d", len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT ` + decisionColumns + ` FROM payments.decision_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, seq DESC LIMIT $%d`, len(args))

	return s.queryDecisions(ctx, query, args...)
}

// DecisionsAfter returns entries with seq greater than after that were
// written before the cutoff, oldest first.
func (s *Store) DecisionsAfter(ctx context.Context, after int64, before time.Time, limit int) ([]models.DecisionLogEntry, error) {
	return s.queryDecisions(ctx, `SELECT `+decisionColumns+` FROM payments.decision_log
		WHERE seq > $1 AND created_at < $2 ORDER BY seq LIMIT $3`, after, before, limit)
}

func (s *Store) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]models.DecisionLogEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	entries := []models.DecisionLogEntry{}
	for rows.Next() {
		var e models.DecisionLogEntry
		var payload, decision []byte
		if err := rows.Scan(&e.ID, &e.Seq, &e.Agent, &e.EntityID, &e.EntityType, &e.Trigger, &payload, &decision,
			&e.Explanation, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		e.Payload = payload
		e.Decision = decision
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func jsonOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
