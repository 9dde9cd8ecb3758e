// Package decisionlog is the append-only audit trail of agent decisions.
//
// Agents only ever see the Recorder interface. Reading is reserved for
// operators (HTTP and CLI) and the Kafka relay.
package decisionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/logging"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// Entry is what an agent hands to the log.
type Entry struct {
	Agent       models.Agent
	EntityID    string
	EntityType  string
	Trigger     string
	Payload     interface{}
	Decision    interface{}
	Explanation string
}

// Recorder is the write-only view agents depend on.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Binder is implemented by recorders that can follow a caller into a transaction.
type Binder interface {
	Bind(s *store.Store) Recorder
}

// Bind returns r bound to s when r supports it, else r unchanged.
func Bind(r Recorder, s *store.Store) Recorder {
	if b, ok := r.(Binder); ok {
		return b.Bind(s)
	}
	return r
}

// Filter narrows Query.
type Filter struct {
	Agent    models.Agent
	EntityID string
	Since    time.Time
	Limit    int
}

// Log persists entries in payments.decision_log.
type Log struct {
	store  *store.Store
	logger logging.Logger
}

func New(s *store.Store, logger logging.Logger) *Log {
	return &Log{store: s, logger: logger}
}

// Bind returns a Log writing through s, typically a transaction-bound store.
func (l *Log) Bind(s *store.Store) Recorder {
	return &Log{store: s, logger: l.logger}
}

// Record appends one entry. The timestamp is assigned by the database.
// Inside a transaction the entry may still roll back, so it is only logged
// at debug level; the committed row is what the relay publishes.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if !e.Agent.Valid() {
		return fmt.Errorf("unknown agent %q", e.Agent)
	}
	payload, err := marshalObject(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode decision payload: %w", err)
	}
	decision, err := marshalObject(e.Decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	row := &models.DecisionLogEntry{
		Agent:       e.Agent,
		EntityID:    e.EntityID,
		EntityType:  e.EntityType,
		Trigger:     e.Trigger,
		Payload:     payload,
		Decision:    decision,
		Explanation: e.Explanation,
	}
	if err := l.store.InsertDecision(ctx, row); err != nil {
		return err
	}

	log := l.logger.WithFields(logging.Fields{
		"agent":       e.Agent,
		"entity_id":   e.EntityID,
		"entity_type": e.EntityType,
		"trigger":     e.Trigger,
		"decision_id": row.ID,
	})
	if l.store.Transactional() {
		log.Debug(e.Explanation)
	} else {
		log.Info(e.Explanation)
	}
	return nil
}

// Query returns entries newest first.
func (l *Log) Query(ctx context.Context, f Filter) ([]models.DecisionLogEntry, error) {
	if f.Agent != "" && !f.Agent.Valid() {
		return nil, models.NewValidationError("agent", "must be one of SLM, PGO, CPR, FDR")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	return l.store.QueryDecisions(ctx, store.DecisionFilter{
		Agent:    f.Agent,
		EntityID: f.EntityID,
		Since:    f.Since,
		Limit:    limit,
	})
}

func marshalObject(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
