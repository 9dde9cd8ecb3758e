// Package idempotency admits each gateway event exactly once.
package idempotency

import (
	"context"
	"strings"

	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
)

// Gate records processed (gateway, event id) pairs. Bind it to the same
// transaction as the event's effects so a failed apply un-admits the event.
type Gate struct {
	store *store.Store
}

func New(s *store.Store) *Gate {
	return &Gate{store: s}
}

// Admit returns true the first time a pair is seen and false afterwards.
func (g *Gate) Admit(ctx context.Context, gateway, eventID string) (bool, error) {
	gateway = strings.TrimSpace(gateway)
	eventID = strings.TrimSpace(eventID)
	if gateway == "" {
		return false, models.NewValidationError("gateway", "required")
	}
	if eventID == "" {
		return false, models.NewValidationError("eventId", "required")
	}
	return g.store.InsertProcessedEvent(ctx, gateway, eventID)
}
