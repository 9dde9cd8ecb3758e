// Package lifecycle is the subscription state machine and its persistence.
//
// Transitions are persisted with a conditional update on (status, dunning
// retry count). When a concurrent writer wins, the manager re-reads the row
// and derives the transition again from the new state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/logging"
)

const defaultMaxAttempts = 3

// ErrConflict is returned when every attempt lost to a concurrent writer.
var ErrConflict = errors.New("subscription changed concurrently")

// Event identifies a subscription by internal or external id.
type Event struct {
	Trigger                Trigger
	SubscriptionID         string
	ExternalSubscriptionID string
	// Source names what raised the event, e.g. a webhook event id.
	Source string
}

// DunningNotice is a reminder the caller should schedule once the
// transition is committed.
type DunningNotice struct {
	SubscriptionID string    `json:"subscriptionId"`
	UserID         string    `json:"userId"`
	RetryCount     int       `json:"retryCount"`
	Template       string    `json:"template"`
	RunAt          time.Time `json:"runAt"`
}

// Result of applying an event.
type Result struct {
	Updated      bool
	Subscription *models.Subscription
	Transition   *Transition
	Dunning      *DunningNotice
}

// Manager applies triggers to persisted subscriptions.
type Manager struct {
	store       *store.Store
	recorder    decisionlog.Recorder
	policy      Policy
	now         func() time.Time
	maxAttempts int
	logger      logging.Logger
}

func NewManager(s *store.Store, recorder decisionlog.Recorder, policy Policy, logger logging.Logger) *Manager {
	if policy == nil {
		policy = DefaultDunningRules()
	}
	return &Manager{
		store:       s,
		recorder:    recorder,
		policy:      policy,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
	}
}

// Bind returns a manager whose writes go through s, typically a store bound
// to the caller's transaction.
func (m *Manager) Bind(s *store.Store) *Manager {
	bound := *m
	bound.store = s
	bound.recorder = decisionlog.Bind(m.recorder, s)
	return &bound
}

// Apply runs ev against the persisted subscription. A trigger that leaves
// the state unchanged writes nothing. An unknown subscription is a
// models.ErrNotFound error.
func (m *Manager) Apply(ctx context.Context, ev Event) (Result, error) {
	if !ev.Trigger.Valid() {
		return Result{}, models.NewValidationError("trigger", fmt.Sprintf("unknown trigger %q", ev.Trigger))
	}
	if ev.SubscriptionID == "" && ev.ExternalSubscriptionID == "" {
		return Result{}, models.NewValidationError("subscriptionId", "subscription id is required")
	}

	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		var (
			result Result
			lost   bool
		)
		err := m.store.InTx(ctx, func(tx *store.Store) error {
			sub, err := m.load(ctx, tx, ev)
			if err != nil {
				return err
			}
			result.Subscription = sub

			tr, changed := Next(m.policy, State{Status: sub.Status, RetryCount: sub.DunningRetryCount}, ev.Trigger)
			if !changed {
				return nil
			}

			ok, err := tx.TransitionSubscription(ctx, sub.ID, tr.From.Status, tr.From.RetryCount, tr.To.Status, tr.To.RetryCount)
			if err != nil {
				return err
			}
			if !ok {
				lost = true
				return nil
			}

			if err := m.recordTransition(ctx, tx, sub, ev, tr); err != nil {
				return err
			}

			sub.Status = tr.To.Status
			sub.DunningRetryCount = tr.To.RetryCount
			result.Updated = true
			result.Transition = &tr
			if tr.Rule != nil && tr.To.Status == models.StatusPastDue {
				result.Dunning = &DunningNotice{
					SubscriptionID: sub.ID,
					UserID:         sub.UserID,
					RetryCount:     tr.To.RetryCount,
					Template:       tr.Rule.Template,
					RunAt:          m.now().AddDate(0, 0, tr.Rule.RetryDay),
				}
			}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		if !lost {
			return result, nil
		}

		m.logger.WithFields(logging.Fields{
			"subscription_id": result.Subscription.ID,
			"trigger":         ev.Trigger,
			"attempt":         attempt + 1,
		}).Info("Subscription changed concurrently, re-deriving transition")
	}

	return Result{}, fmt.Errorf("failed to apply %s: %w", ev.Trigger, ErrConflict)
}

func (m *Manager) load(ctx context.Context, s *store.Store, ev Event) (*models.Subscription, error) {
	if ev.SubscriptionID != "" {
		return s.GetSubscription(ctx, ev.SubscriptionID)
	}
	return s.GetSubscriptionByExternalID(ctx, ev.ExternalSubscriptionID)
}

func (m *Manager) recordTransition(ctx context.Context, s *store.Store, sub *models.Subscription, ev Event, tr Transition) error {
	return decisionlog.Bind(m.recorder, s).Record(ctx, decisionlog.Entry{
		Agent:      models.AgentSLM,
		EntityID:   sub.ID,
		EntityType: "subscription",
		Trigger:    string(tr.Trigger),
		Payload: map[string]interface{}{
			"trigger": ev.Trigger,
			"source":  ev.Source,
		},
		Decision: map[string]interface{}{
			"subscriptionId":    sub.ID,
			"userId":            sub.UserID,
			"fromState":         tr.From.Status,
			"toState":           tr.To.Status,
			"trigger":           tr.Trigger,
			"dunningRetryCount": tr.To.RetryCount,
			"dunningRule":       tr.Rule,
		},
		Explanation: decisionlog.SubscriptionExplanation(string(tr.From.Status), string(tr.To.Status), string(tr.Trigger)),
	})
}

// Create persists a subscription from checkout completion. Replays of the
// same external subscription return the existing row and log nothing.
func (m *Manager) Create(ctx context.Context, sub *models.Subscription) (bool, error) {
	if !sub.Status.Valid() {
		return false, models.NewValidationError("status", fmt.Sprintf("unknown status %q", sub.Status))
	}
	if sub.ExternalSubscriptionID == nil || *sub.ExternalSubscriptionID == "" {
		return false, models.NewValidationError("externalSubscriptionId", "external subscription id is required")
	}

	var created bool
	err := m.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		created, err = tx.CreateSubscription(ctx, sub)
		if err != nil || !created {
			return err
		}
		return decisionlog.Bind(m.recorder, tx).Record(ctx, decisionlog.Entry{
			Agent:      models.AgentSLM,
			EntityID:   sub.ID,
			EntityType: "subscription",
			Trigger:    "checkout_completed",
			Payload: map[string]interface{}{
				"planId":                 sub.PlanID,
				"externalSubscriptionId": *sub.ExternalSubscriptionID,
			},
			Decision: map[string]interface{}{
				"subscriptionId": sub.ID,
				"userId":         sub.UserID,
				"toState":        sub.Status,
			},
			Explanation: decisionlog.SubscriptionCreatedExplanation(string(sub.Status), sub.PlanID),
		})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SyncPeriod records gateway-reported period bounds. Status is untouched.
func (m *Manager) SyncPeriod(ctx context.Context, subscriptionID string, p store.PeriodUpdate) error {
	return m.store.SyncPeriod(ctx, subscriptionID, p)
}
