package lifecycle

import (
	"context"
	"errors"

	"frameworks/api_payments/internal/models"
)

// RenewalOutcome lists what Renew changed.
type RenewalOutcome struct {
	TrialEnded  bool
	Canceled    bool
	PlanApplied bool
}

// Changed reports whether Renew wrote anything.
func (o RenewalOutcome) Changed() bool {
	return o.TrialEnded || o.Canceled || o.PlanApplied
}

// Renew applies period-boundary work for one subscription, derived from its
// persisted state: ending trials, scheduled cancellations and deferred
// downgrades. Repeating it after success changes nothing.
func (m *Manager) Renew(ctx context.Context, subscriptionID string) (RenewalOutcome, error) {
	var out RenewalOutcome

	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return out, err
	}
	if sub.Status == models.StatusCanceled {
		return out, nil
	}
	now := m.now()
	periodOver := sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(now)

	if sub.CancelAtPeriodEnd && periodOver {
		res, err := m.Apply(ctx, Event{Trigger: TriggerUserCancel, SubscriptionID: sub.ID, Source: "renewal_sweep"})
		if err != nil {
			return out, err
		}
		out.Canceled = res.Updated
		return out, nil
	}

	if sub.Status == models.StatusTrial && sub.TrialEnd != nil && !sub.TrialEnd.After(now) {
		res, err := m.Apply(ctx, Event{Trigger: TriggerTrialEnd, SubscriptionID: sub.ID, Source: "renewal_sweep"})
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return out, err
		}
		out.TrialEnded = res.Updated
	}

	if sub.PendingPlanID != nil && periodOver {
		applied, err := m.ApplyPendingPlan(ctx, sub)
		if err != nil {
			return out, err
		}
		out.PlanApplied = applied
	}
	return out, nil
}
