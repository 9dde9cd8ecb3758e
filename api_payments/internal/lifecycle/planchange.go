package lifecycle

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/billing"
)

// ChangeType is the direction of a plan change.
type ChangeType string

const (
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
)

// Proration describes the credit owed for the unused part of the period.
// It does not move money.
type Proration struct {
	ChangeType    ChangeType      `json:"changeType"`
	FromPlanID    string          `json:"fromPlanId"`
	NewPlanID     string          `json:"newPlanId"`
	RemainingDays int             `json:"remainingDays"`
	PeriodDays    int             `json:"periodDays"`
	UnusedCredit  decimal.Decimal `json:"unusedCredit"`
	Currency      string          `json:"currency"`
	ProrateCredit string          `json:"prorateCredit"`
	EffectiveAt   string          `json:"effectiveAt"`
}

// PlanChangeResult is returned by ChangePlan.
type PlanChangeResult struct {
	SubscriptionUpdated bool       `json:"subscriptionUpdated"`
	Proration           *Proration `json:"prorationApplied,omitempty"`
}

// CalculateProration computes the proration record for moving sub from
// current to newPlanID at now.
func CalculateProration(sub *models.Subscription, current *models.Plan, newPlanID string, changeType ChangeType, now time.Time) Proration {
	p := Proration{
		ChangeType: changeType,
		FromPlanID: current.ID,
		NewPlanID:  newPlanID,
		PeriodDays: current.PeriodDays(),
		Currency:   billing.NormalizeCurrency(current.Currency),
	}

	if sub.CurrentPeriodEnd != nil {
		remaining := sub.CurrentPeriodEnd.Sub(now).Hours() / 24
		p.RemainingDays = int(math.Round(math.Max(0, remaining)))
		if sub.CurrentPeriodStart != nil {
			if days := int(math.Round(sub.CurrentPeriodEnd.Sub(*sub.CurrentPeriodStart).Hours() / 24)); days > 0 {
				p.PeriodDays = days
			}
		}
	}
	if p.RemainingDays > p.PeriodDays {
		p.RemainingDays = p.PeriodDays
	}

	p.UnusedCredit = billing.Round(
		current.Price.Mul(decimal.NewFromInt(int64(p.RemainingDays))).Div(decimal.NewFromInt(int64(p.PeriodDays))),
		p.Currency,
	)

	if changeType == ChangeUpgrade {
		p.ProrateCredit = "applied_immediately"
		p.EffectiveAt = "immediate"
	} else {
		p.ProrateCredit = "at_period_end"
		p.EffectiveAt = "period_end"
	}
	return p
}

// ChangePlan moves an active subscription to newPlanID. Upgrades swap the
// plan now; downgrades are stored and swapped by the renewal sweep. Missing
// or non-active subscriptions report SubscriptionUpdated=false; an unknown
// new plan is a models.ErrNotFound error.
func (m *Manager) ChangePlan(ctx context.Context, subscriptionID, newPlanID string, changeType ChangeType) (PlanChangeResult, error) {
	if changeType != ChangeUpgrade && changeType != ChangeDowngrade {
		return PlanChangeResult{}, models.NewValidationError("changeType", "must be upgrade or downgrade")
	}

	var result PlanChangeResult
	err := m.store.InTx(ctx, func(tx *store.Store) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		newPlan, err := tx.GetPlan(ctx, newPlanID)
		if err != nil {
			return err
		}
		if sub.Status != models.StatusActive || sub.PlanID == newPlan.ID {
			return nil
		}

		current, err := tx.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		proration := CalculateProration(sub, current, newPlan.ID, changeType, m.now())
		ok, err := tx.ChangePlan(ctx, sub.ID, sub.PlanID, newPlan.ID, changeType == ChangeDowngrade)
		if err != nil || !ok {
			return err
		}

		if err := decisionlog.Bind(m.recorder, tx).Record(ctx, decisionlog.Entry{
			Agent:      models.AgentSLM,
			EntityID:   sub.ID,
			EntityType: "subscription",
			Trigger:    string(TriggerPlanChange),
			Payload: map[string]interface{}{
				"subscriptionId": sub.ID,
				"newPlanId":      newPlan.ID,
				"changeType":     changeType,
			},
			Decision:    map[string]interface{}{"prorationDetails": proration},
			Explanation: decisionlog.PlanChangeExplanation(string(changeType), current.ID, newPlan.ID, proration.EffectiveAt),
		}); err != nil {
			return err
		}

		result = PlanChangeResult{SubscriptionUpdated: true, Proration: &proration}
		return nil
	})
	if err != nil {
		return PlanChangeResult{}, err
	}
	return result, nil
}

// ApplyPendingPlan swaps in a downgrade stored by ChangePlan. It is a no-op
// when nothing is pending or another worker already applied it.
func (m *Manager) ApplyPendingPlan(ctx context.Context, sub *models.Subscription) (bool, error) {
	if sub.PendingPlanID == nil {
		return false, nil
	}
	pending := *sub.PendingPlanID

	var applied bool
	err := m.store.InTx(ctx, func(tx *store.Store) error {
		ok, err := tx.ApplyPendingPlan(ctx, sub.ID, pending)
		if err != nil || !ok {
			return err
		}
		applied = true
		return decisionlog.Bind(m.recorder, tx).Record(ctx, decisionlog.Entry{
			Agent:       models.AgentSLM,
			EntityID:    sub.ID,
			EntityType:  "subscription",
			Trigger:     string(TriggerPlanChange),
			Payload:     map[string]interface{}{"pendingPlanId": pending},
			Decision:    map[string]interface{}{"fromPlanId": sub.PlanID, "toPlanId": pending, "effectiveAt": "period_end"},
			Explanation: decisionlog.PendingPlanExplanation(sub.PlanID, pending),
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
