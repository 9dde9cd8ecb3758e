package lifecycle

import (
	"frameworks/api_payments/internal/models"
)

// Trigger is an event that may move a subscription between states.
type Trigger string

const (
	TriggerPaymentSuccess Trigger = "payment_success"
	TriggerPaymentFailed  Trigger = "payment_failed"
	TriggerUserCancel     Trigger = "user_cancel"
	TriggerTrialEnd       Trigger = "trial_end"
	TriggerPause          Trigger = "pause"

	// TriggerDunningExhausted replaces payment_failed when a cancel rule fires.
	TriggerDunningExhausted Trigger = "dunning_exhausted"
	TriggerPlanChange       Trigger = "plan_change"
)

// Valid reports whether t can be applied from outside.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerPaymentSuccess, TriggerPaymentFailed, TriggerUserCancel, TriggerTrialEnd, TriggerPause:
		return true
	}
	return false
}

// State is the part of a subscription transitions read and write.
type State struct {
	Status     models.SubscriptionStatus `json:"status"`
	RetryCount int                       `json:"dunningRetryCount"`
}

// Transition is the outcome of applying a trigger to a state.
type Transition struct {
	From    State   `json:"from"`
	To      State   `json:"to"`
	Trigger Trigger `json:"trigger"`
	// Rule is the dunning rule consumed by a payment failure, if any.
	Rule *DunningRule `json:"dunningRule,omitempty"`
}

// Next computes the transition for trigger from s. It reports false when
// the trigger leaves the state unchanged.
func Next(policy Policy, s State, trigger Trigger) (Transition, bool) {
	t := Transition{From: s, To: s, Trigger: trigger}
	if s.Status == models.StatusCanceled {
		return t, false
	}

	switch trigger {
	case TriggerPaymentSuccess:
		t.To = State{Status: models.StatusActive, RetryCount: 0}

	case TriggerPaymentFailed:
		if s.Status != models.StatusActive && s.Status != models.StatusPastDue {
			return t, false
		}
		rule, ok := policy.Lookup(s.RetryCount)
		switch {
		case ok && rule.Action == ActionCancel:
			t.To = State{Status: models.StatusCanceled, RetryCount: s.RetryCount + 1}
			t.Trigger = TriggerDunningExhausted
			t.Rule = &rule
		case ok:
			t.To = State{Status: models.StatusPastDue, RetryCount: s.RetryCount + 1}
			t.Rule = &rule
		case s.Status == models.StatusActive:
			t.To = State{Status: models.StatusPastDue, RetryCount: s.RetryCount + 1}
		default:
			// past_due with the ladder exhausted by retries only: stays put
		}

	case TriggerUserCancel:
		t.To.Status = models.StatusCanceled

	case TriggerTrialEnd:
		if s.Status == models.StatusTrial {
			t.To.Status = models.StatusActive
		}

	case TriggerPause:
		switch s.Status {
		case models.StatusTrial, models.StatusActive, models.StatusPastDue:
			t.To.Status = models.StatusPaused
		}
	}

	return t, t.To != t.From
}

// TriggerForGatewayStatus maps a gateway-reported subscription status to the
// trigger that reconciles current with it. past_due is left to invoice
// events so the dunning counter advances once per failure.
func TriggerForGatewayStatus(current models.SubscriptionStatus, gatewayStatus string) (Trigger, bool) {
	switch gatewayStatus {
	case "active":
		switch current {
		case models.StatusTrial:
			return TriggerTrialEnd, true
		case models.StatusActive:
			return "", false
		}
		return TriggerPaymentSuccess, true
	case "canceled", "incomplete_expired":
		return TriggerUserCancel, true
	case "paused":
		return TriggerPause, true
	}
	return "", false
}
