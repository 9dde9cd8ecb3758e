package decisionlog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SubscriptionExplanation renders the SLM explanation for a state change.
func SubscriptionExplanation(from, to, trigger string) string {
	switch trigger {
	case "dunning_exhausted":
		return "Subscription moved to canceled: dunning retries exhausted after payment failures."
	case "payment_failed":
		if from == to {
			return "Subscription remains past_due after invoice.payment_failed; dunning rule advanced."
		}
		return "Subscription moved to past_due due to invoice.payment_failed; dunning rule scheduled."
	case "payment_success":
		return "Subscription moved to active due to successful renewal payment."
	}
	return fmt.Sprintf("Subscription moved from %s to %s due to %s.", from, to, trigger)
}

// PlanChangeExplanation renders the SLM explanation for an upgrade or downgrade.
func PlanChangeExplanation(changeType, fromPlan, toPlan string, effectiveAt string) string {
	if effectiveAt == "immediate" {
		return fmt.Sprintf("Plan %s from %s to %s applied immediately; proration credited now.", changeType, fromPlan, toPlan)
	}
	return fmt.Sprintf("Plan %s from %s to %s scheduled for period end; proration applied at period end.", changeType, fromPlan, toPlan)
}

// RoutingExplanation renders the PGO explanation for a terminal charge outcome.
func RoutingExplanation(success bool, gateway, reason string, failedGateways []string) string {
	if success {
		if len(failedGateways) > 0 {
			return fmt.Sprintf("Transaction routed to %s after fallback from %s. %s", gateway, strings.Join(failedGateways, ", "), reason)
		}
		return fmt.Sprintf("Transaction routed to %s. %s", gateway, reason)
	}
	attempted := "none"
	if len(failedGateways) > 0 {
		attempted = strings.Join(failedGateways, ", ")
	}
	return fmt.Sprintf("Transaction failed. Gateways attempted: %s", attempted)
}

// PayoutExplanation renders the CPR arithmetic.
func PayoutExplanation(gross, fee, feePercent, net decimal.Decimal) string {
	return fmt.Sprintf("Creator payout: gross %s - platform fee %s (%s%%) = net %s",
		gross.StringFixed(2), fee.StringFixed(2), feePercent.String(), net.StringFixed(2))
}

// FraudExplanation renders the FDR summary for an action.
func FraudExplanation(score int, action string, blockThreshold int, evidence []string) string {
	switch action {
	case "block":
		return fmt.Sprintf("Transaction blocked: risk score %d (threshold %d). Rules: %s", score, blockThreshold, strings.Join(evidence, "; "))
	case "review":
		return fmt.Sprintf("Transaction flagged for review: risk score %d. Rules: %s", score, strings.Join(evidence, "; "))
	}
	return fmt.Sprintf("Transaction approved: risk score %d below threshold.", score)
}

// SubscriptionCreatedExplanation renders the SLM explanation for checkout completion.
func SubscriptionCreatedExplanation(status, planID string) string {
	return fmt.Sprintf("Subscription created in %s on plan %s after checkout completed.", status, planID)
}

// PendingPlanExplanation renders the SLM explanation for a deferred downgrade taking effect.
func PendingPlanExplanation(fromPlan, toPlan string) string {
	return fmt.Sprintf("Scheduled plan change from %s to %s applied at period end.", fromPlan, toPlan)
}
