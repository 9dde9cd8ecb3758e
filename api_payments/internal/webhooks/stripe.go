package webhooks

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
)

// StripeSubscriptions fetches the subscription a checkout session created.
type StripeSubscriptions interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

func (p *Processor) processStripe(ctx context.Context, body []byte, signature string) Result {
	if err := VerifyStripeSignature(body, signature, p.cfg.StripeWebhookSecret, p.now(), p.cfg.Tolerance); err != nil {
		p.logger.WithError(err).Warn("Stripe webhook signature verification failed")
		return Result{Status: http.StatusBadRequest, Outcome: OutcomeRejected, Error: "Invalid signature"}
	}

	event, err := stripeclient.ParseEvent(body)
	if err != nil {
		p.logger.WithError(err).Warn("Invalid Stripe webhook payload")
		return ok(OutcomeMalformed)
	}
	log := p.logger.WithFields(logging.Fields{
		"gateway":    "stripe",
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	switch event.Type {
	case "checkout.session.completed":
		return p.stripeCheckoutCompleted(ctx, event, log)
	case "customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		return p.stripeSubscriptionChanged(ctx, event, log)
	case "invoice.paid", "invoice.payment_failed":
		return p.stripeInvoice(ctx, event, log)
	default:
		log.Debug("Ignoring unhandled Stripe event type")
		return ok(OutcomeIgnored)
	}
}

func (p *Processor) stripeCheckoutCompleted(ctx context.Context, event *stripe.Event, log logging.Entry) Result {
	sess, err := stripeclient.CheckoutSessionFromEvent(event)
	if err != nil {
		log.WithError(err).Warn("Invalid checkout session payload")
		return ok(OutcomeMalformed)
	}
	userID := sess.Metadata["user_id"]
	planID := sess.Metadata["plan_id"]
	if sess.Subscription == nil || sess.Subscription.ID == "" || userID == "" || planID == "" {
		log.Info("Checkout session without subscription metadata ignored")
		return ok(OutcomeIgnored)
	}

	externalID := sess.Subscription.ID
	sub := &models.Subscription{
		UserID:                 userID,
		PlanID:                 planID,
		Status:                 models.StatusActive,
		ExternalSubscriptionID: &externalID,
		Metadata:               models.Metadata{"checkoutSessionId": sess.ID},
	}
	customerID := ""
	if sess.Customer != nil && sess.Customer.ID != "" {
		customerID = sess.Customer.ID
		sub.ExternalCustomerID = &customerID
	}

	if p.cfg.StripeSubscriptions != nil {
		var remote *stripe.Subscription
		err := p.fetch(ctx, func(ctx context.Context) error {
			var err error
			remote, err = p.cfg.StripeSubscriptions.GetSubscription(ctx, externalID)
			return err
		})
		if err != nil {
			log.WithError(err).Error("Failed to fetch checkout subscription")
			return Result{Status: http.StatusInternalServerError, Outcome: OutcomeFailed, Error: "Internal server error"}
		}
		info := stripeclient.ExtractSubscriptionInfo(remote)
		sub.Status = statusFromStripe(info.Status)
		sub.CurrentPeriodStart = info.CurrentPeriodStart
		sub.CurrentPeriodEnd = info.CurrentPeriodEnd
		sub.TrialEnd = info.TrialEnd
		sub.CancelAtPeriodEnd = info.CancelAtPeriodEnd
	}

	return p.apply(ctx, "stripe", event.ID, log, func(tx *store.Store, lm *lifecycle.Manager) (*lifecycle.DunningNotice, error) {
		if _, err := lm.Create(ctx, sub); err != nil {
			return nil, err
		}
		if customerID != "" {
			if _, err := tx.AssignGatewayCustomer(ctx, userID, customerID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

func (p *Processor) stripeSubscriptionChanged(ctx context.Context, event *stripe.Event, log logging.Entry) Result {
	remote, err := stripeclient.SubscriptionFromEvent(event)
	if err != nil {
		log.WithError(err).Warn("Invalid subscription payload")
		return ok(OutcomeMalformed)
	}
	info := stripeclient.ExtractSubscriptionInfo(remote)
	if info.SubscriptionID == "" {
		log.Warn("Subscription event without subscription id")
		return ok(OutcomeMalformed)
	}
	gatewayStatus := info.Status
	if event.Type == "customer.subscription.deleted" {
		gatewayStatus = string(stripe.SubscriptionStatusCanceled)
	}

	return p.apply(ctx, "stripe", event.ID, log, func(tx *store.Store, lm *lifecycle.Manager) (*lifecycle.DunningNotice, error) {
		sub, err := tx.GetSubscriptionByExternalID(ctx, info.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if trigger, changed := lifecycle.TriggerForGatewayStatus(sub.Status, gatewayStatus); changed {
			if _, err := lm.Apply(ctx, lifecycle.Event{Trigger: trigger, SubscriptionID: sub.ID, Source: event.ID}); err != nil {
				return nil, err
			}
		}
		return nil, lm.SyncPeriod(ctx, sub.ID, store.PeriodUpdate{
			PeriodStart:       info.CurrentPeriodStart,
			PeriodEnd:         info.CurrentPeriodEnd,
			TrialEnd:          info.TrialEnd,
			CancelAtPeriodEnd: info.CancelAtPeriodEnd,
		})
	})
}

func (p *Processor) stripeInvoice(ctx context.Context, event *stripe.Event, log logging.Entry) Result {
	inv, err := stripeclient.InvoiceFromEvent(event)
	if err != nil {
		log.WithError(err).Warn("Invalid invoice payload")
		return ok(OutcomeMalformed)
	}
	externalSub := stripeclient.InvoiceSubscriptionID(inv)
	if externalSub == "" {
		log.Debug("Invoice without subscription ignored")
		return ok(OutcomeIgnored)
	}

	paid := event.Type == "invoice.paid"
	currency := billing.NormalizeCurrency(string(inv.Currency))
	minor := inv.AmountDue
	status := models.TxnFailed
	trigger := lifecycle.TriggerPaymentFailed
	if paid {
		minor = inv.AmountPaid
		status = models.TxnSucceeded
		trigger = lifecycle.TriggerPaymentSuccess
	}
	invoiceID := inv.ID
	eventID := event.ID

	return p.apply(ctx, "stripe", event.ID, log, func(tx *store.Store, lm *lifecycle.Manager) (*lifecycle.DunningNotice, error) {
		sub, err := tx.GetSubscriptionByExternalID(ctx, externalSub)
		if err != nil {
			return nil, err
		}
		subID := sub.ID
		if _, err := tx.InsertTransaction(ctx, &models.Transaction{
			UserID:         sub.UserID,
			SubscriptionID: &subID,
			Amount:         billing.FromMinorUnits(minor, currency),
			Currency:       currency,
			Status:         status,
			Gateway:        "stripe",
			GatewayTxnID:   &invoiceID,
			GatewayEventID: &eventID,
			Metadata: models.Metadata{
				"invoiceId": invoiceID,
				"eventType": string(event.Type),
			},
		}); err != nil {
			return nil, err
		}
		res, err := lm.Apply(ctx, lifecycle.Event{Trigger: trigger, SubscriptionID: sub.ID, Source: event.ID})
		if err != nil {
			return nil, err
		}
		return res.Dunning, nil
	})
}

func statusFromStripe(status string) models.SubscriptionStatus {
	switch stripe.SubscriptionStatus(status) {
	case stripe.SubscriptionStatusTrialing:
		return models.StatusTrial
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.StatusPastDue
	case stripe.SubscriptionStatusPaused:
		return models.StatusPaused
	case stripe.SubscriptionStatusCanceled:
		return models.StatusCanceled
	}
	return models.StatusActive
}
