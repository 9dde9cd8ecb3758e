package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"

	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/models"
	mollieclient "frameworks/api_payments/internal/mollie"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/logging"
)

// MolliePayments fetches the payment a notification refers to. Mollie
// notifications carry only the id.
type MolliePayments interface {
	GetPayment(ctx context.Context, paymentID string) (*mollie.Payment, error)
}

func (p *Processor) processMollie(ctx context.Context, body []byte, signature string) Result {
	if !mollieclient.VerifySignature(p.cfg.MollieWebhookSecret, body, signature) {
		p.logger.Warn("Mollie webhook signature verification failed")
		return Result{Status: http.StatusBadRequest, Outcome: OutcomeRejected, Error: "Invalid signature"}
	}

	paymentID := molliePaymentID(body)
	if paymentID == "" {
		p.logger.Warn("Mollie webhook payload missing id")
		return ok(OutcomeMalformed)
	}
	if p.cfg.MolliePayments == nil {
		p.logger.Error("Mollie webhook received but no Mollie client is configured")
		return Result{Status: http.StatusInternalServerError, Outcome: OutcomeFailed, Error: "Internal server error"}
	}

	var payment *mollie.Payment
	err := p.fetch(ctx, func(ctx context.Context) error {
		var err error
		payment, err = p.cfg.MolliePayments.GetPayment(ctx, paymentID)
		return err
	})
	if err != nil {
		p.logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to fetch Mollie payment")
		return Result{Status: http.StatusInternalServerError, Outcome: OutcomeFailed, Error: "Internal server error"}
	}

	status := strings.ToLower(payment.Status)
	eventID := mollieclient.EventID(payment.ID, status)
	log := p.logger.WithFields(logging.Fields{
		"gateway":    "mollie",
		"event_id":   eventID,
		"payment_id": payment.ID,
		"status":     status,
	})

	var (
		txnStatus models.TransactionStatus
		trigger   lifecycle.Trigger
	)
	switch status {
	case "paid":
		txnStatus, trigger = models.TxnSucceeded, lifecycle.TriggerPaymentSuccess
	case "failed", "expired", "canceled":
		txnStatus, trigger = models.TxnFailed, lifecycle.TriggerPaymentFailed
	default:
		log.Debug("Ignoring non-final Mollie payment status")
		return ok(OutcomeIgnored)
	}

	amount, currency, err := mollieclient.ParseAmount(payment.Amount)
	if err != nil {
		log.WithError(err).Warn("Mollie payment has no usable amount")
		return ok(OutcomeMalformed)
	}
	subscriptionID := metadataValue(payment.Metadata, "subscription_id", "subscriptionId")
	userID := metadataValue(payment.Metadata, "user_id", "userId")

	return p.apply(ctx, "mollie", eventID, log, func(tx *store.Store, lm *lifecycle.Manager) (*lifecycle.DunningNotice, error) {
		var sub *models.Subscription
		if subscriptionID != "" {
			found, err := tx.GetSubscription(ctx, subscriptionID)
			switch {
			case errors.Is(err, models.ErrNotFound):
				log.WithField("subscription_id", subscriptionID).Warn("Mollie payment references unknown subscription")
			case err != nil:
				return nil, err
			default:
				sub = found
			}
		}
		prior, err := tx.LatestTransaction(ctx, "mollie", payment.ID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return nil, err
		}
		if userID == "" && sub != nil {
			userID = sub.UserID
		}
		if userID == "" && prior != nil {
			userID = prior.UserID
		}
		if userID == "" {
			return nil, errSkip
		}

		// A status change is recorded as a new row that supersedes the
		// previous one; earlier rows stay as they were written.
		paymentID := payment.ID
		txn := &models.Transaction{
			UserID:         userID,
			Amount:         amount,
			Currency:       currency,
			Status:         txnStatus,
			Gateway:        "mollie",
			GatewayTxnID:   &paymentID,
			GatewayEventID: &eventID,
			Metadata:       models.Metadata{"paymentStatus": status},
		}
		switch {
		case sub != nil:
			txn.SubscriptionID = &sub.ID
		case prior != nil:
			txn.SubscriptionID = prior.SubscriptionID
		}
		if prior != nil {
			txn.SupersedesID = &prior.ID
			// Attribution tags written at charge time carry forward.
			for k, v := range prior.Metadata {
				if _, set := txn.Metadata[k]; !set {
					txn.Metadata[k] = v
				}
			}
		}
		if _, err := tx.InsertTransaction(ctx, txn); err != nil {
			return nil, err
		}

		if sub == nil {
			return nil, nil
		}
		res, err := lm.Apply(ctx, lifecycle.Event{Trigger: trigger, SubscriptionID: sub.ID, Source: eventID})
		if err != nil {
			return nil, err
		}
		return res.Dunning, nil
	})
}

// molliePaymentID reads the id from a JSON or form-encoded notification.
func molliePaymentID(body []byte) string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ID != "" {
		return payload.ID
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values.Get("id"))
}

func metadataValue(meta any, keys ...string) string {
	for _, key := range keys {
		if v := mollieclient.MetadataString(meta, key); v != "" {
			return v
		}
	}
	return ""
}
