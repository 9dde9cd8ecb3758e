package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
)

const DefaultDisburseLimit = 100

// ErrTransfersDisabled is returned by Disburse without a transfer client.
var ErrTransfersDisabled = errors.New("payout transfers are not configured")

// TransferCreator is the slice of the Stripe client disbursement needs.
type TransferCreator interface {
	CreateTransfer(ctx context.Context, params stripeclient.TransferParams) (*stripe.Transfer, error)
}

// DisburseResult counts what one disbursement pass did.
type DisburseResult struct {
	Initiated int `json:"initiated"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// Disburse sends pending payouts to their creators' connected accounts.
// The payout id is the transfer idempotency key, so a payout re-sent after
// a crash reuses the original transfer. Rejected transfers mark the payout
// failed; transient errors leave it pending for the next pass.
func (r *Reconciler) Disburse(ctx context.Context, limit int) (DisburseResult, error) {
	var result DisburseResult
	if r.transfers == nil {
		return result, ErrTransfersDisabled
	}
	if limit <= 0 {
		limit = DefaultDisburseLimit
	}

	pending, err := r.store.ListPendingPayouts(ctx, limit)
	if err != nil {
		return result, err
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		p := &pending[i]
		log := r.logger.WithFields(logging.Fields{
			"payout_id":  p.ID,
			"creator_id": p.CreatorID,
		})

		minor, err := billing.ToMinorUnits(p.Amount, p.Currency)
		if err != nil {
			if ferr := r.finish(ctx, p, "", err.Error()); ferr != nil {
				return result, ferr
			}
			result.Failed++
			continue
		}

		tr, err := r.transfers.CreateTransfer(ctx, stripeclient.TransferParams{
			AmountMinor:    minor,
			Currency:       billing.NormalizeCurrency(p.Currency),
			Destination:    p.PayeeReference,
			IdempotencyKey: "payout-" + p.ID,
			Metadata: map[string]string{
				"payout_id":  p.ID,
				"creator_id": p.CreatorID,
			},
		})
		if err != nil {
			if !rejected(err) {
				log.WithError(err).Warn("Payout transfer deferred")
				result.Deferred++
				continue
			}
			if ferr := r.finish(ctx, p, "", err.Error()); ferr != nil {
				return result, ferr
			}
			result.Failed++
			continue
		}

		if err := r.finish(ctx, p, tr.ID, ""); err != nil {
			return result, err
		}
		result.Initiated++
	}

	return result, nil
}

// finish moves the payout out of pending and logs the outcome in one
// transaction. A payout another worker already finished is left alone.
func (r *Reconciler) finish(ctx context.Context, p *store.PendingPayout, transferID, failure string) error {
	return r.store.InTx(ctx, func(tx *store.Store) error {
		var (
			ok  bool
			err error
		)
		status := models.PayoutInitiated
		if failure != "" {
			status = models.PayoutFailed
			ok, err = tx.MarkPayoutFailed(ctx, p.ID, failure)
		} else {
			ok, err = tx.MarkPayoutInitiated(ctx, p.ID, transferID)
		}
		if err != nil || !ok {
			return err
		}

		explanation := fmt.Sprintf("Payout %s of %s %s initiated via transfer %s.", p.ID, p.Amount.StringFixed(2), p.Currency, transferID)
		if failure != "" {
			explanation = fmt.Sprintf("Payout %s of %s %s failed: %s", p.ID, p.Amount.StringFixed(2), p.Currency, failure)
		}
		return decisionlog.Bind(r.recorder, tx).Record(ctx, decisionlog.Entry{
			Agent:      models.AgentCPR,
			EntityID:   p.CreatorID,
			EntityType: "creator_payout",
			Trigger:    "payout_disbursement",
			Payload: map[string]interface{}{
				"payoutRecordId": p.ID,
				"amount":         p.Amount,
				"currency":       p.Currency,
			},
			Decision: map[string]interface{}{
				"status":     status,
				"transferId": transferID,
				"failure":    failure,
			},
			Explanation: explanation,
		})
	})
}

// rejected reports whether Stripe refused the transfer outright, as opposed
// to an outage worth retrying.
func rejected(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Type == stripe.ErrorTypeInvalidRequest || stripeErr.Type == stripe.ErrorTypeCard
}
