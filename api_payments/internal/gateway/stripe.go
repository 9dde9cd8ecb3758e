package gateway

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"

	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/pkg/billing"
)

// PaymentIntentCreator is the slice of the Stripe client the adapter needs.
type PaymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, params stripeclient.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Stripe charges through confirmed PaymentIntents.
type Stripe struct {
	client PaymentIntentCreator
}

func NewStripe(client PaymentIntentCreator) *Stripe {
	return &Stripe{client: client}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	currency := billing.NormalizeCurrency(req.Currency)
	minor, err := billing.ToMinorUnits(req.Amount, currency)
	if err != nil {
		return failed(s.Name(), CodeInvalid, err.Error(), false, err)
	}

	pi, err := s.client.CreatePaymentIntent(ctx, stripeclient.PaymentIntentParams{
		AmountMinor:     minor,
		Currency:        currency,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        req.Metadata,
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			code := string(stripeErr.Code)
			if code == "" {
				code = string(stripeErr.Type)
			}
			transient := stripeErr.Type != stripe.ErrorTypeCard && stripeErr.Type != stripe.ErrorTypeInvalidRequest
			return failed(s.Name(), code, stripeErr.Msg, transient, err)
		}
		return failed(s.Name(), CodeUnknown, err.Error(), true, err)
	}

	result := ChargeResult{
		Gateway:       s.Name(),
		TransactionID: pi.ID,
		GatewayTxnID:  pi.ID,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		result.Success = true
		result.Status = StatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		result.Success = true
		result.Status = StatusPending
	default:
		// requires_action and friends cannot complete off-session
		result.Status = StatusFailed
		result.ErrorCode = string(pi.Status)
		return result, &Error{Gateway: s.Name(), Code: string(pi.Status), Message: "payment intent " + string(pi.Status)}
	}
	return result, nil
}

func failed(name, code, message string, transient bool, cause error) (ChargeResult, error) {
	gwErr := &Error{Gateway: name, Code: code, Message: message, Transient: transient, Err: cause}
	return failedResult(name, gwErr), gwErr
}
