package gateway

import (
	"context"
	"testing"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	mollieclient "frameworks/api_payments/internal/mollie"
	stripeclient "frameworks/api_payments/internal/stripe"
)

type fakeIntents struct {
	intent *stripe.PaymentIntent
	err    error
	got    []stripeclient.PaymentIntentParams
}

func (f *fakeIntents) CreatePaymentIntent(_ context.Context, p stripeclient.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.got = append(f.got, p)
	return f.intent, f.err
}

func TestStripeChargeSucceeded(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded}}
	g := NewStripe(intents)

	req := chargeRequest("USD")
	req.IdempotencyKey = "key-1"
	result, err := g.Charge(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "pi_1", result.GatewayTxnID)
	require.Len(t, intents.got, 1)
	assert.Equal(t, int64(1999), intents.got[0].AmountMinor)
	assert.Equal(t, "usd", intents.got[0].Currency)
	assert.Equal(t, "key-1", intents.got[0].IdempotencyKey)
}

func TestStripeChargeProcessingIsPending(t *testing.T) {
	g := NewStripe(&fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusProcessing}})

	result, err := g.Charge(context.Background(), chargeRequest("usd"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StatusPending, result.Status)
}

func TestStripeChargeDeclined(t *testing.T) {
	g := NewStripe(&fakeIntents{err: &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."}})

	result, err := g.Charge(context.Background(), chargeRequest("usd"))
	gwErr, ok := AsError(err)
	require.True(t, ok)
	assert.False(t, gwErr.Transient)
	assert.False(t, result.Success)
	assert.Equal(t, "card_declined", result.ErrorCode)
	assert.Equal(t, "Your card was declined.", result.ErrorMessage)
}

func TestStripeChargeRequiresAction(t *testing.T) {
	g := NewStripe(&fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_3", Status: stripe.PaymentIntentStatusRequiresAction}})

	result, err := g.Charge(context.Background(), chargeRequest("usd"))
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "requires_action", result.ErrorCode)
}

func TestStripeChargeRejectsSubMinorAmount(t *testing.T) {
	intents := &fakeIntents{}
	g := NewStripe(intents)

	req := chargeRequest("usd")
	req.Amount = decimal.RequireFromString("10.001")
	result, err := g.Charge(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, CodeInvalid, result.ErrorCode)
	assert.Empty(t, intents.got)
}

type fakePayments struct {
	payment *mollie.Payment
	err     error
	calls   int
}

func (f *fakePayments) CreateRecurringPayment(_ context.Context, _ mollieclient.RecurringPaymentParams) (*mollie.Payment, error) {
	f.calls++
	return f.payment, f.err
}

func TestMollieChargeRequiresMollieCustomer(t *testing.T) {
	payments := &fakePayments{}
	g := NewMollie(payments, "")

	result, err := g.Charge(context.Background(), chargeRequest("eur"))
	require.Error(t, err)
	assert.Equal(t, "unsupported_customer", result.ErrorCode)
	assert.Equal(t, 0, payments.calls)
}

func TestMollieChargeStatuses(t *testing.T) {
	tests := []struct {
		status  string
		success bool
		want    Status
	}{
		{status: "paid", success: true, want: StatusSucceeded},
		{status: "pending", success: true, want: StatusPending},
		{status: "failed", success: false, want: StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			g := NewMollie(&fakePayments{payment: &mollie.Payment{ID: "tr_1", Status: tt.status}}, "")
			req := chargeRequest("eur")
			req.CustomerID = "cst_abc"

			result, _ := g.Charge(context.Background(), req)
			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.want, result.Status)
		})
	}
}
