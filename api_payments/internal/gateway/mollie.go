package gateway

import (
	"context"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"

	mollieclient "frameworks/api_payments/internal/mollie"
)

// RecurringCharger is the slice of the Mollie client the adapter needs.
type RecurringCharger interface {
	CreateRecurringPayment(ctx context.Context, params mollieclient.RecurringPaymentParams) (*mollie.Payment, error)
}

// Mollie charges a customer's existing mandate. Only Mollie customer ids
// (cst_…) can be charged; anything else fails without a network call.
type Mollie struct {
	client     RecurringCharger
	webhookURL string
}

func NewMollie(client RecurringCharger, webhookURL string) *Mollie {
	return &Mollie{client: client, webhookURL: webhookURL}
}

func (m *Mollie) Name() string { return "mollie" }

func (m *Mollie) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if !strings.HasPrefix(req.CustomerID, "cst_") {
		return failed(m.Name(), "unsupported_customer", "no Mollie customer with a mandate", false, nil)
	}

	meta := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.IdempotencyKey != "" {
		meta["idempotency_key"] = req.IdempotencyKey
	}

	payment, err := m.client.CreateRecurringPayment(ctx, mollieclient.RecurringPaymentParams{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: "Recurring charge",
		WebhookURL:  m.webhookURL,
		Metadata:    meta,
	})
	if err != nil {
		return failed(m.Name(), CodeUnknown, err.Error(), true, err)
	}

	result := ChargeResult{
		Gateway:       m.Name(),
		TransactionID: payment.ID,
		GatewayTxnID:  payment.ID,
	}
	switch status := strings.ToLower(payment.Status); status {
	case "paid":
		result.Success = true
		result.Status = StatusSucceeded
	case "open", "pending", "authorized":
		result.Success = true
		result.Status = StatusPending
	default:
		result.Status = StatusFailed
		result.ErrorCode = status
		return result, &Error{Gateway: m.Name(), Code: status, Message: "payment " + status}
	}
	return result, nil
}
