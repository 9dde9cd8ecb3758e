package mollie

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"frameworks/pkg/billing"
	"frameworks/pkg/logging"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
	"github.com/shopspring/decimal"
)

// Client wraps the Mollie operations the payments service uses: recurring
// mandate charges and payment lookups for webhook processing.
type Client struct {
	client        *mollie.Client
	webhookSecret string
	logger        logging.Logger
}

// Config for creating a new Mollie client
type Config struct {
	APIKey        string // MOLLIE_API_KEY (live_xxx or test_xxx)
	WebhookSecret string // MOLLIE_WEBHOOK_SECRET
	Logger        logging.Logger
}

// NewClient creates a new Mollie client
func NewClient(config Config) (*Client, error) {
	mollieConfig := mollie.NewAPITestingConfig(true) // Use testing mode for test keys
	if strings.HasPrefix(config.APIKey, "live_") {
		mollieConfig = mollie.NewAPIConfig(true)
	}

	client, err := mollie.NewClient(nil, mollieConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie client: %w", err)
	}

	if err := client.WithAuthenticationValue(config.APIKey); err != nil {
		return nil, fmt.Errorf("failed to set Mollie API key: %w", err)
	}

	return &Client{
		client:        client,
		webhookSecret: config.WebhookSecret,
		logger:        config.Logger,
	}, nil
}

// RecurringPaymentParams describes a charge against an existing mandate.
type RecurringPaymentParams struct {
	CustomerID  string
	Amount      decimal.Decimal
	Currency    string
	Description string
	WebhookURL  string
	Metadata    map[string]interface{}
}

// CreateRecurringPayment charges a customer's valid mandate without user interaction.
func (c *Client) CreateRecurringPayment(ctx context.Context, params RecurringPaymentParams) (*mollie.Payment, error) {
	paymentParams := mollie.CreatePayment{
		Amount:      Amount(params.Amount, params.Currency),
		Description: params.Description,
		WebhookURL:  params.WebhookURL,
		Metadata:    params.Metadata,
		CreateRecurrentPaymentFields: mollie.CreateRecurrentPaymentFields{
			SequenceType: mollie.RecurringSequence,
		},
	}

	_, payment, err := c.client.Customers.CreatePayment(ctx, params.CustomerID, paymentParams)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logging.Fields{
		"payment_id":  payment.ID,
		"customer_id": params.CustomerID,
		"status":      payment.Status,
	}).Info("Created Mollie recurring payment")

	return payment, nil
}

// GetPayment retrieves a payment by ID
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*mollie.Payment, error) {
	_, payment, err := c.client.Payments.Get(ctx, paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get Mollie payment: %w", err)
	}
	return payment, nil
}

// WebhookSecret returns the key notifications are signed with.
func (c *Client) WebhookSecret() string {
	return c.webhookSecret
}

// VerifySignature checks a hex HMAC-SHA256 signature over payload.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected))
}

// EventID is the idempotency key of a payment status notification. Mollie
// sends the same payment id for every status change.
func EventID(paymentID, status string) string {
	return fmt.Sprintf("payment:%s:%s", paymentID, strings.ToLower(status))
}

// MetadataString reads a string value from a payment's free-form metadata.
func MetadataString(meta any, key string) string {
	switch m := meta.(type) {
	case map[string]interface{}:
		if val, ok := m[key]; ok && val != nil {
			return fmt.Sprint(val)
		}
	case map[string]string:
		return m[key]
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(m), &parsed); err == nil {
			if val, ok := parsed[key]; ok && val != nil {
				return fmt.Sprint(val)
			}
		}
	}
	return ""
}

// Amount converts an exact amount to Mollie's string form, which always
// carries the currency's minor-unit digits.
func Amount(value decimal.Decimal, currency string) *mollie.Amount {
	return &mollie.Amount{
		Value:    value.StringFixed(billing.Exponent(currency)),
		Currency: strings.ToUpper(billing.NormalizeCurrency(currency)),
	}
}

// ParseAmount converts a Mollie amount back to an exact decimal and a
// normalized currency code.
func ParseAmount(amount *mollie.Amount) (decimal.Decimal, string, error) {
	if amount == nil {
		return decimal.Zero, "", fmt.Errorf("missing Mollie amount")
	}
	value, err := decimal.NewFromString(amount.Value)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid Mollie amount %q: %w", amount.Value, err)
	}
	return value, billing.NormalizeCurrency(amount.Currency), nil
}
