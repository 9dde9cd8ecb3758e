package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"frameworks/pkg/logging"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/transfer"
)

// Client wraps the Stripe operations the payments service uses: checkout
// sessions, off-session charges, Connect transfers and webhook decoding.
type Client struct {
	secretKey     string
	webhookSecret string
	logger        logging.Logger
}

// Config for creating a new Stripe client
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	Logger        logging.Logger
}

// NewClient creates a new Stripe client
func NewClient(config Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = config.SecretKey

	return &Client{
		secretKey:     config.SecretKey,
		webhookSecret: config.WebhookSecret,
		logger:        config.Logger,
	}
}

// WebhookSecret returns the signing secret for inbound events.
func (c *Client) WebhookSecret() string {
	return c.webhookSecret
}

// CheckoutSessionParams for creating a checkout session
type CheckoutSessionParams struct {
	UserID        string
	PlanID        string
	PriceID       string // Stripe Price ID of the plan
	PlanName      string // inline price fields, used when PriceID is empty
	UnitAmount    int64
	Currency      string
	Interval      string // month or year
	CustomerID    string // existing Stripe customer, if any
	CustomerEmail string // used when CustomerID is empty
	SuccessURL    string
	CancelURL     string
	TrialDays     int64
}

// CreateCheckoutSession creates a Stripe Checkout Session for a subscription
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	metadata := map[string]string{
		"user_id": params.UserID,
		"plan_id": params.PlanID,
	}

	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if params.PriceID != "" {
		lineItem.Price = stripe.String(params.PriceID)
	} else {
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(params.Currency),
			UnitAmount: stripe.Int64(params.UnitAmount),
			Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(params.Interval),
			},
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(params.PlanName),
			},
		}
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{lineItem},
		ClientReferenceID: stripe.String(params.UserID),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		Metadata:          metadata,
	}
	sessionParams.Context = ctx
	if params.CustomerID != "" {
		sessionParams.Customer = stripe.String(params.CustomerID)
	} else if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	// Ensure subscription metadata is set on the created Stripe subscription.
	subscriptionData := &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: metadata,
	}
	if params.TrialDays > 0 {
		subscriptionData.TrialPeriodDays = stripe.Int64(params.TrialDays)
	}
	sessionParams.SubscriptionData = subscriptionData

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"session_id": sess.ID,
		"user_id":    params.UserID,
		"price_id":   params.PriceID,
	}).Info("Created Stripe checkout session")

	return sess, nil
}

// PaymentIntentParams describes an immediate, confirmed charge.
type PaymentIntentParams struct {
	AmountMinor     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}

// CreatePaymentIntent creates and confirms a PaymentIntent.
func (c *Client) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*stripe.PaymentIntent, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.AmountMinor),
		Currency:      stripe.String(params.Currency),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Metadata: params.Metadata,
	}
	piParams.Context = ctx
	if params.CustomerID != "" {
		piParams.Customer = stripe.String(params.CustomerID)
	}
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, err
	}
	return pi, nil
}

// TransferParams describes a Connect transfer to a creator's account.
type TransferParams struct {
	AmountMinor    int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateTransfer moves funds to a connected account.
func (c *Client) CreateTransfer(ctx context.Context, params TransferParams) (*stripe.Transfer, error) {
	tParams := &stripe.TransferParams{
		Amount:      stripe.Int64(params.AmountMinor),
		Currency:    stripe.String(params.Currency),
		Destination: stripe.String(params.Destination),
		Metadata:    params.Metadata,
	}
	tParams.Context = ctx
	if params.IdempotencyKey != "" {
		tParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	tr, err := transfer.New(tParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"transfer_id": tr.ID,
		"destination": params.Destination,
	}).Info("Created Stripe transfer")

	return tr, nil
}

// GetSubscription retrieves a subscription by ID
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(payload []byte) (*stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event: %w", err)
	}
	if event.ID == "" || event.Type == "" || event.Data == nil {
		return nil, fmt.Errorf("stripe event missing id, type or data")
	}
	return &event, nil
}

// SubscriptionFromEvent extracts subscription data from a webhook event
func SubscriptionFromEvent(event *stripe.Event) (*stripe.Subscription, error) {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		return &sub, nil
	default:
		return nil, fmt.Errorf("event type %s does not contain subscription data", event.Type)
	}
}

// CheckoutSessionFromEvent extracts checkout session from a webhook event
func CheckoutSessionFromEvent(event *stripe.Event) (*stripe.CheckoutSession, error) {
	if event.Type != "checkout.session.completed" {
		return nil, fmt.Errorf("event type %s is not checkout.session.completed", event.Type)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	return &sess, nil
}

// InvoiceFromEvent extracts invoice from a webhook event
func InvoiceFromEvent(event *stripe.Event) (*stripe.Invoice, error) {
	switch event.Type {
	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
		}
		return &inv, nil
	default:
		return nil, fmt.Errorf("event type %s does not contain invoice data", event.Type)
	}
}

// SubscriptionInfo contains extracted subscription details for database updates
type SubscriptionInfo struct {
	CustomerID         string
	SubscriptionID     string
	Status             string // active, past_due, canceled, trialing, paused, etc.
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	UserID             string // From metadata
	PlanID             string // From metadata
}

// ExtractSubscriptionInfo extracts relevant fields from a Stripe subscription
func ExtractSubscriptionInfo(sub *stripe.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}

	// Period bounds live on the subscription item in v82
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		info.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		info.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			info.PriceID = item.Price.ID
		}
	}

	if sub.Metadata != nil {
		info.UserID = sub.Metadata["user_id"]
		info.PlanID = sub.Metadata["plan_id"]
	}

	return info
}

// InvoiceSubscriptionID returns the subscription an invoice bills, if any.
func InvoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
