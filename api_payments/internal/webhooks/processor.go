// Package webhooks turns verified gateway notifications into lifecycle
// transitions and transaction rows.
//
// Each notification is verified, parsed and enriched with any gateway data
// before a database transaction opens. Inside the transaction the event is
// admitted through the idempotency gate and applied; a failure rolls both
// back so the gateway's redelivery is processed again. Follow-up jobs are
// queued only after commit.
package webhooks

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_payments/internal/idempotency"
	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/clients"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
)

// Outcome labels a processed notification.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Result is what the HTTP layer returns to the gateway.
type Result struct {
	Status  int     `json:"-"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

func ok(o Outcome) Result { return Result{Status: http.StatusOK, Outcome: o} }

// errSkip rolls back an admitted event that turned out to have nothing to
// apply, such as a subscription this service never created.
var errSkip = errors.New("nothing to apply")

// DunningScheduler queues dunning reminders.
type DunningScheduler interface {
	ScheduleDunning(ctx context.Context, n lifecycle.DunningNotice) error
}

// Config wires a Processor.
type Config struct {
	StripeWebhookSecret string
	MollieWebhookSecret string
	StripeSubscriptions StripeSubscriptions
	MolliePayments      MolliePayments
	Dunning             DunningScheduler
	Tolerance           time.Duration

	// FetchRetry bounds retries of gateway lookups made before the
	// transaction opens. Zero uses clients.DefaultRetryConfig.
	FetchRetry clients.RetryConfig
}

// Processor handles webhook bodies for every supported gateway.
type Processor struct {
	store     *store.Store
	lifecycle *lifecycle.Manager
	cfg       Config
	events    *prometheus.CounterVec
	now       func() time.Time
	logger    logging.Logger
}

func NewProcessor(s *store.Store, lm *lifecycle.Manager, cfg Config, logger logging.Logger) *Processor {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.FetchRetry.MaxRetries == 0 && cfg.FetchRetry.BaseDelay == 0 {
		cfg.FetchRetry = clients.DefaultRetryConfig()
	}
	return &Processor{
		store:     s,
		lifecycle: lm,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// WithMetrics counts notifications by gateway and outcome.
func (p *Processor) WithMetrics(events *prometheus.CounterVec) *Processor {
	p.events = events
	return p
}

// Supported reports whether gateway has a webhook endpoint.
func (p *Processor) Supported(gateway string) bool {
	return gateway == "stripe" || gateway == "mollie"
}

// Process handles one notification. header looks up request headers.
func (p *Processor) Process(ctx context.Context, gateway string, body []byte, header func(string) string) Result {
	var res Result
	switch gateway {
	case "stripe":
		res = p.processStripe(ctx, body, header("Stripe-Signature"))
	case "mollie":
		res = p.processMollie(ctx, body, header("X-Mollie-Signature"))
	default:
		return Result{Status: http.StatusNotFound, Error: "Unknown gateway"}
	}
	if p.events != nil {
		p.events.WithLabelValues(gateway, string(res.Outcome)).Inc()
	}
	return res
}

// fetch calls a gateway API with retries. Failures still end in a 500 so the
// gateway redelivers.
func (p *Processor) fetch(ctx context.Context, fn func(ctx context.Context) error) error {
	return clients.Retry(ctx, p.cfg.FetchRetry, fn)
}

// apply admits eventID and runs fn in one transaction, then schedules any
// dunning notice fn produced.
func (p *Processor) apply(ctx context.Context, gateway, eventID string, log logging.Entry, fn func(tx *store.Store, lm *lifecycle.Manager) (*lifecycle.DunningNotice, error)) Result {
	var (
		duplicate bool
		notice    *lifecycle.DunningNotice
	)
	err := p.store.InTx(ctx, func(tx *store.Store) error {
		admitted, err := idempotency.New(tx).Admit(ctx, gateway, eventID)
		if err != nil {
			return err
		}
		if !admitted {
			duplicate = true
			return nil
		}
		notice, err = fn(tx, p.lifecycle.Bind(tx))
		return err
	})
	switch {
	case errors.Is(err, errSkip), errors.Is(err, models.ErrNotFound), database.ErrorCode(err) == database.CodeForeignKeyViolation:
		log.WithError(err).Info("Webhook references unknown entities, ignored")
		return ok(OutcomeIgnored)
	case models.IsValidation(err):
		log.WithError(err).Warn("Webhook payload failed validation")
		return ok(OutcomeMalformed)
	case err != nil:
		log.WithError(err).Error("Failed to process webhook")
		return Result{Status: http.StatusInternalServerError, Outcome: OutcomeFailed, Error: "Internal server error"}
	case duplicate:
		log.Debug("Webhook already processed")
		return ok(OutcomeDuplicate)
	}

	if notice != nil && p.cfg.Dunning != nil {
		if err := p.cfg.Dunning.ScheduleDunning(ctx, *notice); err != nil {
			log.WithError(err).WithField("subscription_id", notice.SubscriptionID).Error("Failed to schedule dunning reminder")
		}
	}
	log.Info("Webhook applied")
	return ok(OutcomeApplied)
}
