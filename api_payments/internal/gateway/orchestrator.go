package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
)

// ErrNoGateways is returned when nothing is registered.
var ErrNoGateways = errors.New("no payment gateways configured")

// defaultGateway is used when neither a rule nor the currency map picks one.
const defaultGateway = "stripe"

var currencyDefaults = map[string]string{
	"usd": "stripe",
	"eur": "stripe",
	"gbp": "stripe",
}

// RoutingRule prefers Gateway for Currency. An empty currency matches all.
type RoutingRule struct {
	Currency string `yaml:"currency" json:"currency,omitempty"`
	Gateway  string `yaml:"gateway" json:"gateway"`
}

// Attempt is one failed gateway attempt.
type Attempt struct {
	Gateway string `json:"gateway"`
	Error   string `json:"error"`
}

// Outcome is the terminal result of routing one charge.
type Outcome struct {
	Result           ChargeResult
	ChosenGateway    string
	SelectionReason  string
	FallbackAttempts []Attempt
}

// Orchestrator owns the registered gateways in registration order.
type Orchestrator struct {
	gateways []Gateway
	byName   map[string]Gateway
	recorder decisionlog.Recorder
	charges  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	logger   logging.Logger
}

// NewOrchestrator registers gateways in the given order. Later gateways with
// a duplicate name are ignored.
func NewOrchestrator(recorder decisionlog.Recorder, logger logging.Logger, gateways ...Gateway) *Orchestrator {
	o := &Orchestrator{
		byName:   make(map[string]Gateway, len(gateways)),
		recorder: recorder,
		logger:   logger,
	}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		if _, dup := o.byName[g.Name()]; dup {
			continue
		}
		o.gateways = append(o.gateways, g)
		o.byName[g.Name()] = g
	}
	return o
}

// WithMetrics counts attempts by gateway and status.
func (o *Orchestrator) WithMetrics(charges *prometheus.CounterVec) *Orchestrator {
	o.charges = charges
	return o
}

// WithLatency observes attempt duration in seconds by gateway and status.
func (o *Orchestrator) WithLatency(latency *prometheus.HistogramVec) *Orchestrator {
	o.latency = latency
	return o
}

// Names lists registered gateways in registration order.
func (o *Orchestrator) Names() []string {
	names := make([]string, 0, len(o.gateways))
	for _, g := range o.gateways {
		names = append(names, g.Name())
	}
	return names
}

// Select picks the primary gateway for currency.
func (o *Orchestrator) Select(currency string, rules []RoutingRule) (string, string, error) {
	if len(o.gateways) == 0 {
		return "", "", ErrNoGateways
	}
	currency = billing.NormalizeCurrency(currency)
	if currency == "" {
		currency = billing.DefaultCurrency()
	}

	for _, rule := range rules {
		ruleCurrency := billing.NormalizeCurrency(rule.Currency)
		if ruleCurrency != "" && ruleCurrency != currency {
			continue
		}
		if _, ok := o.byName[rule.Gateway]; ok {
			return rule.Gateway, fmt.Sprintf("Routed to %s (currency: %s, routing rule)", rule.Gateway, currency), nil
		}
	}

	preferred, ok := currencyDefaults[currency]
	if !ok {
		preferred = defaultGateway
	}
	if _, ok := o.byName[preferred]; ok {
		return preferred, fmt.Sprintf("Routed to %s (currency: %s, currency default)", preferred, currency), nil
	}

	name := o.gateways[0].Name()
	if _, ok := o.byName[defaultGateway]; ok {
		name = defaultGateway
	}
	return name, fmt.Sprintf("Routed to %s (currency: %s, %s unavailable)", name, currency, preferred), nil
}

// Charge tries the selected gateway, then every other registered gateway in
// registration order, stopping at the first success. When all fail, the
// primary's result is returned with every failed attempt.
func (o *Orchestrator) Charge(ctx context.Context, req ChargeRequest, rules []RoutingRule) (Outcome, error) {
	req.Currency = billing.NormalizeCurrency(req.Currency)
	if req.Currency == "" {
		req.Currency = billing.DefaultCurrency()
	}

	primaryName, reason, err := o.Select(req.Currency, rules)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{SelectionReason: reason, FallbackAttempts: []Attempt{}}

	primaryResult := o.attempt(ctx, o.byName[primaryName], req)
	if primaryResult.Success {
		outcome.Result = primaryResult
		outcome.ChosenGateway = primaryName
		o.record(ctx, req, primaryName, outcome)
		return outcome, nil
	}
	outcome.FallbackAttempts = append(outcome.FallbackAttempts, Attempt{Gateway: primaryName, Error: attemptError(primaryResult)})

	for _, g := range o.gateways {
		if g.Name() == primaryName {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		result := o.attempt(ctx, g, req)
		if result.Success {
			outcome.Result = result
			outcome.ChosenGateway = g.Name()
			outcome.SelectionReason = fmt.Sprintf("Fallback after %s failed", primaryName)
			o.record(ctx, req, primaryName, outcome)
			return outcome, nil
		}
		outcome.FallbackAttempts = append(outcome.FallbackAttempts, Attempt{Gateway: g.Name(), Error: attemptError(result)})
	}

	outcome.Result = primaryResult
	outcome.ChosenGateway = primaryName
	o.record(ctx, req, primaryName, outcome)
	return outcome, nil
}

func (o *Orchestrator) attempt(ctx context.Context, g Gateway, req ChargeRequest) ChargeResult {
	start := time.Now()
	result, err := g.Charge(ctx, req)
	if err != nil || !result.Success {
		if err == nil {
			err = &Error{Gateway: g.Name(), Code: result.ErrorCode, Message: result.ErrorMessage}
		}
		result = failedResult(g.Name(), err)
		o.logger.WithFields(logging.Fields{
			"gateway":    g.Name(),
			"error_code": result.ErrorCode,
			"currency":   req.Currency,
		}).Warn("Gateway charge attempt failed")
	}
	if result.Gateway == "" {
		result.Gateway = g.Name()
	}
	if result.Status == "" {
		result.Status = StatusSucceeded
	}
	if o.charges != nil {
		o.charges.WithLabelValues(g.Name(), string(result.Status)).Inc()
	}
	if o.latency != nil {
		o.latency.WithLabelValues(g.Name(), string(result.Status)).Observe(time.Since(start).Seconds())
	}
	return result
}

// record writes the terminal outcome. Amount and currency only; payment
// method and customer ids never reach the log.
func (o *Orchestrator) record(ctx context.Context, req ChargeRequest, primary string, outcome Outcome) {
	if o.recorder == nil {
		return
	}

	failed := make([]string, 0, len(outcome.FallbackAttempts))
	for _, a := range outcome.FallbackAttempts {
		failed = append(failed, a.Gateway)
	}

	entityID := outcome.Result.TransactionID
	if entityID == "" {
		entityID = "unknown"
	}

	entry := decisionlog.Entry{
		Agent:      models.AgentPGO,
		EntityID:   entityID,
		EntityType: "transaction",
		Trigger:    "charge",
		Payload: map[string]interface{}{
			"amount":         req.Amount.String(),
			"currency":       req.Currency,
			"primaryGateway": primary,
			"gateways":       o.Names(),
		},
		Decision: map[string]interface{}{
			"chosenGateway":    outcome.ChosenGateway,
			"selectionReason":  outcome.SelectionReason,
			"success":          outcome.Result.Success,
			"status":           outcome.Result.Status,
			"fallbackAttempts": outcome.FallbackAttempts,
		},
		Explanation: decisionlog.RoutingExplanation(outcome.Result.Success, outcome.ChosenGateway, outcome.SelectionReason, failed),
	}
	if err := o.recorder.Record(ctx, entry); err != nil {
		o.logger.WithError(err).WithField("gateway", outcome.ChosenGateway).Error("Failed to record routing decision")
	}
}
