// Package fraud scores prospective charges with an ordered, additive rule set.
package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
)

// Action is the outcome of an assessment.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionBlock   Action = "block"
)

const maxScore = 100

// Input describes the prospective charge.
type Input struct {
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	IPAddress       string
	UserAgent       string
	PaymentMethodID string
}

// Context summarizes the user's recent transaction history.
type Context struct {
	RecentCount int
	FailedCount int
	LastAmount  *decimal.Decimal
	LastIP      string
}

// RuleHit is one rule that contributed a non-zero score.
type RuleHit struct {
	Rule  string `json:"rule"`
	Score int    `json:"score"`
}

// Assessment is the engine's verdict.
type Assessment struct {
	RiskScore      int       `json:"riskScore"`
	Action         Action    `json:"action"`
	RulesTriggered []RuleHit `json:"rulesTriggered"`
	Evidence       []string  `json:"evidence"`
}

// Config holds the tunable thresholds.
type Config struct {
	// Scores below ReviewThreshold are approved.
	ReviewThreshold int
	// Scores at or above BlockThreshold are blocked.
	BlockThreshold int
	HighValue      decimal.Decimal
	Window         time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ReviewThreshold: 30,
		BlockThreshold:  70,
		HighValue:       decimal.NewFromInt(500),
		Window:          24 * time.Hour,
	}
}

// HistorySource loads a user's transactions; *store.Store satisfies it.
type HistorySource interface {
	RecentTransactions(ctx context.Context, userID string, since time.Time) ([]models.Transaction, error)
}

// Engine evaluates rules in order and records every assessment.
type Engine struct {
	history  HistorySource
	recorder decisionlog.Recorder
	rules    []Rule
	cfg      Config
	now      func() time.Time
	logger   logging.Logger
}

// NewEngine builds an engine. A nil rules slice uses DefaultRules.
func NewEngine(history HistorySource, recorder decisionlog.Recorder, cfg Config, rules []Rule, logger logging.Logger) *Engine {
	def := DefaultConfig()
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = def.ReviewThreshold
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = def.BlockThreshold
	}
	if !cfg.HighValue.IsPositive() {
		cfg.HighValue = def.HighValue
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if rules == nil {
		rules = DefaultRules(cfg.HighValue)
	}
	return &Engine{
		history:  history,
		recorder: recorder,
		rules:    rules,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Assess scores in against the user's history and logs the result.
func (e *Engine) Assess(ctx context.Context, in Input) (Assessment, error) {
	if err := validate(in); err != nil {
		return Assessment{}, err
	}
	in.Currency = billing.NormalizeCurrency(in.Currency)

	txns, err := e.history.RecentTransactions(ctx, in.UserID, e.now().Add(-e.cfg.Window))
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to build fraud context: %w", err)
	}
	a := e.Score(in, BuildContext(txns))

	payload := map[string]interface{}{
		"amount":   in.Amount.String(),
		"currency": in.Currency,
	}
	if in.IPAddress != "" {
		payload["ipAddress"] = "***"
	}
	err = e.recorder.Record(ctx, decisionlog.Entry{
		Agent:      models.AgentFDR,
		EntityID:   in.UserID,
		EntityType: "transaction",
		Trigger:    "fraud_assessment",
		Payload:    payload,
		Decision: map[string]interface{}{
			"riskScore":      a.RiskScore,
			"action":         a.Action,
			"rulesTriggered": a.RulesTriggered,
			"evidence":       a.Evidence,
		},
		Explanation: decisionlog.FraudExplanation(a.RiskScore, string(a.Action), e.cfg.BlockThreshold, a.Evidence),
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to record fraud assessment: %w", err)
	}
	return a, nil
}

// Score applies the rule set to a prepared context. It is deterministic.
func (e *Engine) Score(in Input, c Context) Assessment {
	a := Assessment{RulesTriggered: []RuleHit{}, Evidence: []string{}}
	total := 0
	for _, rule := range e.rules {
		score := clamp(rule.Evaluate(in, c), 0, rule.Cap())
		if score == 0 {
			continue
		}
		total += score
		a.RulesTriggered = append(a.RulesTriggered, RuleHit{Rule: rule.Name(), Score: score})
		a.Evidence = append(a.Evidence, fmt.Sprintf("%s: +%d points", rule.Name(), score))
	}
	a.RiskScore = clamp(total, 0, maxScore)

	switch {
	case a.RiskScore < e.cfg.ReviewThreshold:
		a.Action = ActionApprove
	case a.RiskScore >= e.cfg.BlockThreshold:
		a.Action = ActionBlock
	default:
		a.Action = ActionReview
	}
	return a
}

// BuildContext summarizes txns, which must be ordered newest first.
func BuildContext(txns []models.Transaction) Context {
	c := Context{RecentCount: len(txns)}
	for _, t := range txns {
		if t.Status == models.TxnFailed {
			c.FailedCount++
		}
	}
	if len(txns) > 0 {
		last := txns[0].Amount
		c.LastAmount = &last
		c.LastIP = txns[0].Metadata.String("ipAddress")
	}
	return c
}

func validate(in Input) error {
	fields := map[string]string{}
	if strings.TrimSpace(in.UserID) == "" {
		fields["userId"] = "required"
	}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be greater than 0"
	}
	if len(strings.TrimSpace(in.Currency)) != 3 {
		fields["currency"] = "must be a 3-letter code"
	}
	if len(fields) > 0 {
		return &models.ValidationError{Fields: fields}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
