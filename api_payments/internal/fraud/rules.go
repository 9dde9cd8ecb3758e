package fraud

import (
	"github.com/shopspring/decimal"
)

// Rule is one additive scoring strategy. Evaluate must be pure.
type Rule interface {
	Name() string
	// Cap bounds the score a rule may contribute.
	Cap() int
	Evaluate(in Input, c Context) int
}

// DefaultRules returns the standard rule set in evaluation order.
func DefaultRules(highValue decimal.Decimal) []Rule {
	return []Rule{
		VelocityRule{},
		FailedAttemptsRule{},
		AmountRule{HighValue: highValue},
		IPChangeRule{},
	}
}

// VelocityRule scores many recent transactions.
type VelocityRule struct{}

func (VelocityRule) Name() string { return "velocity" }
func (VelocityRule) Cap() int     { return 25 }

func (VelocityRule) Evaluate(_ Input, c Context) int {
	switch {
	case c.RecentCount > 5:
		return 25
	case c.RecentCount > 3:
		return 15
	}
	return 0
}

// FailedAttemptsRule scores recent failed charges.
type FailedAttemptsRule struct{}

func (FailedAttemptsRule) Name() string { return "failed_attempts" }
func (FailedAttemptsRule) Cap() int     { return 30 }

func (FailedAttemptsRule) Evaluate(_ Input, c Context) int {
	switch {
	case c.FailedCount >= 3:
		return 30
	case c.FailedCount >= 1:
		return 10
	}
	return 0
}

// AmountRule scores high-value charges, or else a spike over the last amount.
type AmountRule struct {
	HighValue decimal.Decimal
}

func (AmountRule) Name() string { return "amount_threshold" }
func (AmountRule) Cap() int     { return 20 }

func (r AmountRule) Evaluate(in Input, c Context) int {
	if in.Amount.GreaterThan(r.HighValue) {
		return 20
	}
	if c.LastAmount != nil && c.LastAmount.IsPositive() && in.Amount.GreaterThan(c.LastAmount.Mul(decimal.NewFromInt(2))) {
		return 15
	}
	return 0
}

// IPChangeRule scores a network address that differs from the last transaction's.
type IPChangeRule struct{}

func (IPChangeRule) Name() string { return "ip_change" }
func (IPChangeRule) Cap() int     { return 15 }

func (IPChangeRule) Evaluate(in Input, c Context) int {
	if in.IPAddress == "" || c.LastIP == "" {
		return 0
	}
	if in.IPAddress != c.LastIP {
		return 15
	}
	return 0
}
