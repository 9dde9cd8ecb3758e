// Package policy loads the operator-tunable rule sets: gateway routing,
// the dunning ladder and fraud thresholds.
package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"frameworks/api_payments/internal/fraud"
	"frameworks/api_payments/internal/gateway"
	"frameworks/api_payments/internal/lifecycle"
)

// Fraud mirrors fraud.Config in file form.
type Fraud struct {
	ReviewThreshold int    `yaml:"review_threshold"`
	BlockThreshold  int    `yaml:"block_threshold"`
	HighValueAmount string `yaml:"high_value_amount"`
	Window          string `yaml:"window"`
}

// Policy is the parsed policy file.
type Policy struct {
	Routing []gateway.RoutingRule `yaml:"routing"`
	Dunning lifecycle.Rules       `yaml:"dunning"`
	Fraud   Fraud                 `yaml:"fraud"`
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		Routing: []gateway.RoutingRule{},
		Dunning: lifecycle.DefaultDunningRules(),
		Fraud: Fraud{
			ReviewThreshold: 30,
			BlockThreshold:  70,
			HighValueAmount: "500",
			Window:          "24h",
		},
	}
}

// Load reads path. A missing file yields the defaults; sections absent from
// the file keep their defaults.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(b)
}

// Parse decodes a policy document over the defaults and validates it.
func Parse(b []byte) (Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks every section.
func (p Policy) Validate() error {
	for i, r := range p.Routing {
		if r.Gateway == "" {
			return fmt.Errorf("routing rule %d: gateway is required", i)
		}
	}
	if err := p.Dunning.Validate(); err != nil {
		return err
	}
	if _, err := p.FraudConfig(); err != nil {
		return err
	}
	return nil
}

// FraudConfig converts the fraud section.
func (p Policy) FraudConfig() (fraud.Config, error) {
	cfg := fraud.DefaultConfig()
	if p.Fraud.ReviewThreshold > 0 {
		cfg.ReviewThreshold = p.Fraud.ReviewThreshold
	}
	if p.Fraud.BlockThreshold > 0 {
		cfg.BlockThreshold = p.Fraud.BlockThreshold
	}
	if cfg.ReviewThreshold >= cfg.BlockThreshold || cfg.BlockThreshold > 100 {
		return fraud.Config{}, fmt.Errorf("fraud thresholds must satisfy 0 < review < block <= 100")
	}
	if p.Fraud.HighValueAmount != "" {
		v, err := decimal.NewFromString(p.Fraud.HighValueAmount)
		if err != nil || !v.IsPositive() {
			return fraud.Config{}, fmt.Errorf("invalid fraud high_value_amount %q", p.Fraud.HighValueAmount)
		}
		cfg.HighValue = v
	}
	if p.Fraud.Window != "" {
		d, err := time.ParseDuration(p.Fraud.Window)
		if err != nil || d <= 0 {
			return fraud.Config{}, fmt.Errorf("invalid fraud window %q", p.Fraud.Window)
		}
		cfg.Window = d
	}
	return cfg, nil
}
