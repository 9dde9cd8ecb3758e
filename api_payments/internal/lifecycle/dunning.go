package lifecycle

import "fmt"

// DunningAction is what a dunning rule does once reached.
type DunningAction string

const (
	ActionRetry  DunningAction = "retry"
	ActionCancel DunningAction = "cancel"
)

// DunningRule is one step of the dunning ladder.
type DunningRule struct {
	RetryDay int           `yaml:"retry_day" json:"retryDay"`
	Template string        `yaml:"template" json:"template"`
	Action   DunningAction `yaml:"action" json:"action"`
}

// Policy looks up the rule for a subscription's persisted retry count.
type Policy interface {
	Lookup(retryCount int) (DunningRule, bool)
}

// Rules is an ordered dunning ladder indexed by retry count.
type Rules []DunningRule

func (r Rules) Lookup(retryCount int) (DunningRule, bool) {
	if retryCount < 0 || retryCount >= len(r) {
		return DunningRule{}, false
	}
	return r[retryCount], true
}

// Validate rejects rules that could never be executed.
func (r Rules) Validate() error {
	for i, rule := range r {
		if rule.Action != ActionRetry && rule.Action != ActionCancel {
			return fmt.Errorf("dunning rule %d: unknown action %q", i, rule.Action)
		}
		if rule.RetryDay < 0 {
			return fmt.Errorf("dunning rule %d: retry day must not be negative", i)
		}
		if rule.Action == ActionRetry && rule.Template == "" {
			return fmt.Errorf("dunning rule %d: retry rules need a template", i)
		}
	}
	return nil
}

// DefaultDunningRules retries on day 3 and 7 and cancels on day 14.
func DefaultDunningRules() Rules {
	return Rules{
		{RetryDay: 3, Template: "dunning_reminder_1", Action: ActionRetry},
		{RetryDay: 7, Template: "dunning_reminder_2", Action: ActionRetry},
		{RetryDay: 14, Template: "dunning_final", Action: ActionCancel},
	}
}
