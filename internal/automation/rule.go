package automation

import (
	"context"
	"fmt"

	"github.com/becmacc/beyflow-chat-sub000/internal/match"
)

// Condition inspects a payload copy. It must not retain the map.
type Condition func(payload map[string]any) bool

// Action performs the rule's side effect. Errors and panics are contained by
// the engine.
type Action func(ctx context.Context, payload map[string]any) (any, error)

// Rule is a trigger/condition/action binding. A nil Condition always matches.
type Rule struct {
	Name        string
	Trigger     string
	Description string
	// Source records where the rule came from: builtin, file or api.
	Source    string
	Condition Condition
	Action    Action
}

// Info is the listing form of a rule.
type Info struct {
	Name        string `json:"name"`
	Trigger     string `json:"trigger"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

func (r Rule) Info() Info {
	return Info{Name: r.Name, Trigger: r.Trigger, Description: r.Description, Source: r.Source}
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Trigger == "" {
		return fmt.Errorf("rule %s: trigger is required", r.Name)
	}
	if r.Trigger == EventRuleExecuted || r.Trigger == EventRuleFailed {
		return fmt.Errorf("rule %s: %s is reported by the engine and cannot trigger rules", r.Name, r.Trigger)
	}
	if r.Action == nil {
		return fmt.Errorf("rule %s: action is required", r.Name)
	}
	return nil
}

// RuleExecutionError wraps a failed or panicking rule action.
type RuleExecutionError struct {
	Rule    string
	Trigger string
	Err     error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %s (trigger %s): %v", e.Rule, e.Trigger, e.Err)
}

func (e *RuleExecutionError) Unwrap() error { return e.Err }

// AllOf matches when every condition holds.
func AllOf(conds ...match.Condition) Condition {
	return func(p map[string]any) bool {
		for _, c := range conds {
			if !c.Eval(p) {
				return false
			}
		}
		return true
	}
}

// AnyOf matches when at least one condition holds. No conditions never match.
func AnyOf(conds ...match.Condition) Condition {
	return func(p map[string]any) bool {
		for _, c := range conds {
			if c.Eval(p) {
				return true
			}
		}
		return false
	}
}
