package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/match"
)

const (
	defaultDelay = time.Second
	maxDelay     = 24 * time.Hour
)

// Kind is the resolved execution behavior of a node. Exactly one of the
// types below is returned by Classify.
type Kind interface {
	kind() string
}

type TriggerKind struct{ Type string }

type ActionKind struct {
	Type    string
	Handler ActionHandler
}

// UnknownActionKind is an action type with no registered handler; it passes
// its input through tagged processed:true.
type UnknownActionKind struct{ Type string }

// ConditionKind attaches a branch decision. A nil Condition always takes
// the then branch.
type ConditionKind struct{ Condition *match.Condition }

type DelayKind struct{ Delay time.Duration }

// NotImplementedKind covers logic types that only tag their input
// (filter, transform).
type NotImplementedKind struct{ Type string }

// UnknownLogicKind passes its input through unchanged.
type UnknownLogicKind struct{ Type string }

func (TriggerKind) kind() string        { return "trigger" }
func (ActionKind) kind() string         { return "action" }
func (UnknownActionKind) kind() string  { return "unknown_action" }
func (ConditionKind) kind() string      { return "condition" }
func (DelayKind) kind() string          { return "delay" }
func (NotImplementedKind) kind() string { return "not_implemented" }
func (UnknownLogicKind) kind() string   { return "unknown_logic" }

// Classify resolves what executing n will do.
func (x *Executor) Classify(n Node) (Kind, error) {
	switch strings.ToLower(n.Category) {
	case CategoryTrigger:
		return TriggerKind{Type: n.Type}, nil
	case CategoryAction:
		if h, ok := x.handler(n.Type); ok {
			return ActionKind{Type: n.Type, Handler: h}, nil
		}
		return UnknownActionKind{Type: n.Type}, nil
	case CategoryLogic:
		switch n.Type {
		case "condition":
			return ConditionKind{Condition: conditionFrom(n.Config)}, nil
		case "delay":
			return DelayKind{Delay: delayFrom(n.Config)}, nil
		case "filter", "transform":
			return NotImplementedKind{Type: n.Type}, nil
		default:
			return UnknownLogicKind{Type: n.Type}, nil
		}
	default:
		return nil, fmt.Errorf("unknown node category: %s", n.Category)
	}
}

func conditionFrom(cfg map[string]any) *match.Condition {
	path, _ := cfg["path"].(string)
	if strings.TrimSpace(path) == "" {
		return nil
	}
	op, _ := cfg["op"].(string)
	return &match.Condition{Path: path, Op: op, Value: cfg["value"]}
}

func delayFrom(cfg map[string]any) time.Duration {
	v, ok := cfg["delayMs"]
	if !ok {
		return defaultDelay
	}
	ms, ok := match.ToFloat(v)
	if !ok || !(ms > 0) {
		return defaultDelay
	}
	if ms >= float64(maxDelay/time.Millisecond) {
		return maxDelay
	}
	return time.Duration(ms * float64(time.Millisecond))
}
