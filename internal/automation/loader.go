package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/becmacc/beyflow-chat-sub000/internal/match"
)

// Runtime is what declarative rule actions act on.
type Runtime interface {
	Invoke(ctx context.Context, target, method string, payload map[string]any) (any, error)
	Emit(ctx context.Context, name string, payload map[string]any)
}

// File is the on-disk rule document.
type File struct {
	Rules []Spec `yaml:"rules" json:"rules"`
}

// Spec is a declarative rule.
type Spec struct {
	Name        string            `yaml:"name" json:"name"`
	Trigger     string            `yaml:"trigger" json:"trigger"`
	Description string            `yaml:"description" json:"description,omitempty"`
	When        []match.Condition `yaml:"when" json:"when,omitempty"`
	// Any switches When from all-of to any-of.
	Any bool   `yaml:"any" json:"any,omitempty"`
	Do  DoSpec `yaml:"do" json:"do"`
}

type DoSpec struct {
	Call    string         `yaml:"call" json:"call,omitempty"`
	Emit    string         `yaml:"emit" json:"emit,omitempty"`
	Payload map[string]any `yaml:"payload" json:"payload,omitempty"`
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if strings.TrimSpace(s.Trigger) == "" {
		return fmt.Errorf("rule %s: trigger is required", s.Name)
	}
	if t := strings.TrimSpace(s.Trigger); t == EventRuleExecuted || t == EventRuleFailed {
		return fmt.Errorf("rule %s: %s is reported by the engine and cannot trigger rules", s.Name, t)
	}
	for i, c := range s.When {
		if !match.ValidOp(c.Op) {
			return fmt.Errorf("rule %s: when[%d]: unsupported op %q", s.Name, i, c.Op)
		}
	}
	call, emit := strings.TrimSpace(s.Do.Call), strings.TrimSpace(s.Do.Emit)
	switch {
	case call != "" && emit != "":
		return fmt.Errorf("rule %s: do must set exactly one of call or emit", s.Name)
	case call != "":
		if parts := strings.SplitN(call, ".", 2); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("rule %s: call must look like component.method", s.Name)
		}
	case emit == "":
		return fmt.Errorf("rule %s: do must set call or emit", s.Name)
	case emit == strings.TrimSpace(s.Trigger):
		return fmt.Errorf("rule %s: emitting its own trigger %s would loop", s.Name, emit)
	}
	return nil
}

// Build turns the spec into a runnable rule bound to rt.
func (s Spec) Build(rt Runtime, source string) (Rule, error) {
	if err := s.validate(); err != nil {
		return Rule{}, err
	}
	r := Rule{Name: s.Name, Trigger: s.Trigger, Description: s.Description, Source: source}
	if len(s.When) > 0 {
		if s.Any {
			r.Condition = AnyOf(s.When...)
		} else {
			r.Condition = AllOf(s.When...)
		}
	}
	tmpl := s.Do.Payload
	if call := strings.TrimSpace(s.Do.Call); call != "" {
		parts := strings.SplitN(call, ".", 2)
		target, method := parts[0], parts[1]
		r.Action = func(ctx context.Context, p map[string]any) (any, error) {
			return rt.Invoke(ctx, target, method, Render(tmpl, p))
		}
		return r, nil
	}
	name := strings.TrimSpace(s.Do.Emit)
	r.Action = func(ctx context.Context, p map[string]any) (any, error) {
		out := p
		if tmpl != nil {
			out = Render(tmpl, p)
		}
		rt.Emit(ctx, name, out)
		return map[string]any{"emitted": name}, nil
	}
	return r, nil
}

// ParseRules decodes a YAML rule document.
func ParseRules(data []byte, rt Runtime, source string) ([]Rule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	out := make([]Rule, 0, len(f.Rules))
	for _, s := range f.Rules {
		r, err := s.Build(rt, source)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order. A missing
// directory yields no rules.
func LoadDir(dir string, rt Runtime) ([]Rule, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Rule
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		rules, err := ParseRules(b, rt, "file:"+n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		out = append(out, rules...)
	}
	return out, nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Render fills {{path}} placeholders in tmpl from payload. A string that is
// exactly one placeholder keeps the value's type.
func Render(tmpl map[string]any, payload map[string]any) map[string]any {
	out := make(map[string]any, len(tmpl))
	for k, v := range tmpl {
		out[k] = renderValue(v, payload)
	}
	return out
}

func renderValue(v any, payload map[string]any) any {
	switch t := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(t); m != nil && m[0] == strings.TrimSpace(t) {
			val, _ := match.Lookup(payload, m[1])
			return val
		}
		return placeholder.ReplaceAllStringFunc(t, func(s string) string {
			key := placeholder.FindStringSubmatch(s)[1]
			val, ok := match.Lookup(payload, key)
			if !ok {
				return ""
			}
			return fmt.Sprint(val)
		})
	case map[string]any:
		return Render(t, payload)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = renderValue(x, payload)
		}
		return out
	default:
		return v
	}
}
