// Package alerts evaluates threshold rules against snapshots and tracks
// which rules are currently triggered.
package alerts

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Operator compares a metric value against a threshold.
type Operator string

const (
	GreaterThan Operator = "gt"
	LessThan    Operator = "lt"
	EqualTo     Operator = "eq"
)

var ErrInvalidRule = errors.New("invalid alert rule")

// ParseOperator accepts the short names plus their symbol and long forms.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gt", ">", "greater_than", "greaterthan":
		return GreaterThan, nil
	case "lt", "<", "less_than", "lessthan":
		return LessThan, nil
	case "eq", "==", "=", "equal_to", "equalto":
		return EqualTo, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, s)
}

// Symbol renders the operator for log lines.
func (o Operator) Symbol() string {
	switch o {
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case EqualTo:
		return "=="
	}
	return string(o)
}

// Holds reports whether value compared with threshold satisfies o.
func (o Operator) Holds(value, threshold float64) bool {
	switch o {
	case GreaterThan:
		return value > threshold
	case LessThan:
		return value < threshold
	case EqualTo:
		return math.Abs(value-threshold) < 1e-9
	}
	return false
}

// Rule is one configured threshold.
type Rule struct {
	ID          string  `mapstructure:"id" yaml:"id" json:"id"`
	Name        string  `mapstructure:"name" yaml:"name" json:"name"`
	Metric      string  `mapstructure:"metric" yaml:"metric" json:"metric"`
	Operator    string  `mapstructure:"operator" yaml:"operator" json:"operator"`
	Threshold   float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Disabled    bool    `mapstructure:"disabled" yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Description string  `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
}

// Key identifies the rule: its ID, or its name when no ID is set.
func (r Rule) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}

// Validate checks the rule is usable.
func (r Rule) Validate() error {
	if r.Key() == "" {
		return fmt.Errorf("%w: rule needs an id or name", ErrInvalidRule)
	}
	if r.Metric == "" {
		return fmt.Errorf("%w: rule %q has no metric", ErrInvalidRule, r.Key())
	}
	if _, err := ParseOperator(r.Operator); err != nil {
		return fmt.Errorf("rule %q: %w", r.Key(), err)
	}
	if math.IsNaN(r.Threshold) {
		return fmt.Errorf("%w: rule %q threshold is NaN", ErrInvalidRule, r.Key())
	}
	return nil
}
