package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Entity is the object a rule is evaluated against (an order, a payment, a product...)
type Entity = map[string]any

// Context carries runtime data alongside the entity. A nil Context means none was supplied.
type Context = map[string]any

// Condition is the predicate of a rule. It returns true when the rule is satisfied.
// Conditions must not mutate the entity or the context.
type Condition func(ctx context.Context, entity Entity, rc Context) (bool, error)

// RuleType classifies a rule. It has no effect on evaluation.
type RuleType string

const (
	TypeValidation RuleType = "VALIDATION"
	TypeBusiness   RuleType = "BUSINESS"
	TypeCompliance RuleType = "COMPLIANCE"
	TypeRisk       RuleType = "RISK"
)

// Valid reports whether t is one of the known rule types
func (t RuleType) Valid() bool {
	switch t {
	case TypeValidation, TypeBusiness, TypeCompliance, TypeRisk:
		return true
	}
	return false
}

// Severity is an ordered tier; higher values are more severe.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity converts a case-insensitive name into a Severity
func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for sev, n := range severityNames {
		if n == upper {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity: %q", name)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", s)
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Message explains a failing rule. It is either a literal string or a template
// computed from the entity and context; it is only resolved when the rule fails.
type Message struct {
	literal  string
	template func(entity Entity, rc Context) string
}

// Literal returns a fixed message
func Literal(text string) Message {
	return Message{literal: text}
}

// Template returns a message computed on failure
func Template(fn func(entity Entity, rc Context) string) Message {
	return Message{template: fn}
}

// Resolve produces the message text for a failing evaluation
func (m Message) Resolve(entity Entity, rc Context) string {
	if m.template != nil {
		return m.template(entity, rc)
	}
	return m.literal
}

// RuleSpec is what callers register; the store turns it into a Rule
type RuleSpec struct {
	Type            RuleType
	Severity        Severity
	Description     string
	Condition       Condition
	Message         Message
	Context         map[string]any
	RequiresContext bool
}

// Rule is a registered rule. Rules are copied in and out of the store and
// must be treated as immutable.
type Rule struct {
	Group           string
	Name            string
	Type            RuleType
	Severity        Severity
	Description     string
	Condition       Condition
	Message         Message
	Context         map[string]any
	RequiresContext bool
}

// RuleID derives the store key for a rule
func RuleID(group, name string) string {
	return group + ":" + name
}

// ID returns the group:name key of the rule
func (r Rule) ID() string {
	return RuleID(r.Group, r.Name)
}

// Descriptor is the serializable view of a rule used by introspection endpoints
type Descriptor struct {
	ID              string         `json:"id"`
	Group           string         `json:"group"`
	Name            string         `json:"name"`
	Type            RuleType       `json:"type"`
	Severity        Severity       `json:"severity"`
	Description     string         `json:"description"`
	Context         map[string]any `json:"context,omitempty"`
	RequiresContext bool           `json:"requiresContext,omitempty"`
}

// Describe returns the serializable view of r
func (r Rule) Describe() Descriptor {
	return Descriptor{
		ID:              r.ID(),
		Group:           r.Group,
		Name:            r.Name,
		Type:            r.Type,
		Severity:        r.Severity,
		Description:     r.Description,
		Context:         r.Context,
		RequiresContext: r.RequiresContext,
	}
}

// Outcome records how a single rule evaluated
type Outcome struct {
	Rule        string         `json:"rule"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// EvaluationResult contains the outcome of evaluating one or more rule groups.
// Failed only holds MEDIUM, HIGH and CRITICAL outcomes; LOW failures are warnings.
type EvaluationResult struct {
	Passed   []Outcome `json:"passed"`
	Failed   []Outcome `json:"failed"`
	Warnings []Outcome `json:"warnings"`
}

// NewEvaluationResult returns an empty result with non-nil buckets
func NewEvaluationResult() *EvaluationResult {
	return &EvaluationResult{
		Passed:   []Outcome{},
		Failed:   []Outcome{},
		Warnings: []Outcome{},
	}
}

// Merge appends other's buckets after r's, preserving order
func (r *EvaluationResult) Merge(other *EvaluationResult) {
	if other == nil {
		return
	}
	r.Passed = append(r.Passed, other.Passed...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasFailures reports whether any blocking outcome was recorded
func (r *EvaluationResult) HasFailures() bool {
	return len(r.Failed) > 0
}

// MaxSeverity returns the highest severity among failed outcomes, or 0 if none failed
func (r *EvaluationResult) MaxSeverity() Severity {
	var highest Severity
	for _, o := range r.Failed {
		if o.Severity > highest {
			highest = o.Severity
		}
	}
	return highest
}
