package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Definition is a rule declared as data: a CEL expression plus metadata.
// Definitions are validated, compiled with a CELCompiler and registered in a Store.
type Definition struct {
	ID                string         `json:"id"`
	Group             string         `json:"group"`
	Name              string         `json:"name"`
	Type              RuleType       `json:"type"`
	Severity          Severity       `json:"severity"`
	Description       string         `json:"description"`
	Expression        string         `json:"expression"`
	Message           string         `json:"message,omitempty"`
	MessageExpression string         `json:"messageExpression,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	RequiresContext   bool           `json:"requiresContext,omitempty"`
	Active            bool           `json:"active"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// RuleID returns the group:name key the definition registers under
func (d Definition) RuleID() string {
	return RuleID(d.Group, d.Name)
}

const (
	maxIdentifierLength = 100
	maxExpressionLength = 4096
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateDefinition checks a definition before it is compiled.
// Returns an error wrapping ErrInvalidDefinition, nil if the definition is valid
func ValidateDefinition(d Definition) error {
	if err := validateIdentifier(d.Group); err != nil {
		return fmt.Errorf("%w: invalid group %q: %v", ErrInvalidDefinition, d.Group, err)
	}
	if err := validateIdentifier(d.Name); err != nil {
		return fmt.Errorf("%w: invalid name %q: %v", ErrInvalidDefinition, d.Name, err)
	}

	if !d.Type.Valid() {
		return fmt.Errorf("%w: rule %s has unknown type %q (must be one of: VALIDATION, BUSINESS, COMPLIANCE, RISK)",
			ErrInvalidDefinition, d.RuleID(), d.Type)
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("%w: rule %s has unknown severity %s", ErrInvalidDefinition, d.RuleID(), d.Severity)
	}

	if strings.TrimSpace(d.Expression) == "" {
		return fmt.Errorf("%w: rule %s has an empty expression", ErrInvalidDefinition, d.RuleID())
	}
	if len(d.Expression) > maxExpressionLength {
		return fmt.Errorf("%w: rule %s expression length %d exceeds maximum of %d",
			ErrInvalidDefinition, d.RuleID(), len(d.Expression), maxExpressionLength)
	}
	if len(d.MessageExpression) > maxExpressionLength {
		return fmt.Errorf("%w: rule %s message expression length %d exceeds maximum of %d",
			ErrInvalidDefinition, d.RuleID(), len(d.MessageExpression), maxExpressionLength)
	}

	for key := range d.Context {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: rule %s has an empty context key", ErrInvalidDefinition, d.RuleID())
		}
	}

	return nil
}

// validateIdentifier validates a group or rule name:
// 1-100 characters matching ^[a-zA-Z_][a-zA-Z0-9_]*$
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}
