package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingContext is wrapped by ConfigurationError when a rule needs a runtime context
	ErrMissingContext = errors.New("rule requires a runtime context")

	// ErrInvalidRule is returned when a rule is registered without a group or name
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidDefinition is returned when a stored rule definition fails validation
	ErrInvalidDefinition = errors.New("invalid rule definition")

	// ErrConditionTimeout is the fault recorded when a condition does not finish in time
	ErrConditionTimeout = errors.New("rule condition timed out")
)

// ConfigurationError signals a setup defect rather than a business violation.
type ConfigurationError struct {
	RuleID string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in rule %s: %v", e.RuleID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ConditionFault wraps anything that went wrong while running a condition.
type ConditionFault struct {
	RuleID string
	Err    error
}

func (e *ConditionFault) Error() string {
	return fmt.Sprintf("rule %s condition failed: %v", e.RuleID, e.Err)
}

func (e *ConditionFault) Unwrap() error {
	return e.Err
}
