package rules

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"
)

// DefaultConditionTimeout bounds a single condition invocation
const DefaultConditionTimeout = 2 * time.Second

// EventLogger receives the side effects of an evaluation.
type EventLogger interface {
	// Warn records a HIGH or CRITICAL rule failure
	Warn(msg string, args ...any)
	// Security records a CRITICAL failure; args never contain unredacted entities
	Security(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Warn(string, ...any)     {}
func (discardLogger) Security(string, ...any) {}

// Evaluator runs the rules of a group against an entity and classifies the outcomes.
// It holds no locks of its own; it works on store snapshots, so concurrent
// evaluations and registry mutations are safe.
type Evaluator struct {
	store   *Store
	log     EventLogger
	metrics *Metrics
	timeout time.Duration
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the sink for violation warnings and security events
func WithLogger(l EventLogger) Option {
	return func(ev *Evaluator) {
		if l != nil {
			ev.log = l
		}
	}
}

// WithMetrics records evaluation metrics
func WithMetrics(m *Metrics) Option {
	return func(ev *Evaluator) {
		ev.metrics = m
	}
}

// WithConditionTimeout overrides DefaultConditionTimeout. Zero disables the timeout.
func WithConditionTimeout(d time.Duration) Option {
	return func(ev *Evaluator) {
		ev.timeout = d
	}
}

// NewEvaluator creates an evaluator reading rules from store
func NewEvaluator(store *Store, opts ...Option) *Evaluator {
	ev := &Evaluator{
		store:   store,
		log:     discardLogger{},
		timeout: DefaultConditionTimeout,
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Store returns the registry the evaluator reads from
func (ev *Evaluator) Store() *Store {
	return ev.store
}

// EvaluateRules evaluates every rule of group, in registration order, against
// entity and rc. An unknown group yields an empty result. Every rule lands in
// exactly one bucket; a failing rule never stops the remaining ones.
//
// The only error returned is a *ConfigurationError, when a rule requires a
// runtime context and rc is nil.
func (ev *Evaluator) EvaluateRules(ctx context.Context, group string, entity Entity, rc Context) (*EvaluationResult, error) {
	result := NewEvaluationResult()

	snapshot := ev.store.Snapshot(group)
	if len(snapshot) == 0 {
		return result, nil
	}

	start := time.Now()
	defer func() {
		ev.metrics.recordEvaluation(group, time.Since(start))
	}()

	for _, rule := range snapshot {
		passed, err := ev.EvaluateRule(ctx, rule, entity, rc)

		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}

		switch {
		case err != nil:
			ev.recordFault(result, rule, entity, err)
		case passed:
			result.Passed = append(result.Passed, outcomeFor(rule, rule.Severity, ""))
			ev.metrics.recordOutcome(group, BucketPassed, rule.Severity)
		default:
			ev.recordViolation(result, rule, entity, rc)
		}
	}

	return result, nil
}

// EvaluateRule runs a single rule. It returns a *ConfigurationError when the
// rule needs a context that was not supplied, and a *ConditionFault when the
// condition errors, panics, is missing or exceeds the condition timeout.
func (ev *Evaluator) EvaluateRule(ctx context.Context, rule Rule, entity Entity, rc Context) (bool, error) {
	if rule.RequiresContext && rc == nil {
		return false, &ConfigurationError{RuleID: rule.ID(), Err: ErrMissingContext}
	}
	if rc == nil {
		rc = Context{}
	}

	passed, err := ev.runCondition(ctx, rule, entity, rc)
	if err != nil {
		return false, &ConditionFault{RuleID: rule.ID(), Err: err}
	}
	return passed, nil
}

type conditionResult struct {
	passed bool
	err    error
}

func (ev *Evaluator) runCondition(ctx context.Context, rule Rule, entity Entity, rc Context) (bool, error) {
	if rule.Condition == nil {
		return false, errors.New("rule has no condition")
	}

	if ev.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ev.timeout)
		defer cancel()
	}

	done := make(chan conditionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- conditionResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		passed, err := rule.Condition(ctx, entity, rc)
		done <- conditionResult{passed: passed, err: err}
	}()

	select {
	case res := <-done:
		return res.passed, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, ErrConditionTimeout
		}
		return false, ctx.Err()
	}
}

func (ev *Evaluator) recordViolation(result *EvaluationResult, rule Rule, entity Entity, rc Context) {
	if rc == nil {
		rc = Context{}
	}
	message, err := resolveMessage(rule, entity, rc)
	if err != nil {
		ev.recordFault(result, rule, entity, &ConditionFault{RuleID: rule.ID(), Err: err})
		return
	}
	outcome := outcomeFor(rule, rule.Severity, message)

	bucket := BucketFor(rule.Severity)
	if bucket == BucketWarnings {
		result.Warnings = append(result.Warnings, outcome)
	} else {
		result.Failed = append(result.Failed, outcome)
	}
	ev.metrics.recordOutcome(rule.Group, bucket, rule.Severity)

	if ShouldLog(rule.Severity) {
		ev.log.Warn("business rule violation",
			"rule", outcome.Rule,
			"severity", rule.Severity.String(),
			"message", message,
		)
	}
	if ShouldAudit(rule.Severity) {
		ev.log.Security("critical business rule violation",
			"rule", outcome.Rule,
			"message", message,
			"entity", Sanitize(entity),
		)
	}
}

func (ev *Evaluator) recordFault(result *EvaluationResult, rule Rule, entity Entity, err error) {
	cause := err
	var fault *ConditionFault
	if errors.As(err, &fault) {
		cause = fault.Err
	}

	outcome := outcomeFor(rule, FaultSeverity, fmt.Sprintf("Rule evaluation error: %v", cause))
	result.Failed = append(result.Failed, outcome)
	ev.metrics.recordOutcome(rule.Group, BucketFailed, FaultSeverity)
	ev.metrics.recordFault(outcome.Rule)

	ev.log.Warn("business rule condition fault",
		"rule", outcome.Rule,
		"severity", FaultSeverity.String(),
		"error", cause.Error(),
		"entity", Sanitize(entity),
	)
}

// resolveMessage runs the message template under the same panic guard as conditions
func resolveMessage(rule Rule, entity Entity, rc Context) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rule.Message.Resolve(entity, rc), nil
}

func outcomeFor(rule Rule, sev Severity, message string) Outcome {
	return Outcome{
		Rule:        rule.ID(),
		Description: rule.Description,
		Severity:    sev,
		Message:     message,
		Context:     maps.Clone(rule.Context),
	}
}
