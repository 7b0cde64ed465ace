// Package validation composes rule-group evaluations for one logical storefront operation.
package validation

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"github.com/liamcoop/shoprules/rules"
)

// UnknownEntityTypeError is returned when no validator is registered for an entity type.
type UnknownEntityTypeError struct {
	EntityType string
}

func (e *UnknownEntityTypeError) Error() string {
	return fmt.Sprintf("unknown entity type %q (known: %v)", e.EntityType, EntityTypes())
}

// InvalidSubEntityError is returned when a context bundle entry such as
// paymentData is present but is not an object.
type InvalidSubEntityError struct {
	Key   string
	Value any
}

func (e *InvalidSubEntityError) Error() string {
	return fmt.Sprintf("context %s must be an object, got %T", e.Key, e.Value)
}

// Evaluator is the subset of *rules.Evaluator the orchestrator needs
type Evaluator interface {
	EvaluateRules(ctx context.Context, group string, entity rules.Entity, rc rules.Context) (*rules.EvaluationResult, error)
}

type validateFunc func(o *Orchestrator, ctx context.Context, entity rules.Entity, rc rules.Context) (*rules.EvaluationResult, error)

// validators is the fixed dispatch table from entity type to validation routine.
var validators = map[string]validateFunc{
	rules.GroupOrder:    (*Orchestrator).ValidateOrder,
	rules.GroupProduct:  (*Orchestrator).ValidateProduct,
	rules.GroupPayment:  (*Orchestrator).ValidatePayment,
	rules.GroupCustomer: (*Orchestrator).ValidateCustomer,
}

// EntityTypes lists the entity types accepted by Validate
func EntityTypes() []string {
	types := make([]string, 0, len(validators))
	for t := range validators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Orchestrator merges evaluations of the order, payment and customer groups
type Orchestrator struct {
	evaluator Evaluator
}

// NewOrchestrator creates an orchestrator on top of evaluator
func NewOrchestrator(evaluator Evaluator) *Orchestrator {
	return &Orchestrator{evaluator: evaluator}
}

// Validate dispatches to the validator registered for entityType
func (o *Orchestrator) Validate(ctx context.Context, entityType string, entity rules.Entity, rc rules.Context) (*rules.EvaluationResult, error) {
	fn, ok := validators[entityType]
	if !ok {
		return nil, &UnknownEntityTypeError{EntityType: entityType}
	}
	return fn(o, ctx, entity, rc)
}

// ValidateOrder evaluates an order attempt:
//   - the order group against the order, with items defaulted to an empty list
//   - the payment group against context paymentData, when present
//   - the customer group against context customerData, when present, with
//     orderAmount taken from the order total
//
// Results are merged in that order. rc is not modified. A paymentData or
// customerData entry that is not an object fails with *InvalidSubEntityError
// before any rule runs.
func (o *Orchestrator) ValidateOrder(ctx context.Context, order rules.Entity, rc rules.Context) (*rules.EvaluationResult, error) {
	orderCtx := cloneContext(rc)
	if _, ok := orderCtx[rules.ContextItems]; !ok || orderCtx[rules.ContextItems] == nil {
		orderCtx[rules.ContextItems] = []any{}
	}

	payment, hasPayment, err := subEntity(orderCtx, rules.ContextPayment)
	if err != nil {
		return nil, err
	}
	customer, hasCustomer, err := subEntity(orderCtx, rules.ContextCustomer)
	if err != nil {
		return nil, err
	}

	result, err := o.evaluator.EvaluateRules(ctx, rules.GroupOrder, order, orderCtx)
	if err != nil {
		return nil, fmt.Errorf("order rules: %w", err)
	}

	if hasPayment {
		paymentResult, err := o.evaluator.EvaluateRules(ctx, rules.GroupPayment, payment, orderCtx)
		if err != nil {
			return nil, fmt.Errorf("payment rules: %w", err)
		}
		result.Merge(paymentResult)
	}

	if hasCustomer {
		customerCtx := maps.Clone(orderCtx)
		customerCtx[rules.ContextOrderAmount] = order[rules.FieldOrderTotal]

		customerResult, err := o.evaluator.EvaluateRules(ctx, rules.GroupCustomer, customer, customerCtx)
		if err != nil {
			return nil, fmt.Errorf("customer rules: %w", err)
		}
		result.Merge(customerResult)
	}

	return result, nil
}

// ValidateProduct evaluates the product group
func (o *Orchestrator) ValidateProduct(ctx context.Context, product rules.Entity, rc rules.Context) (*rules.EvaluationResult, error) {
	return o.single(ctx, rules.GroupProduct, product, rc)
}

// ValidatePayment evaluates the payment group
func (o *Orchestrator) ValidatePayment(ctx context.Context, payment rules.Entity, rc rules.Context) (*rules.EvaluationResult, error) {
	return o.single(ctx, rules.GroupPayment, payment, rc)
}

// ValidateCustomer evaluates the customer group
func (o *Orchestrator) ValidateCustomer(ctx context.Context, customer rules.Entity, rc rules.Context) (*rules.EvaluationResult, error) {
	return o.single(ctx, rules.GroupCustomer, customer, rc)
}

func (o *Orchestrator) single(ctx context.Context, group string, entity rules.Entity, rc rules.Context) (*rules.EvaluationResult, error) {
	result, err := o.evaluator.EvaluateRules(ctx, group, entity, cloneContext(rc))
	if err != nil {
		return nil, fmt.Errorf("%s rules: %w", group, err)
	}
	return result, nil
}

// cloneContext returns a shallow copy of rc; a nil context becomes empty.
func cloneContext(rc rules.Context) rules.Context {
	if rc == nil {
		return rules.Context{}
	}
	return maps.Clone(rc)
}

// subEntity reads a nested entity from rc. A missing or null entry is absent;
// any other non-object value is an *InvalidSubEntityError.
func subEntity(rc rules.Context, key string) (rules.Entity, bool, error) {
	raw, ok := rc[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	v, ok := raw.(map[string]any)
	if !ok {
		return nil, false, &InvalidSubEntityError{Key: key, Value: raw}
	}
	return v, true, nil
}
