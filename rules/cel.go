package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Cost limit prevents resource exhaustion from runaway expressions
const celCostLimit = 1000000

// CELCompiler turns rule definitions into conditions. Expressions see three
// variables: entity, context and now (the evaluation timestamp).
type CELCompiler struct {
	env *cel.Env
	now Clock
}

// NewCELCompiler creates a compiler with the storefront CEL environment. A nil clock uses time.Now.
func NewCELCompiler(clock Clock) (*CELCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("entity", cel.DynType),
		cel.Variable("context", cel.DynType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &CELCompiler{env: env, now: clock}, nil
}

func (c *CELCompiler) program(expression string, want *cel.Type) (cel.Program, error) {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(want) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression yields %s, want %s", out, want)
	}

	prog, err := c.env.Program(ast,
		cel.CostLimit(celCostLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

func (c *CELCompiler) activation(entity Entity, rc Context) map[string]any {
	if entity == nil {
		entity = Entity{}
	}
	if rc == nil {
		rc = Context{}
	}
	return map[string]any{
		"entity":  entity,
		"context": rc,
		"now":     c.now(),
	}
}

// CompileCondition compiles a boolean CEL expression into a Condition.
// A non-boolean result at runtime is reported as an error, which the evaluator treats as a fault.
func (c *CELCompiler) CompileCondition(expression string) (Condition, error) {
	prog, err := c.program(expression, cel.BoolType)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, entity Entity, rc Context) (bool, error) {
		out, _, err := prog.ContextEval(ctx, c.activation(entity, rc))
		if err != nil {
			return false, err
		}
		passed, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression returned %s, want bool", out.Type().TypeName())
		}
		return passed, nil
	}, nil
}

// CompileMessage compiles a string CEL expression into a message template.
// If the expression fails at runtime, fallback is used instead.
func (c *CELCompiler) CompileMessage(expression, fallback string) (Message, error) {
	prog, err := c.program(expression, cel.StringType)
	if err != nil {
		return Message{}, err
	}

	return Template(func(entity Entity, rc Context) string {
		out, _, err := prog.Eval(c.activation(entity, rc))
		if err != nil {
			return fallback
		}
		if s, ok := out.Value().(string); ok {
			return s
		}
		return fallback
	}), nil
}

// Compile validates d and builds the RuleSpec it describes
func (c *CELCompiler) Compile(d Definition) (RuleSpec, error) {
	if err := ValidateDefinition(d); err != nil {
		return RuleSpec{}, err
	}

	cond, err := c.CompileCondition(d.Expression)
	if err != nil {
		return RuleSpec{}, fmt.Errorf("rule %s: %w", d.RuleID(), err)
	}

	msg := Literal(d.Message)
	if d.MessageExpression != "" {
		msg, err = c.CompileMessage(d.MessageExpression, d.Message)
		if err != nil {
			return RuleSpec{}, fmt.Errorf("rule %s message: %w", d.RuleID(), err)
		}
	}

	return RuleSpec{
		Type:            d.Type,
		Severity:        d.Severity,
		Description:     d.Description,
		Condition:       cond,
		Message:         msg,
		Context:         d.Context,
		RequiresContext: d.RequiresContext,
	}, nil
}

// Register compiles d and adds it to store. Inactive definitions remove any
// previously registered rule with the same id instead.
func (c *CELCompiler) Register(store *Store, d Definition) error {
	if !d.Active {
		store.RemoveRule(d.Group, d.Name)
		return nil
	}
	spec, err := c.Compile(d)
	if err != nil {
		return err
	}
	return store.AddRule(d.Group, d.Name, spec)
}
