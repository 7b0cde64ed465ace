package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// ErrDefinitionNotFound is returned when no definition exists for a group:name
var ErrDefinitionNotFound = errors.New("rule definition not found")

// PostgresDefinitionSource persists CEL rule definitions. The registry stays in
// memory; the source only feeds it at startup and records admin changes.
type PostgresDefinitionSource struct {
	db *sql.DB
}

// NewPostgresDefinitionSource creates a source backed by db
func NewPostgresDefinitionSource(db *sql.DB) *PostgresDefinitionSource {
	return &PostgresDefinitionSource{db: db}
}

const definitionColumns = `id, rule_group, name, rule_type, severity, description, expression,
	message, message_expression, context, requires_context, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var (
		d           Definition
		ruleType    string
		severity    string
		contextJSON []byte
	)
	if err := row.Scan(&d.ID, &d.Group, &d.Name, &ruleType, &severity, &d.Description, &d.Expression,
		&d.Message, &d.MessageExpression, &contextJSON, &d.RequiresContext, &d.Active,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	d.Type = RuleType(ruleType)
	sev, err := ParseSeverity(severity)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", d.RuleID(), err)
	}
	d.Severity = sev

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &d.Context); err != nil {
			return nil, fmt.Errorf("invalid context for rule %s: %w", d.RuleID(), err)
		}
	}
	return &d, nil
}

// Get retrieves the definition registered under group:name
func (s *PostgresDefinitionSource) Get(ctx context.Context, group, name string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		WHERE rule_group = $1 AND name = $2
	`, group, name)

	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, RuleID(group, name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule definition: %w", err)
	}
	return d, nil
}

// List returns every definition in creation order
func (s *PostgresDefinitionSource) List(ctx context.Context) ([]*Definition, error) {
	return s.list(ctx, false)
}

// ListActive returns active definitions in creation order
func (s *PostgresDefinitionSource) ListActive(ctx context.Context) ([]*Definition, error) {
	return s.list(ctx, true)
}

func (s *PostgresDefinitionSource) list(ctx context.Context, activeOnly bool) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		WHERE active = true OR $1 = false
		ORDER BY created_at ASC, rule_group ASC, name ASC
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule definitions: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule definition: %w", err)
		}
		defs = append(defs, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule definitions: %w", err)
	}
	return defs, nil
}

// Save inserts d or replaces the definition with the same group:name.
// ID and timestamps are filled in on d.
func (s *PostgresDefinitionSource) Save(ctx context.Context, d *Definition) error {
	if err := ValidateDefinition(*d); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	contextJSON, err := json.Marshal(d.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rule_definitions (`+definitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (rule_group, name) DO UPDATE SET
			rule_type = EXCLUDED.rule_type,
			severity = EXCLUDED.severity,
			description = EXCLUDED.description,
			expression = EXCLUDED.expression,
			message = EXCLUDED.message,
			message_expression = EXCLUDED.message_expression,
			context = EXCLUDED.context,
			requires_context = EXCLUDED.requires_context,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, d.ID, d.Group, d.Name, string(d.Type), d.Severity.String(), d.Description, d.Expression,
		d.Message, d.MessageExpression, string(contextJSON), d.RequiresContext, d.Active, now,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rule definition: %w", err)
	}
	return nil
}

// Delete removes the definition registered under group:name
func (s *PostgresDefinitionSource) Delete(ctx context.Context, group, name string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rule_definitions
		WHERE rule_group = $1 AND name = $2
	`, group, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, RuleID(group, name))
	}
	return nil
}

// LoadInto compiles every active definition and registers it in store.
// Stored definitions override built-in rules with the same id.
func (s *PostgresDefinitionSource) LoadInto(ctx context.Context, store *Store, compiler *CELCompiler) (int, error) {
	defs, err := s.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	for _, d := range defs {
		if err := compiler.Register(store, *d); err != nil {
			return 0, fmt.Errorf("failed to load rule %s: %w", d.RuleID(), err)
		}
	}
	return len(defs), nil
}
