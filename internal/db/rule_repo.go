package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"slasentinel/internal/types"
)

// ListRulesParams filters rule listing. Zero values mean no constraint.
type ListRulesParams struct {
	RuleType string
	IsActive *bool
	Limit    int
	Offset   int
}

// RuleRepository provides data access for the sla_rules table.
type RuleRepository struct {
	db DBTX
}

func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `r.id, r.name, r.description, r.rule_type, r.priority,
	r.threshold_minutes, r.grace_period_minutes,
	r.conditions, r.actions, r.is_active,
	r.created_at, r.updated_at`

func scanRule(row pgx.Row) (*types.SLARule, error) {
	var rule types.SLARule
	var description *string

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&description,
		&rule.RuleType,
		&rule.Priority,
		&rule.ThresholdMinutes,
		&rule.GracePeriodMinutes,
		&rule.Conditions,
		&rule.Actions,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description != nil {
		rule.Description = *description
	}
	return &rule, nil
}

// Create inserts a new rule. The caller must set the ID before calling.
func (r *RuleRepository) Create(ctx context.Context, rule *types.SLARule) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sla_rules (
			id, name, description, rule_type, priority,
			threshold_minutes, grace_period_minutes,
			conditions, actions, is_active,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10,
			NOW(), NOW()
		)`,
		rule.ID,
		rule.Name,
		nilIfEmpty(rule.Description),
		rule.RuleType,
		rule.Priority,
		rule.ThresholdMinutes,
		rule.GracePeriodMinutes,
		rule.Conditions,
		rule.Actions,
		rule.IsActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create rule", err)
	}
	return nil
}

// GetByID retrieves a rule. Returns ErrCodeNotFoundRule if absent.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*types.SLARule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM sla_rules r WHERE r.id = $1`, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve rule", err)
	}
	return rule, nil
}

// Update rewrites the mutable fields of an existing rule.
func (r *RuleRepository) Update(ctx context.Context, rule *types.SLARule) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sla_rules SET
			name = $1,
			description = $2,
			rule_type = $3,
			priority = $4,
			threshold_minutes = $5,
			grace_period_minutes = $6,
			conditions = $7,
			actions = $8,
			is_active = $9,
			updated_at = NOW()
		 WHERE id = $10`,
		rule.Name,
		nilIfEmpty(rule.Description),
		rule.RuleType,
		rule.Priority,
		rule.ThresholdMinutes,
		rule.GracePeriodMinutes,
		rule.Conditions,
		rule.Actions,
		rule.IsActive,
		rule.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
	}
	return nil
}

// Delete removes a rule. Historical violations keep their rule_id; the
// reporting join tolerates the dangling reference.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sla_rules WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
	}
	return nil
}

// List retrieves rules with optional filtering, newest first.
func (r *RuleRepository) List(ctx context.Context, params ListRulesParams) ([]types.SLARule, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if params.RuleType != "" {
		conditions = append(conditions, fmt.Sprintf("r.rule_type = $%d", argIdx))
		args = append(args, params.RuleType)
		argIdx++
	}
	if params.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("r.is_active = $%d", argIdx))
		args = append(args, *params.IsActive)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s FROM sla_rules r
		 WHERE %s
		 ORDER BY r.created_at DESC
		 LIMIT $%d OFFSET $%d`,
		ruleColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1,
	)
	args = append(args, limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list rules", err)
	}
	defer rows.Close()

	var results []types.SLARule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule row", scanErr)
		}
		results = append(results, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating rule rows", err)
	}
	return results, nil
}

// ListActive returns every active rule, the monitoring pass working set.
func (r *RuleRepository) ListActive(ctx context.Context) ([]types.SLARule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+`
		 FROM sla_rules r
		 WHERE r.is_active
		 ORDER BY r.created_at`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active rules", err)
	}
	defer rows.Close()

	var results []types.SLARule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule row", scanErr)
		}
		results = append(results, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating rule rows", err)
	}
	return results, nil
}

// nilIfEmpty maps empty strings to nil for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
