package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"slasentinel/internal/types"
)

// ListViolationsParams filters violation listing. Zero values mean no
// constraint.
type ListViolationsParams struct {
	Status     string
	RuleID     string
	ShipmentID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// ViolationRepository provides data access for the sla_violations table and
// its archive. It requires a TxBeginner because episode reconciliation and
// batch archival are multi-statement transactions.
//
// Schema note: the one-open-episode invariant is backed by a partial unique
// index
//
//	CREATE UNIQUE INDEX sla_violations_open_episode
//	ON sla_violations (shipment_id, rule_id)
//	WHERE status IN ('detected', 'processing');
//
// ReconcileOpen serializes writers with SELECT ... FOR UPDATE and treats a
// unique-index conflict as the lost side of a race.
type ViolationRepository struct {
	db    TxBeginner
	clock types.Clock
}

func NewViolationRepository(db TxBeginner, clock types.Clock) *ViolationRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ViolationRepository{db: db, clock: clock}
}

const violationColumns = `v.id, v.shipment_id, v.rule_id, v.status,
	v.delay_minutes, v.detected_at, v.resolved_at,
	v.actions_taken, v.notes`

func scanViolation(row pgx.Row) (*types.SLAViolation, error) {
	var v types.SLAViolation
	var notes *string

	err := row.Scan(
		&v.ID,
		&v.ShipmentID,
		&v.RuleID,
		&v.Status,
		&v.DelayMinutes,
		&v.DetectedAt,
		&v.ResolvedAt,
		&v.ActionsTaken,
		&notes,
	)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		v.Notes = *notes
	}
	return &v, nil
}

// GetByID retrieves a violation. Returns ErrCodeNotFoundViolation if absent.
func (r *ViolationRepository) GetByID(ctx context.Context, id string) (*types.SLAViolation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+violationColumns+` FROM sla_violations v WHERE v.id = $1`, id)

	v, err := scanViolation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundViolation, "violation not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve violation", err)
	}
	return v, nil
}

// GetDetail hydrates a violation with its owning rule and shipment snapshot,
// as the action dispatcher needs them.
func (r *ViolationRepository) GetDetail(ctx context.Context, violationID string) (types.ViolationDetail, error) {
	violation, err := r.GetByID(ctx, violationID)
	if err != nil {
		return types.ViolationDetail{}, err
	}

	ruleRow := r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM sla_rules r WHERE r.id = $1`, violation.RuleID)
	rule, err := scanRule(ruleRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ViolationDetail{}, types.NewAppError(types.ErrCodeNotFoundRule,
				fmt.Sprintf("rule %s referenced by violation %s no longer exists", violation.RuleID, violationID), nil)
		}
		return types.ViolationDetail{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load violation rule", err)
	}

	shipmentRow := r.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments s WHERE s.id = $1`, violation.ShipmentID)
	shipment, err := scanShipment(shipmentRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ViolationDetail{}, types.NewAppError(types.ErrCodeNotFoundShipment,
				fmt.Sprintf("shipment %s referenced by violation %s no longer exists", violation.ShipmentID, violationID), nil)
		}
		return types.ViolationDetail{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load violation shipment", err)
	}

	return types.ViolationDetail{
		Violation: *violation,
		Rule:      *rule,
		Shipment:  *shipment,
	}, nil
}

// ReconcileOpen atomically refreshes or creates the open episode for the
// verdict's (shipment, rule) pair. Inside one transaction it locks the open
// row if present and updates its delay; otherwise it inserts a fresh
// detected episode. A unique-index conflict on insert means a concurrent
// reconciler won the create; the loser re-reads and reports created=false.
func (r *ViolationRepository) ReconcileOpen(ctx context.Context, res types.MonitoringResult) (types.SLAViolation, bool, error) {
	delay := 0
	if res.DelayMinutes != nil {
		delay = *res.DelayMinutes
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to begin reconcile transaction", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+violationColumns+`
		 FROM sla_violations v
		 WHERE v.shipment_id = $1 AND v.rule_id = $2
		   AND v.status IN ('detected', 'processing')
		 FOR UPDATE`,
		res.ShipmentID, res.RuleID,
	)

	existing, err := scanViolation(row)
	switch {
	case err == nil:
		// Open episode exists: refresh the measured delay only.
		_, err = tx.Exec(ctx,
			`UPDATE sla_violations SET delay_minutes = $1 WHERE id = $2`,
			delay, existing.ID,
		)
		if err != nil {
			return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to refresh open violation", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit violation refresh", err)
		}
		existing.DelayMinutes = delay
		return *existing, false, nil

	case errors.Is(err, pgx.ErrNoRows):
		violation := types.SLAViolation{
			ID:           uuid.NewString(),
			ShipmentID:   res.ShipmentID,
			RuleID:       res.RuleID,
			Status:       types.ViolationDetected,
			DelayMinutes: delay,
			DetectedAt:   r.clock.Now(),
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO sla_violations (
				id, shipment_id, rule_id, status,
				delay_minutes, detected_at, actions_taken
			) VALUES ($1, $2, $3, $4, $5, $6, '[]'::jsonb)`,
			violation.ID, violation.ShipmentID, violation.RuleID, violation.Status,
			violation.DelayMinutes, violation.DetectedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				// A concurrent pass created the episode between our select
				// and insert. Surface the winner's row as a refresh.
				tx.Rollback(ctx)
				return r.loseRace(ctx, res.ShipmentID, res.RuleID, delay)
			}
			return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to create violation", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit violation create", err)
		}
		return violation, true, nil

	default:
		return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to query open violation", err)
	}
}

// loseRace handles the losing side of a concurrent create: read the winner's
// open episode and refresh its delay.
func (r *ViolationRepository) loseRace(ctx context.Context, shipmentID, ruleID string, delay int) (types.SLAViolation, bool, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE sla_violations SET delay_minutes = $1
		 WHERE shipment_id = $2 AND rule_id = $3
		   AND status IN ('detected', 'processing')
		 RETURNING id, shipment_id, rule_id, status,
		   delay_minutes, detected_at, resolved_at, actions_taken, notes`,
		delay, shipmentID, ruleID,
	)
	v, err := scanViolation(row)
	if err != nil {
		return types.SLAViolation{}, false, types.NewAppError(types.ErrCodeConflictConcurrent,
			"concurrent reconciliation left no open episode", err)
	}
	return *v, false, nil
}

// SetStatus transitions a violation's status without touching resolution.
func (r *ViolationRepository) SetStatus(ctx context.Context, violationID string, status types.ViolationStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sla_violations SET status = $1 WHERE id = $2`,
		status, violationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set violation status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundViolation, "violation not found", nil)
	}
	return nil
}

// AppendActions appends channel outcomes to the episode's action log.
// JSONB concatenation keeps the log append-only; earlier entries are never
// rewritten.
func (r *ViolationRepository) AppendActions(ctx context.Context, violationID string, results types.ActionLog) error {
	if len(results) == 0 {
		return nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE sla_violations
		 SET actions_taken = COALESCE(actions_taken, '[]'::jsonb) || $1
		 WHERE id = $2`,
		results, violationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append action results", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundViolation, "violation not found", nil)
	}
	return nil
}

// CloseEpisode finalizes a dispatch pass: resolved episodes record their
// resolution time, escalated ones leave it null. A non-empty note becomes
// the episode's diagnostic; an empty note preserves whatever is there.
func (r *ViolationRepository) CloseEpisode(ctx context.Context, violationID string, status types.ViolationStatus, resolvedAt *time.Time, note string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sla_violations
		 SET status = $1, resolved_at = $2, notes = COALESCE(NULLIF($3, ''), notes)
		 WHERE id = $4`,
		status, resolvedAt, note, violationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to close violation episode", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundViolation, "violation not found", nil)
	}
	return nil
}

const violationWithRuleColumns = violationColumns + `,
	COALESCE(r.name, ''), COALESCE(r.rule_type, ''), COALESCE(r.priority, '')`

func scanViolationWithRule(rows pgx.Rows) (*types.ViolationWithRule, error) {
	var vr types.ViolationWithRule
	var notes *string

	err := rows.Scan(
		&vr.Violation.ID,
		&vr.Violation.ShipmentID,
		&vr.Violation.RuleID,
		&vr.Violation.Status,
		&vr.Violation.DelayMinutes,
		&vr.Violation.DetectedAt,
		&vr.Violation.ResolvedAt,
		&vr.Violation.ActionsTaken,
		&notes,
		&vr.RuleName,
		&vr.RuleType,
		&vr.RulePriority,
	)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		vr.Violation.Notes = *notes
	}
	return &vr, nil
}

// List retrieves violations joined with their rule's reporting fields,
// newest first. The join is LEFT OUTER so episodes survive rule deletion.
func (r *ViolationRepository) List(ctx context.Context, params ListViolationsParams) ([]types.ViolationWithRule, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("v.status = $%d", argIdx))
		args = append(args, params.Status)
		argIdx++
	}
	if params.RuleID != "" {
		conditions = append(conditions, fmt.Sprintf("v.rule_id = $%d", argIdx))
		args = append(args, params.RuleID)
		argIdx++
	}
	if params.ShipmentID != "" {
		conditions = append(conditions, fmt.Sprintf("v.shipment_id = $%d", argIdx))
		args = append(args, params.ShipmentID)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("v.detected_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("v.detected_at < $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM sla_violations v
		 LEFT JOIN sla_rules r ON r.id = v.rule_id
		 WHERE %s
		 ORDER BY v.detected_at DESC
		 LIMIT $%d OFFSET $%d`,
		violationWithRuleColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1,
	)
	args = append(args, limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list violations", err)
	}
	defer rows.Close()

	var results []types.ViolationWithRule
	for rows.Next() {
		vr, scanErr := scanViolationWithRule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan violation row", scanErr)
		}
		results = append(results, *vr)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating violation rows", err)
	}
	return results, nil
}

// ListWithRules is the reporting query behind the summary aggregation. Nil
// bounds mean no constraint on detection time.
func (r *ViolationRepository) ListWithRules(ctx context.Context, from, to *time.Time) ([]types.ViolationWithRule, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if from != nil {
		conditions = append(conditions, fmt.Sprintf("v.detected_at >= $%d", argIdx))
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		conditions = append(conditions, fmt.Sprintf("v.detected_at < $%d", argIdx))
		args = append(args, *to)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM sla_violations v
		 LEFT JOIN sla_rules r ON r.id = v.rule_id
		 WHERE %s`,
		violationWithRuleColumns, strings.Join(conditions, " AND "),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list violations for summary", err)
	}
	defer rows.Close()

	var results []types.ViolationWithRule
	for rows.Next() {
		vr, scanErr := scanViolationWithRule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan violation row", scanErr)
		}
		results = append(results, *vr)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating violation rows", err)
	}
	return results, nil
}

// ListArchivable returns closed episodes resolved before the cutoff, oldest
// first, up to limit rows.
func (r *ViolationRepository) ListArchivable(ctx context.Context, before time.Time, limit int) ([]types.SLAViolation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+violationColumns+`
		 FROM sla_violations v
		 WHERE v.status IN ('resolved', 'escalated')
		   AND COALESCE(v.resolved_at, v.detected_at) < $1
		 ORDER BY v.detected_at
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable violations", err)
	}
	defer rows.Close()

	var results []types.SLAViolation
	for rows.Next() {
		v, scanErr := scanViolation(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan violation row", scanErr)
		}
		results = append(results, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating violation rows", err)
	}
	return results, nil
}

// ArchiveBatch moves a compacted batch into sla_violation_archives and
// deletes the source rows, atomically.
func (r *ViolationRepository) ArchiveBatch(ctx context.Context, violationIDs []string, compressed []byte) error {
	if len(violationIDs) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin archive transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO sla_violation_archives (id, violation_count, payload, archived_at)
		 VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), len(violationIDs), compressed, r.clock.Now(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write violation archive", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM sla_violations WHERE id = ANY($1)`, violationIDs)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived violations", err)
	}
	if tag.RowsAffected() != int64(len(violationIDs)) {
		return types.NewAppError(types.ErrCodeConflictConcurrent,
			"archived violation set changed during archival", nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit violation archive", err)
	}
	return nil
}
