package sla

import (
	"context"
	"fmt"
	"log/slog"

	"slasentinel/internal/types"
)

// ViolationStore persists violation episodes for the reconciler. ReconcileOpen
// must be atomic: concurrent calls for the same (shipment, rule) pair must
// converge on a single open episode, with created reported true for exactly
// one caller.
type ViolationStore interface {
	// ReconcileOpen refreshes the delay on the open episode for the pair if
	// one exists, or creates a fresh detected episode otherwise. It returns
	// the episode and whether this call created it.
	ReconcileOpen(ctx context.Context, res types.MonitoringResult) (types.SLAViolation, bool, error)
}

// ActionDispatcher triggers the remedial action pipeline for an episode,
// returning the pass's channel outcomes.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, violationID string) (types.ActionLog, error)
}

// Reconciler folds violated verdicts into the violation store and dispatches
// actions exactly once per episode, on creation. Refreshing an already open
// episode never re-fires actions.
type Reconciler struct {
	store      ViolationStore
	dispatcher ActionDispatcher
	logger     *slog.Logger
}

func NewReconciler(store ViolationStore, dispatcher ActionDispatcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, dispatcher: dispatcher, logger: logger}
}

// Reconcile persists the verdict and, when a new episode was created, runs
// its action pipeline. A dispatch failure does not fail reconciliation: the
// episode exists and can be retriggered manually.
func (r *Reconciler) Reconcile(ctx context.Context, res types.MonitoringResult) error {
	if !res.IsViolated {
		return nil
	}

	violation, created, err := r.store.ReconcileOpen(ctx, res)
	if err != nil {
		return fmt.Errorf("reconciling open episode: %w", err)
	}

	if !created {
		r.logger.InfoContext(ctx, "open violation refreshed",
			"violation_id", violation.ID,
			"shipment_id", res.ShipmentID,
			"rule_id", res.RuleID,
			"delay_minutes", violation.DelayMinutes,
		)
		return nil
	}

	r.logger.InfoContext(ctx, "violation detected",
		"violation_id", violation.ID,
		"shipment_id", res.ShipmentID,
		"rule_id", res.RuleID,
		"rule_name", res.RuleName,
		"delay_minutes", violation.DelayMinutes,
	)

	if _, err := r.dispatcher.Dispatch(ctx, violation.ID); err != nil {
		r.logger.ErrorContext(ctx, "action dispatch failed",
			"violation_id", violation.ID,
			"error", err,
		)
	}
	return nil
}
