package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slasentinel/internal/types"
)

// DefaultMonitorInterval is the scheduled pass cadence when the config does
// not specify one.
const DefaultMonitorInterval = 5 * time.Minute

// RuleStore provides the active rule set for a monitoring pass.
type RuleStore interface {
	ListActive(ctx context.Context) ([]types.SLARule, error)
}

// ShipmentSource is the read-only view of shipment records owned by the
// surrounding system.
type ShipmentSource interface {
	ListForQuery(ctx context.Context, q types.ShipmentQuery) ([]types.Shipment, error)
}

// ViolationReconciler receives each violated verdict of a pass.
type ViolationReconciler interface {
	Reconcile(ctx context.Context, res types.MonitoringResult) error
}

// PassStats summarizes one monitoring pass for metrics emission.
type PassStats struct {
	RulesEvaluated     int
	ShipmentsEvaluated int
	ViolationsFound    int
	Duration           time.Duration
}

// PassRecorder publishes pass metrics. Implementations must not block the
// pass on publish failures.
type PassRecorder interface {
	RecordMonitoringPass(ctx context.Context, stats PassStats)
}

// Monitor is the engine's only temporal driver. It owns its ticker and is
// started and stopped by the host process lifecycle; there is no ambient
// module-level scheduler.
type Monitor struct {
	rules      RuleStore
	shipments  ShipmentSource
	reconciler ViolationReconciler
	metrics    PassRecorder
	interval   time.Duration
	clock      types.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// MonitorConfig holds the dependencies for creating a Monitor.
type MonitorConfig struct {
	Rules      RuleStore
	Shipments  ShipmentSource
	Reconciler ViolationReconciler
	Metrics    PassRecorder
	Interval   time.Duration
	Clock      types.Clock
	Logger     *slog.Logger
}

// NewMonitor creates a Monitor with the given configuration.
func NewMonitor(cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopPassRecorder{}
	}
	return &Monitor{
		rules:      cfg.Rules,
		shipments:  cfg.Shipments,
		reconciler: cfg.Reconciler,
		metrics:    metrics,
		interval:   interval,
		clock:      clock,
		logger:     logger,
	}
}

type noopPassRecorder struct{}

func (noopPassRecorder) RecordMonitoringPass(context.Context, PassStats) {}

// Start launches the scheduled monitoring loop. It returns immediately; the
// loop runs until Stop is called or the context is cancelled. Calling Start
// on an already running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})

	go m.loop(ctx, m.stop, m.stopped)

	m.logger.InfoContext(ctx, "sla monitor started",
		"interval", m.interval.String(),
	)
}

// Stop terminates the scheduled loop and waits for the in-flight pass, if
// any, to finish. Safe to call on a monitor that was never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, stopped := m.stop, m.stopped
	m.stop, m.stopped = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

// loop runs the ticker until stopped. A scheduled pass logs failures and
// continues; it never crashes the host process.
func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.ErrorContext(ctx, "scheduled monitoring pass failed",
					"error", err,
				)
			}
		}
	}
}

// RunOnce performs one full monitoring pass: load active rules, select and
// evaluate candidates per rule, and hand every violated verdict to the
// reconciler. It returns every evaluated (shipment, rule) verdict.
//
// Rules are independent: a failure while processing one rule is logged and
// does not abort the remaining rules. RunOnce only returns an error when the
// rule set itself cannot be loaded.
func (m *Monitor) RunOnce(ctx context.Context) ([]types.MonitoringResult, error) {
	started := m.clock.Now()

	rules, err := m.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active rules: %w", err)
	}
	if len(rules) == 0 {
		m.logger.WarnContext(ctx, "no active sla rules configured")
		return []types.MonitoringResult{}, nil
	}

	var results []types.MonitoringResult
	violations := 0

	for i := range rules {
		rule := &rules[i]

		ruleResults, err := m.monitorRule(ctx, rule)
		if err != nil {
			m.logger.ErrorContext(ctx, "rule monitoring failed",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			continue
		}
		results = append(results, ruleResults...)

		for _, res := range ruleResults {
			if !res.IsViolated {
				continue
			}
			violations++
			if err := m.reconciler.Reconcile(ctx, res); err != nil {
				m.logger.ErrorContext(ctx, "violation reconciliation failed",
					"rule_id", res.RuleID,
					"shipment_id", res.ShipmentID,
					"error", err,
				)
			}
		}
	}

	stats := PassStats{
		RulesEvaluated:     len(rules),
		ShipmentsEvaluated: len(results),
		ViolationsFound:    violations,
		Duration:           m.clock.Now().Sub(started),
	}
	m.metrics.RecordMonitoringPass(ctx, stats)

	m.logger.InfoContext(ctx, "monitoring pass complete",
		"rules_evaluated", stats.RulesEvaluated,
		"shipments_evaluated", stats.ShipmentsEvaluated,
		"violations_found", stats.ViolationsFound,
		"duration_ms", stats.Duration.Milliseconds(),
	)

	if results == nil {
		results = []types.MonitoringResult{}
	}
	return results, nil
}

// monitorRule selects the rule's candidates and evaluates each one.
// An unsupported rule type is logged once and the rule skipped entirely.
func (m *Monitor) monitorRule(ctx context.Context, rule *types.SLARule) ([]types.MonitoringResult, error) {
	now := m.clock.Now()

	query := BuildShipmentQuery(rule, now)
	shipments, err := m.shipments.ListForQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	results := make([]types.MonitoringResult, 0, len(shipments))
	for i := range shipments {
		shipment := &shipments[i]

		outcome, err := Evaluate(shipment, rule, now)
		if err != nil {
			if errors.Is(err, ErrUnsupportedRuleType) {
				m.logger.WarnContext(ctx, "rule type not supported, skipping rule",
					"rule_id", rule.ID,
					"rule_type", string(rule.RuleType),
				)
				return results, nil
			}
			m.logger.ErrorContext(ctx, "shipment evaluation failed",
				"rule_id", rule.ID,
				"shipment_id", shipment.ID,
				"error", err,
			)
			continue
		}

		results = append(results, Result(shipment, rule, outcome))
	}

	return results, nil
}
