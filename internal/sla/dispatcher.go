package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"slasentinel/internal/types"
)

// DefaultChannelTimeout bounds each individual action channel execution.
const DefaultChannelTimeout = 10 * time.Second

// ActionChannel is one remedial action transport. Execute must not return an
// error: every outcome, success or failure, is reported as an
// ActionExecutionResult so the dispatcher can log it and carry on.
type ActionChannel interface {
	Type() types.ActionType
	// Configured reports whether the rule's action set enables this channel.
	Configured(actions types.ActionSet) bool
	Execute(ctx context.Context, detail types.ViolationDetail) types.ActionExecutionResult
}

// ActionRecorder publishes per-channel execution metrics. Implementations
// must not block the pipeline on publish failures.
type ActionRecorder interface {
	RecordActionExecution(ctx context.Context, channel types.ActionType, success bool, duration time.Duration)
}

// DispatchStore is the violation persistence surface the dispatcher needs.
type DispatchStore interface {
	GetDetail(ctx context.Context, violationID string) (types.ViolationDetail, error)
	SetStatus(ctx context.Context, violationID string, status types.ViolationStatus) error
	AppendActions(ctx context.Context, violationID string, results types.ActionLog) error
	// CloseEpisode finalizes the episode. A non-empty note is persisted as
	// the episode's diagnostic; an empty note leaves any existing one intact.
	CloseEpisode(ctx context.Context, violationID string, status types.ViolationStatus, resolvedAt *time.Time, note string) error
}

// Dispatcher runs the remedial action pipeline for a violation episode:
// mark processing, execute each configured channel in a fixed order, append
// the outcomes to the episode's action log, then close the episode as
// resolved or escalated.
type Dispatcher struct {
	store          DispatchStore
	channels       []ActionChannel
	channelTimeout time.Duration
	metrics        ActionRecorder
	clock          types.Clock
	logger         *slog.Logger
}

// DispatcherConfig holds the dependencies for creating a Dispatcher.
// Channels execute in the order given; callers register them in the
// canonical order (email alert, webhook, smart contract, penalty).
type DispatcherConfig struct {
	Store          DispatchStore
	Channels       []ActionChannel
	ChannelTimeout time.Duration
	Metrics        ActionRecorder
	Clock          types.Clock
	Logger         *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.ChannelTimeout
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
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
		metrics = noopActionRecorder{}
	}
	return &Dispatcher{
		store:          cfg.Store,
		channels:       cfg.Channels,
		channelTimeout: timeout,
		metrics:        metrics,
		clock:          clock,
		logger:         logger,
	}
}

type noopActionRecorder struct{}

func (noopActionRecorder) RecordActionExecution(context.Context, types.ActionType, bool, time.Duration) {
}

// Dispatch executes the action pipeline for the episode and returns this
// pass's channel outcomes. The episode ends resolved when at least one
// configured channel succeeds, or when the rule configures no channels at
// all; it ends escalated when every configured channel fails. A store fault
// mid-pipeline escalates the episode best-effort with a diagnostic note so
// it never stays parked in processing, and the fault still surfaces to the
// caller.
func (d *Dispatcher) Dispatch(ctx context.Context, violationID string) (types.ActionLog, error) {
	detail, err := d.store.GetDetail(ctx, violationID)
	if err != nil {
		d.escalate(ctx, violationID, fmt.Sprintf("action dispatch aborted: loading violation: %v", err))
		return nil, fmt.Errorf("loading violation %s: %w", violationID, err)
	}

	if err := d.store.SetStatus(ctx, violationID, types.ViolationProcessing); err != nil {
		d.escalate(ctx, violationID, fmt.Sprintf("action dispatch aborted: marking processing: %v", err))
		return nil, fmt.Errorf("marking violation %s processing: %w", violationID, err)
	}

	results := d.executeChannels(ctx, detail)

	if len(results) > 0 {
		if err := d.store.AppendActions(ctx, violationID, results); err != nil {
			d.escalate(ctx, violationID, fmt.Sprintf("action dispatch aborted: recording action results: %v", err))
			return results, fmt.Errorf("recording action results for %s: %w", violationID, err)
		}
	}

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}

	if len(results) > 0 && succeeded == 0 {
		note := fmt.Sprintf("all %d configured action channels failed", len(results))
		d.logger.WarnContext(ctx, "all action channels failed, escalating",
			"violation_id", violationID,
			"channels_attempted", len(results),
		)
		if err := d.store.CloseEpisode(ctx, violationID, types.ViolationEscalated, nil, note); err != nil {
			return results, fmt.Errorf("escalating violation %s: %w", violationID, err)
		}
		return results, nil
	}

	resolvedAt := d.clock.Now()
	if err := d.store.CloseEpisode(ctx, violationID, types.ViolationResolved, &resolvedAt, ""); err != nil {
		d.escalate(ctx, violationID, fmt.Sprintf("action dispatch aborted: resolving episode: %v", err))
		return results, fmt.Errorf("resolving violation %s: %w", violationID, err)
	}

	d.logger.InfoContext(ctx, "violation actions dispatched",
		"violation_id", violationID,
		"channels_attempted", len(results),
		"channels_succeeded", succeeded,
	)
	return results, nil
}

// Retrigger re-runs the full action pipeline for an existing episode,
// regardless of its current status, and returns this pass's outcomes.
// Outcomes append to the episode's action log; earlier entries are never
// overwritten.
func (d *Dispatcher) Retrigger(ctx context.Context, violationID string) (types.ActionLog, error) {
	return d.Dispatch(ctx, violationID)
}

// escalate is the best-effort terminal transition for a mid-pipeline fault.
// Its own failure is logged only; the caller already has the original error.
func (d *Dispatcher) escalate(ctx context.Context, violationID, note string) {
	if err := d.store.CloseEpisode(ctx, violationID, types.ViolationEscalated, nil, note); err != nil {
		d.logger.ErrorContext(ctx, "failed to escalate violation after dispatch fault",
			"violation_id", violationID,
			"error", err,
		)
	}
}

// executeChannels runs each configured channel under its own bounded context.
// A panic or hang in one channel must not take down the pass; the timeout
// plus the channel contract (no error returns, only result records) keep the
// pipeline moving.
func (d *Dispatcher) executeChannels(ctx context.Context, detail types.ViolationDetail) types.ActionLog {
	var results types.ActionLog

	for _, ch := range d.channels {
		if !ch.Configured(detail.Rule.Actions) {
			continue
		}

		started := d.clock.Now()
		chCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
		res := ch.Execute(chCtx, detail)
		cancel()
		d.metrics.RecordActionExecution(ctx, ch.Type(), res.Success, d.clock.Now().Sub(started))

		if res.Timestamp.IsZero() {
			res.Timestamp = d.clock.Now()
		}
		results = append(results, res)

		if res.Success {
			d.logger.InfoContext(ctx, "action channel succeeded",
				"violation_id", detail.Violation.ID,
				"action_type", string(res.ActionType),
			)
		} else {
			d.logger.ErrorContext(ctx, "action channel failed",
				"violation_id", detail.Violation.ID,
				"action_type", string(res.ActionType),
				"message", res.Message,
			)
		}
	}

	return results
}
