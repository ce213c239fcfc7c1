package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"slasentinel/internal/core"
	"slasentinel/internal/db"
	"slasentinel/internal/types"
)

// MonitorRunner triggers a full monitoring pass on demand.
type MonitorRunner interface {
	RunOnce(ctx context.Context) ([]types.MonitoringResult, error)
}

// ViolationReader provides the violation queries behind the reporting routes.
type ViolationReader interface {
	List(ctx context.Context, params db.ListViolationsParams) ([]types.ViolationWithRule, error)
}

// SummaryProvider computes the aggregate violation summary over an optional
// detection-time window.
type SummaryProvider interface {
	Summary(ctx context.Context, from, to *time.Time) (types.ViolationSummary, error)
}

// ActionRetriggerer re-runs the action pipeline for one violation and
// returns that pass's channel outcomes.
type ActionRetriggerer interface {
	Retrigger(ctx context.Context, violationID string) (types.ActionLog, error)
}

// MonitoringRunResponse is the body of POST /v1/sla/monitoring/run.
type MonitoringRunResponse struct {
	ViolationsFound int                      `json:"violations_found"`
	Results         []types.MonitoringResult `json:"results"`
}

// ViolationItem flattens a violation with its rule's reporting fields.
type ViolationItem struct {
	types.SLAViolation
	RuleName     string             `json:"rule_name"`
	RuleType     types.RuleType     `json:"rule_type"`
	RulePriority types.RulePriority `json:"rule_priority"`
}

// MonitoringHandler exposes the monitoring trigger and the violation
// reporting routes.
type MonitoringHandler struct {
	runner     MonitorRunner
	violations ViolationReader
	summary    SummaryProvider
	retrigger  ActionRetriggerer
	logger     *slog.Logger
}

func NewMonitoringHandler(
	runner MonitorRunner,
	violations ViolationReader,
	summary SummaryProvider,
	retrigger ActionRetriggerer,
	logger *slog.Logger,
) *MonitoringHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitoringHandler{
		runner:     runner,
		violations: violations,
		summary:    summary,
		retrigger:  retrigger,
		logger:     logger,
	}
}

// RegisterRoutes mounts the monitoring routes on the provided chi.Router.
func (h *MonitoringHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sla/monitoring/run", h.Run)

	r.Route("/sla/violations", func(r chi.Router) {
		r.Get("/", h.ListViolations)
		r.Get("/summary", h.Summary)
		r.Post("/{id}/retrigger", h.Retrigger)
	})
}

// Run handles POST /v1/sla/monitoring/run: a synchronous monitoring pass,
// returning every evaluated (shipment, rule) verdict alongside the count of
// violated ones.
func (h *MonitoringHandler) Run(w http.ResponseWriter, r *http.Request) {
	results, err := h.runner.RunOnce(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if results == nil {
		results = []types.MonitoringResult{}
	}

	violated := 0
	for _, res := range results {
		if res.IsViolated {
			violated++
		}
	}

	h.logger.InfoContext(r.Context(), "manual monitoring pass completed",
		"shipments_evaluated", len(results),
		"violations_found", violated,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: MonitoringRunResponse{
		ViolationsFound: violated,
		Results:         results,
	}})
}

// ListViolations handles GET /v1/sla/violations with optional status,
// rule_id, shipment_id, from, to, limit, and offset query parameters.
func (h *MonitoringHandler) ListViolations(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if from != nil && to != nil && from.After(*to) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDateRange,
			"from must not be after to", nil))
		return
	}

	params := db.ListViolationsParams{
		Status:     r.URL.Query().Get("status"),
		RuleID:     r.URL.Query().Get("rule_id"),
		ShipmentID: r.URL.Query().Get("shipment_id"),
		From:       from,
		To:         to,
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	}

	violations, err := h.violations.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	items := make([]ViolationItem, 0, len(violations))
	for _, v := range violations {
		items = append(items, ViolationItem{
			SLAViolation: v.Violation,
			RuleName:     v.RuleName,
			RuleType:     v.RuleType,
			RulePriority: v.RulePriority,
		})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items})
}

// Summary handles GET /v1/sla/violations/summary with optional from and to
// query parameters bounding the detection window.
func (h *MonitoringHandler) Summary(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if from != nil && to != nil && from.After(*to) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDateRange,
			"from must not be after to", nil))
		return
	}

	summary, err := h.summary.Summary(r.Context(), from, to)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// Retrigger handles POST /v1/sla/violations/{id}/retrigger. It re-runs the
// full action pipeline for the episode and returns only this pass's channel
// outcomes, not the accumulated log.
func (h *MonitoringHandler) Retrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	results, err := h.retrigger.Retrigger(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if results == nil {
		results = types.ActionLog{}
	}

	h.logger.InfoContext(r.Context(), "violation actions retriggered",
		"violation_id", id,
		"channels_attempted", len(results),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: results})
}
