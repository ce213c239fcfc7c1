// Package handlers contains the HTTP handler implementations for the SLA
// engine API. Handlers depend on locally-declared interfaces so tests can
// inject hand mocks without touching the concrete repositories or services.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"slasentinel/internal/core"
	"slasentinel/internal/db"
	"slasentinel/internal/types"
)

// RuleStore is the data access contract for rule CRUD. Mirrors the concrete
// db.RuleRepository methods used by this handler.
type RuleStore interface {
	Create(ctx context.Context, rule *types.SLARule) error
	GetByID(ctx context.Context, id string) (*types.SLARule, error)
	Update(ctx context.Context, rule *types.SLARule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, params db.ListRulesParams) ([]types.SLARule, error)
}

// CreateRuleRequest is the request body for POST /v1/sla/rules.
type CreateRuleRequest struct {
	Name               string                `json:"name" validate:"required,max=200"`
	Description        string                `json:"description,omitempty" validate:"omitempty,max=1000"`
	RuleType           string                `json:"rule_type" validate:"required,sla_rule_type"`
	Priority           string                `json:"priority" validate:"required,sla_priority"`
	ThresholdMinutes   int                   `json:"threshold_minutes" validate:"required,gt=0"`
	GracePeriodMinutes int                   `json:"grace_period_minutes" validate:"gte=0"`
	Conditions         *types.RuleConditions `json:"conditions,omitempty"`
	Actions            *types.ActionSet      `json:"actions,omitempty"`
	IsActive           *bool                 `json:"is_active,omitempty"`
}

// UpdateRuleRequest is the request body for PUT /v1/sla/rules/{id}. Full
// replacement: every mutable field must be supplied.
type UpdateRuleRequest struct {
	Name               string                `json:"name" validate:"required,max=200"`
	Description        string                `json:"description,omitempty" validate:"omitempty,max=1000"`
	RuleType           string                `json:"rule_type" validate:"required,sla_rule_type"`
	Priority           string                `json:"priority" validate:"required,sla_priority"`
	ThresholdMinutes   int                   `json:"threshold_minutes" validate:"required,gt=0"`
	GracePeriodMinutes int                   `json:"grace_period_minutes" validate:"gte=0"`
	Conditions         *types.RuleConditions `json:"conditions,omitempty"`
	Actions            *types.ActionSet      `json:"actions,omitempty"`
	IsActive           *bool                 `json:"is_active,omitempty"`
}

// RuleHandler manages SLA rule CRUD.
type RuleHandler struct {
	store     RuleStore
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

func NewRuleHandler(store RuleStore, v *core.Validator, clock types.Clock, logger *slog.Logger) *RuleHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleHandler{store: store, validator: v, clock: clock, logger: logger}
}

// RegisterRoutes mounts the rule routes on the provided chi.Router.
func (h *RuleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sla/rules", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// buildRule translates a validated request into a domain rule. Shared by
// Create and Update since the PUT contract is full replacement.
func buildRule(id string, req CreateRuleRequest) *types.SLARule {
	rule := &types.SLARule{
		ID:                 id,
		Name:               req.Name,
		Description:        req.Description,
		RuleType:           types.RuleType(req.RuleType),
		Priority:           types.RulePriority(req.Priority),
		ThresholdMinutes:   req.ThresholdMinutes,
		GracePeriodMinutes: req.GracePeriodMinutes,
		IsActive:           true,
	}
	rule.Conditions = req.Conditions
	if req.Actions != nil {
		rule.Actions = *req.Actions
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	return rule
}

// Create handles POST /v1/sla/rules.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Actions != nil {
		if err := req.Actions.Validate(); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidActions, err.Error(), nil))
			return
		}
	}

	rule := buildRule(uuid.NewString(), req)
	now := h.clock.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := h.store.Create(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "sla rule created",
		"rule_id", rule.ID,
		"rule_type", rule.RuleType,
		"priority", rule.Priority,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: rule})
}

// Get handles GET /v1/sla/rules/{id}.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rule})
}

// Update handles PUT /v1/sla/rules/{id}.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRuleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Actions != nil {
		if err := req.Actions.Validate(); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidActions, err.Error(), nil))
			return
		}
	}

	rule := buildRule(id, CreateRuleRequest(req))
	rule.UpdatedAt = h.clock.Now()

	if err := h.store.Update(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "sla rule updated", "rule_id", id)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rule})
}

// Delete handles DELETE /v1/sla/rules/{id}. Historical violations keep their
// rule reference; only the rule row goes away.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "sla rule deleted", "rule_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /v1/sla/rules with optional rule_type, is_active, limit,
// and offset query parameters.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	params := db.ListRulesParams{
		RuleType: r.URL.Query().Get("rule_type"),
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"is_active must be true or false", nil))
			return
		}
		params.IsActive = &active
	}
	params.Limit = queryInt(r, "limit")
	params.Offset = queryInt(r, "offset")

	if params.RuleType != "" && !validRuleType(params.RuleType) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRuleType,
			"unknown rule_type: "+params.RuleType, nil))
		return
	}

	rules, err := h.store.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if rules == nil {
		rules = []types.SLARule{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rules})
}

func validRuleType(s string) bool {
	for _, rt := range types.AllRuleTypes {
		if types.RuleType(s) == rt {
			return true
		}
	}
	return false
}

// queryInt parses a non-negative integer query parameter, returning 0 when
// absent or malformed.
func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseTimeParam parses an RFC3339 query parameter, returning nil when the
// parameter is absent.
func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidDateRange,
			key+" must be RFC3339", err)
	}
	return &t, nil
}
