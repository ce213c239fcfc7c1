package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slasentinel/internal/db"
	"slasentinel/internal/types"
)

// --- Mocks ---

type mockRunner struct {
	results []types.MonitoringResult
	err     error
	calls   int
}

func (m *mockRunner) RunOnce(ctx context.Context) ([]types.MonitoringResult, error) {
	m.calls++
	return m.results, m.err
}

type mockViolationReader struct {
	listFn     func(ctx context.Context, params db.ListViolationsParams) ([]types.ViolationWithRule, error)
	lastParams db.ListViolationsParams
}

func (m *mockViolationReader) List(ctx context.Context, params db.ListViolationsParams) ([]types.ViolationWithRule, error) {
	m.lastParams = params
	if m.listFn != nil {
		return m.listFn(ctx, params)
	}
	return nil, nil
}

type mockSummaryProvider struct {
	summary  types.ViolationSummary
	err      error
	lastFrom *time.Time
	lastTo   *time.Time
	calls    int
}

func (m *mockSummaryProvider) Summary(ctx context.Context, from, to *time.Time) (types.ViolationSummary, error) {
	m.calls++
	m.lastFrom = from
	m.lastTo = to
	return m.summary, m.err
}

type mockRetriggerer struct {
	results types.ActionLog
	err     error
	calls   []string
}

func (m *mockRetriggerer) Retrigger(ctx context.Context, violationID string) (types.ActionLog, error) {
	m.calls = append(m.calls, violationID)
	return m.results, m.err
}

func newMonitoringRouter(runner *mockRunner, reader *mockViolationReader, summary *mockSummaryProvider, retrigger *mockRetriggerer) http.Handler {
	h := NewMonitoringHandler(runner, reader, summary, retrigger, testLogger())
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) { h.RegisterRoutes(r) })
	return r
}

// --- Run ---

func TestMonitoringHandler_Run_Success(t *testing.T) {
	delay := 45
	runner := &mockRunner{results: []types.MonitoringResult{
		{ShipmentID: "ship-1", RuleID: "rule-1", IsViolated: true, DelayMinutes: &delay},
		{ShipmentID: "ship-2", RuleID: "rule-1", IsViolated: false},
	}}
	router := newMonitoringRouter(runner, &mockViolationReader{}, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sla/monitoring/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, runner.calls)

	var resp struct {
		Data MonitoringRunResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.ViolationsFound)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, "ship-1", resp.Data.Results[0].ShipmentID)
	assert.True(t, resp.Data.Results[0].IsViolated)
	assert.Equal(t, "ship-2", resp.Data.Results[1].ShipmentID)
	assert.False(t, resp.Data.Results[1].IsViolated)
}

func TestMonitoringHandler_Run_NoShipments(t *testing.T) {
	runner := &mockRunner{}
	router := newMonitoringRouter(runner, &mockViolationReader{}, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sla/monitoring/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data MonitoringRunResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Data.ViolationsFound)
	assert.NotNil(t, resp.Data.Results)
	assert.Empty(t, resp.Data.Results)
}

func TestMonitoringHandler_Run_Error(t *testing.T) {
	runner := &mockRunner{err: types.NewAppError(types.ErrCodeInternalDB, "rules unavailable", errors.New("timeout"))}
	router := newMonitoringRouter(runner, &mockViolationReader{}, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sla/monitoring/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- ListViolations ---

func TestMonitoringHandler_ListViolations_PassesFilters(t *testing.T) {
	reader := &mockViolationReader{}
	router := newMonitoringRouter(&mockRunner{}, reader, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet,
		"/v1/sla/violations?status=detected&rule_id=rule-1&from=2026-08-01T00:00:00Z&to=2026-08-20T00:00:00Z&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "detected", reader.lastParams.Status)
	assert.Equal(t, "rule-1", reader.lastParams.RuleID)
	require.NotNil(t, reader.lastParams.From)
	require.NotNil(t, reader.lastParams.To)
	assert.Equal(t, 10, reader.lastParams.Limit)
}

func TestMonitoringHandler_ListViolations_FlattensRuleFields(t *testing.T) {
	reader := &mockViolationReader{
		listFn: func(ctx context.Context, params db.ListViolationsParams) ([]types.ViolationWithRule, error) {
			return []types.ViolationWithRule{{
				Violation:    types.SLAViolation{ID: "viol-1", ShipmentID: "ship-1", Status: types.ViolationDetected, DelayMinutes: 45},
				RuleName:     "Express delivery",
				RuleType:     types.RuleDeliveryTime,
				RulePriority: types.PriorityHigh,
			}}, nil
		},
	}
	router := newMonitoringRouter(&mockRunner{}, reader, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sla/violations", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "viol-1", resp.Data[0]["id"])
	assert.Equal(t, "Express delivery", resp.Data[0]["rule_name"])
	assert.Equal(t, "delivery_time", resp.Data[0]["rule_type"])
}

func TestMonitoringHandler_ListViolations_InvalidRange(t *testing.T) {
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet,
		"/v1/sla/violations?from=2026-08-20T00:00:00Z&to=2026-08-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeValidationInvalidDateRange), resp.Error.Code)
}

func TestMonitoringHandler_ListViolations_MalformedTime(t *testing.T) {
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, &mockSummaryProvider{}, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sla/violations?from=yesterday", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Summary ---

func TestMonitoringHandler_Summary_Success(t *testing.T) {
	provider := &mockSummaryProvider{summary: types.ViolationSummary{
		TotalViolations:      3,
		ActiveViolations:     1,
		ResolvedViolations:   1,
		AverageDelayMinutes:  40,
		ViolationsByPriority: map[string]int{"high": 3},
		ViolationsByType:     map[string]int{"delivery_time": 3},
	}}
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, provider, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sla/violations/summary", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data types.ViolationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.TotalViolations)
	assert.Equal(t, 40, resp.Data.AverageDelayMinutes)
	assert.Nil(t, provider.lastFrom)
	assert.Nil(t, provider.lastTo)
}

func TestMonitoringHandler_Summary_PassesWindow(t *testing.T) {
	provider := &mockSummaryProvider{}
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, provider, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet,
		"/v1/sla/violations/summary?from=2026-08-01T00:00:00Z&to=2026-08-20T00:00:00Z", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, provider.lastFrom)
	require.NotNil(t, provider.lastTo)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), provider.lastFrom.UTC())
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), provider.lastTo.UTC())
}

func TestMonitoringHandler_Summary_InvalidRange(t *testing.T) {
	provider := &mockSummaryProvider{}
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, provider, &mockRetriggerer{})

	req := httptest.NewRequest(http.MethodGet,
		"/v1/sla/violations/summary?from=2026-08-20T00:00:00Z&to=2026-08-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, provider.calls)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeValidationInvalidDateRange), resp.Error.Code)
}

// --- Retrigger ---

func TestMonitoringHandler_Retrigger_ReturnsPassOutcomes(t *testing.T) {
	retrigger := &mockRetriggerer{results: types.ActionLog{
		{ActionType: types.ActionEmailAlert, Success: true, Message: "queued"},
		{ActionType: types.ActionWebhook, Success: false, Message: "connection refused"},
	}}
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, &mockSummaryProvider{}, retrigger)

	req := httptest.NewRequest(http.MethodPost, "/v1/sla/violations/viol-1/retrigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"viol-1"}, retrigger.calls)

	var resp struct {
		Data types.ActionLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, types.ActionEmailAlert, resp.Data[0].ActionType)
	assert.True(t, resp.Data[0].Success)
	assert.Equal(t, types.ActionWebhook, resp.Data[1].ActionType)
	assert.False(t, resp.Data[1].Success)
}

func TestMonitoringHandler_Retrigger_NoConfiguredChannels(t *testing.T) {
	retrigger := &mockRetriggerer{}
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, &mockSummaryProvider{}, retrigger)

	req := httptest.NewRequest(http.MethodPost, "/v1/sla/violations/viol-1/retrigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data types.ActionLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

func TestMonitoringHandler_Retrigger_NotFound(t *testing.T) {
	retrigger := &mockRetriggerer{err: types.NewAppError(types.ErrCodeNotFoundViolation, "violation not found", nil)}
	router := newMonitoringRouter(&mockRunner{}, &mockViolationReader{}, &mockSummaryProvider{}, retrigger)

	req := httptest.NewRequest(http.MethodPost, "/v1/sla/violations/missing/retrigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
