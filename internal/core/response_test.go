package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"slasentinel/internal/types"
)

func testRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(types.WithRequestID(r.Context(), "req-123"))
}

func TestJSON_WritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := testRequest(http.MethodGet, "/v1/sla/rules", "")

	JSON(w, r, http.StatusCreated, APIResponse{Data: map[string]string{"id": "rule-1"}})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data := resp.Data.(map[string]any)
	if data["id"] != "rule-1" {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestError_AppErrorMapsStatus(t *testing.T) {
	cases := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeNotFoundRule, http.StatusNotFound},
		{types.ErrCodeValidationMissingField, http.StatusBadRequest},
		{types.ErrCodeConflictConcurrent, http.StatusConflict},
		{types.ErrCodeUpstreamWebhook, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := testRequest(http.MethodGet, "/v1/sla/rules", "")

			Error(w, r, types.NewAppError(tc.code, "boom", nil))

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}

			var resp APIErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Error.Code != string(tc.code) {
				t.Errorf("code = %q", resp.Error.Code)
			}
			if resp.Error.RequestID != "req-123" {
				t.Errorf("request_id = %q", resp.Error.RequestID)
			}
		})
	}
}

func TestError_GenericErrorIsOpaque500(t *testing.T) {
	w := httptest.NewRecorder()
	r := testRequest(http.MethodGet, "/v1/sla/rules", "")

	Error(w, r, errors.New("pq: column does not exist"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "column does not exist") {
		t.Error("internal error details leaked to client")
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"Express"}`, false},
		{"empty body", ``, true},
		{"malformed", `{"name":`, true},
		{"unknown field", `{"name":"x","bogus":1}`, true},
		{"type mismatch", `{"name":42}`, true},
		{"multiple values", `{"name":"a"}{"name":"b"}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := testRequest(http.MethodPost, "/v1/sla/rules", tc.body)

			var dst payload
			err := DecodeJSON(w, r, &dst)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var appErr *types.AppError
				if !errors.As(err, &appErr) {
					t.Fatalf("expected AppError, got %T", err)
				}
				if appErr.HTTPStatus() != http.StatusBadRequest {
					t.Errorf("status = %d", appErr.HTTPStatus())
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON() error: %v", err)
			}
			if dst.Name != "Express" {
				t.Errorf("decoded name = %q", dst.Name)
			}
		})
	}
}
