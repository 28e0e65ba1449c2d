package core

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"emobridge/internal/types"
)

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/speak", nil)

	JSON(rec, req, http.StatusAccepted, APIResponse{Data: map[string]string{"status": "queued"}})

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	if got := rec.Body.String(); got != `{"data":{"status":"queued"}}` {
		t.Errorf("unexpected body %s", got)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestError_AppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	Error(rec, req, types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidTime, "bad time", nil, map[string]any{"field": "datetime_str"},
	))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	resp := decodeErrorBody(t, rec)
	if resp.Error.Code != string(types.ErrCodeValidationInvalidTime) || resp.Error.RequestID != "req-1" {
		t.Errorf("unexpected error body %+v", resp.Error)
	}
	if resp.Error.Details["field"] != "datetime_str" {
		t.Errorf("details lost: %v", resp.Error.Details)
	}
}

func TestError_PlainErrorIsMasked(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error text leaked")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Text string `json:"text"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    string
	}{
		{"valid", `{"text":"hi"}`, false, "hi"},
		{"empty", ``, true, "must not be empty"},
		{"malformed", `{"text":`, true, ""},
		{"unknown field", `{"text":"hi","x":1}`, true, "unknown field"},
		{"wrong type", `{"text":5}`, true, "invalid value"},
		{"trailing value", `{"text":"a"}{"text":"b"}`, true, "single JSON value"},
		{"too large", `{"text":"` + strings.Repeat("a", maxRequestBodySize) + `"}`, true, "1MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/speak", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if dst.Text != tt.want {
					t.Errorf("got %q, want %q", dst.Text, tt.want)
				}
				return
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != types.ErrCodeValidationInvalidJSON {
				t.Errorf("unexpected code %q", appErr.Code)
			}
			if tt.want != "" && !strings.Contains(appErr.Message, tt.want) {
				t.Errorf("message %q does not contain %q", appErr.Message, tt.want)
			}
		})
	}
}

func TestDecodeJSONLoose_AllowsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{"type":"dance","speed":3}`))
	var cmd types.Command
	if err := DecodeJSONLoose(httptest.NewRecorder(), req, &cmd); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if cmd.Type() != "dance" || cmd["speed"] != float64(3) {
		t.Errorf("unexpected command %v", cmd)
	}
}
