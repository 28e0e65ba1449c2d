package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"emobridge/internal/schedule"
	"emobridge/internal/scheduler"
	"emobridge/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore implements schedule.Store.
type mockStore struct {
	mu       sync.Mutex
	loadFn   func(ctx context.Context) (schedule.LoadResult, error)
	appendFn func(ctx context.Context, entry types.ScheduleEntry) error
	appended []types.ScheduleEntry
}

func (m *mockStore) Load(ctx context.Context) (schedule.LoadResult, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx)
	}
	return schedule.LoadResult{}, nil
}

func (m *mockStore) Append(ctx context.Context, entry types.ScheduleEntry) error {
	m.mu.Lock()
	m.appended = append(m.appended, entry)
	m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn(ctx, entry)
	}
	return nil
}

// mockLoop implements LoopController.
type mockLoop struct {
	reloads int
	status  scheduler.Status
}

func (m *mockLoop) RequestReload()           { m.reloads++ }
func (m *mockLoop) Status() scheduler.Status { return m.status }

// recordingMetrics implements DeliveryMetrics.
type recordingMetrics struct {
	drained []int
	depth   []int
}

func (m *recordingMetrics) RecordDrained(n int)    { m.drained = append(m.drained, n) }
func (m *recordingMetrics) RecordQueueDepth(n int) { m.depth = append(m.depth, n) }

// =============================================================================
// Request helpers
// =============================================================================

func serve(t *testing.T, register func(chi.Router), method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	r := chi.NewRouter()
	register(r)

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
}

