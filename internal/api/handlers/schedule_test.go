package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emobridge/internal/schedule"
	"emobridge/internal/scheduler"
	"emobridge/internal/types"
)

func newScheduleHandlerForTest(store *mockStore, loop *mockLoop) *ScheduleHandler {
	return NewScheduleHandler(store, loop, nil, time.UTC, discardLogger())
}

func TestScheduleList(t *testing.T) {
	at := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	store := &mockStore{loadFn: func(ctx context.Context) (schedule.LoadResult, error) {
		return schedule.LoadResult{
			Entries: []types.ScheduleEntry{{TriggerAt: at, Text: "Good morning"}},
			Skipped: 2,
		}, nil
	}}
	loop := &mockLoop{status: scheduler.Status{Entries: 1, Promoted: 4}}
	h := newScheduleHandlerForTest(store, loop)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/schedule", nil)
	assertStatus(t, rec, http.StatusOK)

	var view ScheduleView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &view))
	assert.Equal(t, []ScheduleEntryView{{TriggerAt: "2026-10-15 08:30:00", Text: "Good morning"}}, view.Entries)
	assert.Equal(t, 2, view.Skipped)
	assert.Equal(t, int64(4), view.Loop.Promoted)
}

func TestScheduleList_StoreError(t *testing.T) {
	store := &mockStore{loadFn: func(ctx context.Context) (schedule.LoadResult, error) {
		return schedule.LoadResult{}, errors.New("permission denied")
	}}
	h := newScheduleHandlerForTest(store, &mockLoop{})

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/schedule", nil)
	assertStatus(t, rec, http.StatusInternalServerError)
	assert.Equal(t, string(types.ErrCodeInternalScheduleStore), decodeEnvelope(t, rec).Error.Code)
	assert.NotContains(t, rec.Body.String(), "permission denied")
}

func TestScheduleAppend(t *testing.T) {
	store := &mockStore{}
	loop := &mockLoop{}
	h := newScheduleHandlerForTest(store, loop)

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/schedule", map[string]any{
		"trigger_at": "2026-10-15 21:00:00",
		"text":       "Time for bed",
	})
	assertStatus(t, rec, http.StatusCreated)

	require.Len(t, store.appended, 1)
	got := store.appended[0]
	assert.True(t, got.TriggerAt.Equal(time.Date(2026, 10, 15, 21, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Time for bed", got.Text)
	assert.Equal(t, 1, loop.reloads)
}

func TestScheduleAppend_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantCode types.ErrorCode
	}{
		{"bad time", map[string]any{"trigger_at": "tomorrow", "text": "x"}, types.ErrCodeValidationInvalidTime},
		{"missing time", map[string]any{"text": "x"}, types.ErrCodeValidationMissingField},
		{"blank text", map[string]any{"trigger_at": "2026-10-15 21:00:00", "text": ""}, types.ErrCodeValidationMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			loop := &mockLoop{}
			h := newScheduleHandlerForTest(store, loop)

			rec := serve(t, h.RegisterRoutes, http.MethodPost, "/schedule", tt.body)
			assertStatus(t, rec, http.StatusBadRequest)
			assert.Equal(t, string(tt.wantCode), decodeEnvelope(t, rec).Error.Code)
			assert.Empty(t, store.appended)
			assert.Zero(t, loop.reloads)
		})
	}
}

func TestScheduleAppend_StoreErrorSkipsReload(t *testing.T) {
	store := &mockStore{appendFn: func(ctx context.Context, entry types.ScheduleEntry) error {
		return errors.New("disk full")
	}}
	loop := &mockLoop{}
	h := newScheduleHandlerForTest(store, loop)

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/schedule", map[string]any{
		"trigger_at": "2026-10-15 21:00:00",
		"text":       "x",
	})
	assertStatus(t, rec, http.StatusInternalServerError)
	assert.Zero(t, loop.reloads)
}

func TestScheduleReload(t *testing.T) {
	loop := &mockLoop{}
	h := newScheduleHandlerForTest(&mockStore{}, loop)

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/schedule/reload", nil)
	assertStatus(t, rec, http.StatusAccepted)
	assert.Equal(t, 1, loop.reloads)
}
