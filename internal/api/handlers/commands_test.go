package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emobridge/internal/queue"
	"emobridge/internal/types"
)

func newCommandHandlerForTest() (*CommandHandler, *queue.CommandQueue) {
	q := queue.NewCommandQueue()
	return NewCommandHandler(q, nil, discardLogger()), q
}

func decodeIntake(t *testing.T, env envelope) IntakeResult {
	t.Helper()
	var res IntakeResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func TestIntake_TypedEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus string
		wantCmd    types.Command
	}{
		{
			name:       "speak",
			path:       "/speak",
			body:       map[string]any{"text": "hello"},
			wantStatus: StatusSpeechQueued,
			wantCmd:    types.Command{"type": "speak", "text": "hello"},
		},
		{
			name:       "action",
			path:       "/actions",
			body:       map[string]any{"action_details": map[string]any{"name": "dance"}},
			wantStatus: StatusActionQueued,
			wantCmd:    types.Command{"type": "action", "action_details": map[string]any{"name": "dance"}},
		},
		{
			name:       "mode",
			path:       "/mode",
			body:       map[string]any{"mode": "sleep"},
			wantStatus: StatusModeSet,
			wantCmd:    types.Command{"type": "set_mode", "mode": "sleep"},
		},
		{
			name:       "navigate",
			path:       "/navigate",
			body:       map[string]any{"destination": "kitchen"},
			wantStatus: StatusNavigationQueued,
			wantCmd:    types.Command{"type": "navigate", "destination": "kitchen"},
		},
		{
			name:       "raw command",
			path:       "/commands",
			body:       map[string]any{"type": "look_at", "target": "door"},
			wantStatus: StatusCommandQueued,
			wantCmd:    types.Command{"type": "look_at", "target": "door"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, q := newCommandHandlerForTest()

			rec := serve(t, h.RegisterRoutes, http.MethodPost, tt.path, tt.body)
			assertStatus(t, rec, http.StatusAccepted)

			res := decodeIntake(t, decodeEnvelope(t, rec))
			assert.Equal(t, tt.wantStatus, res.Status)

			queued := q.DrainAll()
			require.Len(t, queued, 1)
			assert.Equal(t, tt.wantCmd, queued[0])
		})
	}
}

func TestIntake_ValidationFailuresEnqueueNothing(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     any
		wantCode types.ErrorCode
	}{
		{"speak blank text", "/speak", map[string]any{"text": "  "}, types.ErrCodeValidationMissingField},
		{"speak unknown field", "/speak", map[string]any{"text": "x", "volume": 3}, types.ErrCodeValidationInvalidJSON},
		{"action missing details", "/actions", map[string]any{}, types.ErrCodeValidationMissingField},
		{"mode empty body", "/mode", "", types.ErrCodeValidationInvalidJSON},
		{"navigate wrong type", "/navigate", map[string]any{"destination": 5}, types.ErrCodeValidationInvalidJSON},
		{"command without type", "/commands", map[string]any{"text": "hi"}, types.ErrCodeValidationInvalidCommand},
		{"command blank type", "/commands", map[string]any{"type": " "}, types.ErrCodeValidationInvalidCommand},
		{"command non-string type", "/commands", map[string]any{"type": 7}, types.ErrCodeValidationInvalidCommand},
		{"command array body", "/commands", `[{"type":"speak"}]`, types.ErrCodeValidationInvalidJSON},
		{"command null body", "/commands", `null`, types.ErrCodeValidationInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, q := newCommandHandlerForTest()

			rec := serve(t, h.RegisterRoutes, http.MethodPost, tt.path, tt.body)
			assertStatus(t, rec, http.StatusBadRequest)
			assert.Equal(t, string(tt.wantCode), decodeEnvelope(t, rec).Error.Code)
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestExecutePath_MorningGreetingIsContiguous(t *testing.T) {
	h, q := newCommandHandlerForTest()
	q.Enqueue(types.NewSpeakCommand("before"))

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/paths/morning_greeting/execute", nil)
	assertStatus(t, rec, http.StatusAccepted)

	res := decodeIntake(t, decodeEnvelope(t, rec))
	assert.Equal(t, StatusPathStarted, res.Status)
	assert.Equal(t, "morning_greeting", res.PathID)
	assert.Len(t, res.Commands, 3)

	queued := q.DrainAll()
	require.Len(t, queued, 4)
	assert.Equal(t, "before", queued[0]["text"])
	assert.Equal(t, "Good morning!", queued[1]["text"])
	assert.Equal(t, "action", queued[2].Type())
	assert.Equal(t, "How can I help you today?", queued[3]["text"])
}

func TestExecutePath_RoutineIsNotMutatedByConsumers(t *testing.T) {
	h, q := newCommandHandlerForTest()

	serve(t, h.RegisterRoutes, http.MethodPost, "/paths/morning_greeting/execute", nil)
	first := q.DrainAll()
	first[0]["text"] = "tampered"

	serve(t, h.RegisterRoutes, http.MethodPost, "/paths/morning_greeting/execute", nil)
	second := q.DrainAll()
	assert.Equal(t, "Good morning!", second[0]["text"])
}

func TestExecutePath_UnknownPath(t *testing.T) {
	h, q := newCommandHandlerForTest()

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/paths/bedtime/execute", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationUnknownPath), env.Error.Code)
	assert.Equal(t, []any{"morning_greeting"}, env.Error.Details["known_paths"])
	assert.Equal(t, 0, q.Len())
}

func TestParseCommand(t *testing.T) {
	h, q := newCommandHandlerForTest()

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/command_parse", map[string]any{"command_text": "Please speak Hello There"})
	assertStatus(t, rec, http.StatusAccepted)
	res := decodeIntake(t, decodeEnvelope(t, rec))
	assert.Equal(t, StatusCommandParsed, res.Status)
	assert.Equal(t, types.Command{"type": "speak", "text": "Hello There"}, res.Command)

	rec = serve(t, h.RegisterRoutes, http.MethodPost, "/command_parse", map[string]any{"command_text": "do a barrel roll"})
	assertStatus(t, rec, http.StatusOK)
	res = decodeIntake(t, decodeEnvelope(t, rec))
	assert.Equal(t, StatusCommandUnknown, res.Status)
	assert.Equal(t, "do a barrel roll", res.Text)

	queued := q.DrainAll()
	require.Len(t, queued, 1)
	assert.Equal(t, "speak", queued[0].Type())
}

func TestParseCommandText(t *testing.T) {
	tests := []struct {
		text   string
		wantOK bool
		want   types.Command
	}{
		{"speak hi", true, types.Command{"type": "speak", "text": "hi"}},
		{"SPEAK Loud Words", true, types.Command{"type": "speak", "text": "Loud Words"}},
		{"speak ", false, nil},
		{"Move Forward now", true, types.Command{"type": "move", "direction": "forward", "distance": "medium"}},
		{"move backward", false, nil},
		{"", false, nil},
	}
	for _, tt := range tests {
		got, ok := ParseCommandText(tt.text)
		assert.Equal(t, tt.wantOK, ok, "text %q", tt.text)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "text %q", tt.text)
		}
	}
}

func TestGenSpeak_EchoesWithoutQueueing(t *testing.T) {
	h, q := newCommandHandlerForTest()

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/genspeak", map[string]any{"text": "synthesize me"})
	assertStatus(t, rec, http.StatusAccepted)

	res := decodeIntake(t, decodeEnvelope(t, rec))
	assert.Equal(t, StatusSpeechSimulated, res.Status)
	assert.Equal(t, "synthesize me", res.Text)
	assert.Equal(t, 0, q.Len())

	rec = serve(t, h.RegisterRoutes, http.MethodPost, "/genspeak", map[string]any{})
	assertStatus(t, rec, http.StatusBadRequest)
}
