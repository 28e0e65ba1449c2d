package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"emobridge/internal/core"
	"emobridge/internal/types"
)

// Intake response statuses.
const (
	StatusCommandQueued    = "command_queued"
	StatusSpeechQueued     = "speech_queued"
	StatusActionQueued     = "action_queued"
	StatusModeSet          = "mode_set"
	StatusNavigationQueued = "navigation_queued"
	StatusCommandParsed    = "command_parsed"
	StatusCommandUnknown   = "command_unrecognized"
	StatusPathStarted      = "path_execution_started"
	StatusSpeechSimulated  = "speech_generated_simulated"
)

const routineMorningGreetingID = "morning_greeting"

// DefaultRoutines returns the built-in multi-step routines keyed by path ID.
func DefaultRoutines() map[string][]types.Command {
	return map[string][]types.Command{
		routineMorningGreetingID: {
			types.NewSpeakCommand("Good morning!"),
			types.NewCommand(types.CommandAction, map[string]any{
				"action_details": map[string]any{"name": "wave_hand"},
			}),
			types.NewSpeakCommand("How can I help you today?"),
		},
	}
}

// --- Request/Response Models ---

type speakRequest struct {
	Text string `json:"text" validate:"notblank"`
}

type actionRequest struct {
	ActionDetails map[string]any `json:"action_details" validate:"required"`
}

type modeRequest struct {
	Mode string `json:"mode" validate:"notblank"`
}

type navigateRequest struct {
	Destination string `json:"destination" validate:"notblank"`
}

type commandParseRequest struct {
	CommandText string `json:"command_text" validate:"notblank"`
}

// IntakeResult is the data payload of every intake response.
type IntakeResult struct {
	Status   string          `json:"status"`
	Command  types.Command   `json:"command,omitempty"`
	Commands []types.Command `json:"commands,omitempty"`
	PathID   string          `json:"path_id,omitempty"`
	Text     string          `json:"text,omitempty"`
}

// CommandHandler serves the intake endpoints. Every accepted request results
// in exactly one Enqueue or EnqueueAll call on the sink.
type CommandHandler struct {
	sink      types.CommandSink
	validator *core.Validator
	routines  map[string][]types.Command
	logger    *slog.Logger
}

// NewCommandHandler creates a CommandHandler with the built-in routines.
func NewCommandHandler(sink types.CommandSink, v *core.Validator, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(logger)
	}
	return &CommandHandler{
		sink:      sink,
		validator: v,
		routines:  DefaultRoutines(),
		logger:    logger,
	}
}

// RegisterRoutes mounts the intake routes. Intended for the /v1 group.
func (h *CommandHandler) RegisterRoutes(r chi.Router) {
	r.Post("/commands", h.Enqueue)
	r.Post("/speak", h.Speak)
	r.Post("/actions", h.Action)
	r.Post("/mode", h.SetMode)
	r.Post("/navigate", h.Navigate)
	r.Post("/command_parse", h.ParseCommand)
	r.Post("/paths/{path_id}/execute", h.ExecutePath)
	r.Post("/genspeak", h.GenSpeak)
}

// Enqueue handles POST /v1/commands. The body is queued verbatim once it has
// a non-blank string "type".
func (h *CommandHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var cmd types.Command
	if err := core.DecodeJSONLoose(w, r, &cmd); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := types.ValidateCommand(cmd); err != nil {
		core.Error(w, r, err)
		return
	}
	h.accept(w, r, IntakeResult{Status: StatusCommandQueued, Command: cmd})
}

// Speak handles POST /v1/speak.
func (h *CommandHandler) Speak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.accept(w, r, IntakeResult{Status: StatusSpeechQueued, Command: types.NewSpeakCommand(req.Text)})
}

// Action handles POST /v1/actions.
func (h *CommandHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := types.NewCommand(types.CommandAction, map[string]any{"action_details": req.ActionDetails})
	h.accept(w, r, IntakeResult{Status: StatusActionQueued, Command: cmd})
}

// SetMode handles POST /v1/mode.
func (h *CommandHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := types.NewCommand(types.CommandSetMode, map[string]any{"mode": req.Mode})
	h.accept(w, r, IntakeResult{Status: StatusModeSet, Command: cmd})
}

// Navigate handles POST /v1/navigate.
func (h *CommandHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := types.NewCommand(types.CommandNavigate, map[string]any{"destination": req.Destination})
	h.accept(w, r, IntakeResult{Status: StatusNavigationQueued, Command: cmd})
}

// ParseCommand handles POST /v1/command_parse. Recognized phrases are queued;
// anything else is answered with 200 and nothing is queued.
func (h *CommandHandler) ParseCommand(w http.ResponseWriter, r *http.Request) {
	var req commandParseRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd, ok := ParseCommandText(req.CommandText)
	if !ok {
		h.logger.InfoContext(r.Context(), "command text not recognized", "command_text", req.CommandText)
		core.JSON(w, r, http.StatusOK, core.APIResponse{
			Data: IntakeResult{Status: StatusCommandUnknown, Text: req.CommandText},
		})
		return
	}
	h.accept(w, r, IntakeResult{Status: StatusCommandParsed, Command: cmd})
}

// ExecutePath handles POST /v1/paths/{path_id}/execute. All steps of the
// routine are queued contiguously.
func (h *CommandHandler) ExecutePath(w http.ResponseWriter, r *http.Request) {
	pathID := chi.URLParam(r, "path_id")
	steps, ok := h.routines[pathID]
	if !ok {
		known := make([]string, 0, len(h.routines))
		for id := range h.routines {
			known = append(known, id)
		}
		sort.Strings(known)
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownPath,
			"unknown path: "+pathID,
			nil,
			map[string]any{"known_paths": known},
		))
		return
	}

	cmds := make([]types.Command, len(steps))
	for i, step := range steps {
		cmds[i] = cloneCommand(step)
	}
	h.sink.EnqueueAll(cmds...)

	h.logger.InfoContext(r.Context(), "path queued", "path_id", pathID, "steps", len(cmds))
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{
		Data: IntakeResult{Status: StatusPathStarted, PathID: pathID, Commands: cmds},
	})
}

// GenSpeak handles POST /v1/genspeak. Speech synthesis is simulated: the text
// is validated and echoed, nothing is queued.
func (h *CommandHandler) GenSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !h.decode(w, r, &req) {
		return
	}
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{
		Data: IntakeResult{Status: StatusSpeechSimulated, Text: req.Text},
	})
}

// ParseCommandText maps free text onto a command. "speak <rest>" becomes a
// speak command with the remainder as text; "move forward" becomes a move.
// Keywords are matched case-insensitively anywhere in the text.
func ParseCommandText(text string) (types.Command, bool) {
	lower := strings.ToLower(text)

	if idx := strings.Index(lower, "speak "); idx >= 0 {
		rest := strings.TrimSpace(text[idx+len("speak "):])
		if rest != "" {
			return types.NewSpeakCommand(rest), true
		}
	}
	if strings.Contains(lower, "move forward") {
		return types.NewCommand(types.CommandMove, map[string]any{
			"direction": "forward",
			"distance":  "medium",
		}), true
	}
	return nil, false
}

func (h *CommandHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	return true
}

func (h *CommandHandler) accept(w http.ResponseWriter, r *http.Request, res IntakeResult) {
	h.sink.Enqueue(res.Command)
	h.logger.InfoContext(r.Context(), "command queued",
		"type", res.Command.Type(),
		"request_id", types.GetRequestID(r.Context()),
	)
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: res})
}

func cloneCommand(c types.Command) types.Command {
	out := make(types.Command, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
