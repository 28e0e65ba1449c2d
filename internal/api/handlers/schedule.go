package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"emobridge/internal/core"
	"emobridge/internal/schedule"
	"emobridge/internal/scheduler"
	"emobridge/internal/types"
)

// LoopController is the part of the scheduler loop the admin endpoints use.
type LoopController interface {
	RequestReload()
	Status() scheduler.Status
}

// --- Request/Response Models ---

type appendEntryRequest struct {
	TriggerAt string `json:"trigger_at" validate:"required,schedule_time"`
	Text      string `json:"text" validate:"notblank"`
}

// ScheduleEntryView is the JSON form of one schedule entry.
type ScheduleEntryView struct {
	TriggerAt string `json:"trigger_at"`
	Text      string `json:"text"`
}

// ScheduleView is the data payload of GET /v1/schedule.
type ScheduleView struct {
	Entries      []ScheduleEntryView `json:"entries"`
	Skipped      int                 `json:"skipped_rows"`
	Bootstrapped bool                `json:"bootstrapped,omitempty"`
	Loop         scheduler.Status    `json:"loop"`
}

// ScheduleHandler serves the schedule administration endpoints.
type ScheduleHandler struct {
	store     schedule.Store
	loop      LoopController
	validator *core.Validator
	loc       *time.Location
	logger    *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler. Trigger times in requests are
// read in loc.
func NewScheduleHandler(store schedule.Store, loop LoopController, v *core.Validator, loc *time.Location, logger *slog.Logger) *ScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(logger)
	}
	if loc == nil {
		loc = time.Local
	}
	return &ScheduleHandler{store: store, loop: loop, validator: v, loc: loc, logger: logger}
}

// RegisterRoutes mounts the schedule routes. Intended for the /v1 group.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/schedule", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Append)
		r.Post("/reload", h.Reload)
	})
}

// List handles GET /v1/schedule. It reads the source directly, so the result
// may be ahead of the loop's snapshot until the next refresh.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Load(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "schedule load failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalScheduleStore, "failed to load schedule", err))
		return
	}

	view := ScheduleView{
		Entries:      make([]ScheduleEntryView, 0, len(res.Entries)),
		Skipped:      res.Skipped,
		Bootstrapped: res.Bootstrapped,
		Loop:         h.loop.Status(),
	}
	for _, e := range res.Entries {
		view.Entries = append(view.Entries, ScheduleEntryView{
			TriggerAt: e.TriggerAt.Format(types.ScheduleTimeLayout),
			Text:      e.Text,
		})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// Append handles POST /v1/schedule. One row is added to the source and the
// loop is asked to pick it up on its next tick.
func (h *ScheduleHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req appendEntryRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	at, err := time.ParseInLocation(types.ScheduleTimeLayout, strings.TrimSpace(req.TriggerAt), h.loc)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "trigger_at must match "+types.ScheduleTimeLayout, err))
		return
	}
	entry := types.ScheduleEntry{TriggerAt: at, Text: req.Text}

	if err := h.store.Append(r.Context(), entry); err != nil {
		h.logger.ErrorContext(r.Context(), "schedule append failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalScheduleStore, "failed to append schedule entry", err))
		return
	}
	h.loop.RequestReload()

	h.logger.InfoContext(r.Context(), "schedule entry appended",
		"trigger_at", req.TriggerAt,
		"request_id", types.GetRequestID(r.Context()),
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: ScheduleEntryView{
		TriggerAt: at.Format(types.ScheduleTimeLayout),
		Text:      entry.Text,
	}})
}

// Reload handles POST /v1/schedule/reload.
func (h *ScheduleHandler) Reload(w http.ResponseWriter, r *http.Request) {
	h.loop.RequestReload()
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]string{"status": "reload_requested"}})
}
