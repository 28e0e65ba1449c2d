// Package handlers contains the HTTP handlers for emobridge: the poll
// endpoint the unit calls, the intake endpoints that feed the command queue
// and the schedule administration endpoints.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"emobridge/internal/core"
	"emobridge/internal/types"
)

// CommandDrainer is the consumer side of the command queue.
type CommandDrainer interface {
	DrainAll() []types.Command
	Len() int
}

// DeliveryMetrics receives queue statistics from the poll endpoint.
type DeliveryMetrics interface {
	RecordDrained(n int)
	RecordQueueDepth(n int)
}

// UpdatesHandler serves GET /updates.
type UpdatesHandler struct {
	queue   CommandDrainer
	metrics DeliveryMetrics
	logger  *slog.Logger
}

// NewUpdatesHandler creates an UpdatesHandler. metrics may be nil.
func NewUpdatesHandler(queue CommandDrainer, metrics DeliveryMetrics, logger *slog.Logger) *UpdatesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdatesHandler{queue: queue, metrics: metrics, logger: logger}
}

// RegisterRoutes mounts the poll endpoint. It belongs on the root router: the
// unit's firmware has the path baked in.
func (h *UpdatesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/updates", h.Poll)
}

// Poll hands every pending command to the caller, oldest first, and empties
// the queue. Nothing pending is an empty array, never an error.
func (h *UpdatesHandler) Poll(w http.ResponseWriter, r *http.Request) {
	cmds := h.queue.DrainAll()

	if h.metrics != nil {
		h.metrics.RecordDrained(len(cmds))
		h.metrics.RecordQueueDepth(h.queue.Len())
	}
	if len(cmds) > 0 {
		h.logger.InfoContext(r.Context(), "delivering commands",
			"count", len(cmds),
			"request_id", types.GetRequestID(r.Context()),
		)
	}

	core.JSON(w, r, http.StatusOK, cmds)
}
