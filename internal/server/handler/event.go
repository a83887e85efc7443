package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// EventReader is the slice of the event journal EventHandler depends on.
type EventReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
	ListByName(ctx context.Context, name string, opts domain.ListOpts) ([]domain.Event, error)
}

// EventHandler serves the append-only event journal.
type EventHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler backed by the given reader.
func NewEventHandler(events EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logHandler(logger, "event"),
	}
}

// ListEvents returns journal entries, newest first.
// GET /api/events?limit=50&since=...&until=...
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("failed to list events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ListEventsByName returns journal entries carrying one event name.
// GET /api/events/name/{name}
func (h *EventHandler) ListEventsByName(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing event name")
		return
	}

	events, err := h.events.ListByName(r.Context(), name, parseListOpts(r))
	if err != nil {
		h.logger.Error("failed to list events",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":   name,
		"events": events,
		"count":  len(events),
	})
}
