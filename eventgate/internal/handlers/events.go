package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/telhawk-systems/eventgate/common/httputil"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// EventReader is the read side of the event store.
type EventReader interface {
	Get(ctx context.Context, messageID, topic string) (*models.Event, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*models.Event, error)
}

// EventsHandler exposes events for inspection. It never mutates them.
type EventsHandler struct {
	store EventReader
}

func NewEventsHandler(store EventReader) *EventsHandler {
	return &EventsHandler{store: store}
}

// EventList is the response body of List.
type EventList struct {
	Events     []*models.Event     `json:"events"`
	Pagination httputil.Pagination `json:"pagination"`
}

// List handles GET /api/v1/events?status=&topic=&event_type=&page=&limit=.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	page := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	filter := repository.ListFilter{
		Topic:     q.Get("topic"),
		EventType: q.Get("event_type"),
		Limit:     page.Limit,
		Offset:    page.Offset(),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseEventStatus(raw)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		filter.Status = status
	}

	events, err := h.store.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if events == nil {
		events = []*models.Event{}
	}

	httputil.WriteJSON(w, http.StatusOK, EventList{Events: events, Pagination: page})
}

// Get handles GET /api/v1/events/{message_id}?topic=.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	messageID := r.PathValue("message_id")
	topic := r.URL.Query().Get("topic")
	if messageID == "" || topic == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "message_id and topic are required")
		return
	}

	event, err := h.store.Get(r.Context(), messageID, topic)
	if errors.Is(err, repository.ErrEventNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "event not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, event)
}
