package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/eventgate/internal/handlers"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
)

type brokenReader struct{}

func (brokenReader) Get(ctx context.Context, messageID, topic string) (*models.Event, error) {
	return nil, errors.New("connection reset")
}

func (brokenReader) List(ctx context.Context, filter repository.ListFilter) ([]*models.Event, error) {
	return nil, errors.New("connection reset")
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for i, id := range []string{"a", "b", "c"} {
		e := models.NewEvent(id, "digests", "DailyDigest", base.Add(time.Duration(i)*time.Minute))
		if id == "b" {
			require.NoError(t, e.TransitionTo(models.StatusProcessed, base.Add(time.Hour)))
		}
		inserted, err := tx.InsertIfAbsent(ctx, e)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.NoError(t, tx.Commit(ctx))
	return store
}

func newEventsMux(h *handlers.EventsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/events", h.List)
	mux.HandleFunc("/api/v1/events/{message_id}", h.Get)
	return mux
}

func TestEventsList(t *testing.T) {
	mux := newEventsMux(handlers.NewEventsHandler(seededStore(t)))

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []string
		wantPage int
		wantSize int
	}{
		{name: "all newest first", query: "", wantCode: http.StatusOK, wantIDs: []string{"c", "b", "a"}, wantPage: 1, wantSize: 50},
		{name: "by status", query: "?status=PROCESSED", wantCode: http.StatusOK, wantIDs: []string{"b"}, wantPage: 1, wantSize: 50},
		{name: "second page", query: "?limit=2&page=2", wantCode: http.StatusOK, wantIDs: []string{"a"}, wantPage: 2, wantSize: 2},
		{name: "past the end", query: "?limit=2&page=5", wantCode: http.StatusOK, wantIDs: []string{}, wantPage: 5, wantSize: 2},
		{name: "other topic", query: "?topic=alerts", wantCode: http.StatusOK, wantIDs: []string{}, wantPage: 1, wantSize: 50},
		{name: "bad status", query: "?status=DONE", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events"+tt.query, nil))
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, rec.Body.String(), "invalid_status")
				return
			}

			var resp handlers.EventList
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

			ids := make([]string, 0, len(resp.Events))
			for _, e := range resp.Events {
				ids = append(ids, e.MessageID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantPage, resp.Pagination.Page)
			assert.Equal(t, tt.wantSize, resp.Pagination.Limit)
		})
	}

	t.Run("store error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newEventsMux(handlers.NewEventsHandler(brokenReader{})).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "list_failed")
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/events", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestEventsGet(t *testing.T) {
	mux := newEventsMux(handlers.NewEventsHandler(seededStore(t)))

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/b?topic=digests", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var e models.Event
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
		assert.Equal(t, "b", e.MessageID)
		assert.Equal(t, models.StatusProcessed, e.Status)
	})

	t.Run("missing topic", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/b", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/zzz?topic=digests", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_found")
	})

	t.Run("store error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newEventsMux(handlers.NewEventsHandler(brokenReader{})).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/b?topic=digests", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
