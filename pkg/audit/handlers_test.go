package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlers(t *testing.T) (*mux.Router, *DBStore) {
	t.Helper()
	store := setupStore(t)
	router := mux.NewRouter()
	NewHandlers(NewQueryService(store, WithQueryLogger(quietLogger()))).RegisterRoutes(router)
	return router, store
}

func serve(router http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlers_ListEvents(t *testing.T) {
	router, store := setupHandlers(t)
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Customer", ActionUpdate, "bob", baseTime.Add(time.Hour)),
		newEvent("Invoice", ActionDelete, "alice", baseTime.Add(2*time.Hour)),
	)

	rr := serve(router, "/audit/events?entity_name=Customer&sort_by=time_stamp&sort_order=desc")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body struct {
		Events []*AuditEvent `json:"events"`
		Count  int           `json:"count"`
		Limit  int           `json:"limit"`
		Offset int           `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, defaultPageSize, body.Limit)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "bob", body.Events[0].UserName)

	rr = serve(router, "/audit/events?action_types=insert,delete&sort_by=id&limit=1&offset=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, int64(3), body.Events[0].ID)

	since := baseTime.Add(30 * time.Minute).Format(time.RFC3339)
	rr = serve(router, "/audit/events?since="+since)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestHandlers_BadRequests(t *testing.T) {
	router, _ := setupHandlers(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"bad since", "/audit/events?since=yesterday", http.StatusBadRequest},
		{"bad action", "/audit/events?action_types=Upsert", http.StatusBadRequest},
		{"bad limit", "/audit/events?limit=-1", http.StatusBadRequest},
		{"bad offset", "/audit/events?offset=x", http.StatusBadRequest},
		{"bad sort", "/audit/events?sort_by=changes", http.StatusBadRequest},
		{"bad id", "/audit/events/abc", http.StatusBadRequest},
		{"missing event", "/audit/events/99", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(router, tt.target).Code)
		})
	}
}

func TestHandlers_GetEvent(t *testing.T) {
	router, store := setupHandlers(t)
	seedEvents(t, store, newEvent("Customer", ActionInsert, "alice", baseTime, Change{Field: "Name", Value: "Acme"}))

	rr := serve(router, "/audit/events/1")
	require.Equal(t, http.StatusOK, rr.Code)

	var event AuditEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &event))
	assert.Equal(t, int64(1), event.ID)
	name, _ := event.Changes.Get("Name")
	assert.Equal(t, "Acme", name)
}

func TestHandlers_Export(t *testing.T) {
	router, store := setupHandlers(t)
	seedEvents(t, store, newEvent("Customer", ActionInsert, "alice", baseTime))

	tests := []struct {
		format      string
		contentType string
		filename    string
	}{
		{"", "application/json", "audit-events.json"},
		{"csv", "text/csv", "audit-events.csv"},
		{"ndjson", "application/x-ndjson", "audit-events.ndjson"},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			rr := serve(router, "/audit/export?format="+tt.format)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.contentType, rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Header().Get("Content-Disposition"), tt.filename)
			assert.Contains(t, rr.Body.String(), "alice")
		})
	}
}

func TestHandlers_ExportLimit(t *testing.T) {
	store := setupStore(t)
	router := mux.NewRouter()
	NewHandlers(NewQueryService(store, WithQueryLogger(quietLogger())), WithExportLimit(2)).RegisterRoutes(router)
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Customer", ActionUpdate, "bob", baseTime.Add(time.Hour)),
		newEvent("Customer", ActionDelete, "carol", baseTime.Add(2*time.Hour)),
	)

	for _, target := range []string{"/audit/export?format=ndjson&sort_by=id", "/audit/export?format=ndjson&sort_by=id&limit=50"} {
		rr := serve(router, target)
		require.Equal(t, http.StatusOK, rr.Code)
		lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
		require.Len(t, lines, 2, target)
		assert.NotContains(t, rr.Body.String(), "carol")
	}

	rr := serve(router, "/audit/export?format=ndjson&sort_by=id&limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, strings.Count(rr.Body.String(), "\n"))
}

func TestHandlers_ListClampsLimit(t *testing.T) {
	router, _ := setupHandlers(t)

	rr := serve(router, "/audit/events?limit=1000000")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, maxPageSize, body.Limit)
}

func TestHandlers_Stats(t *testing.T) {
	router, store := setupHandlers(t)
	seedEvents(t, store,
		newEvent("Customer", ActionInsert, "alice", baseTime),
		newEvent("Invoice", ActionInsert, "bob", baseTime),
	)

	rr := serve(router, "/audit/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(2), stats.EventsByAction[ActionInsert])
}

func TestHandlers_StoreFailure(t *testing.T) {
	router, store := setupHandlers(t)
	require.NoError(t, store.DB().Close())

	assert.Equal(t, http.StatusInternalServerError, serve(router, "/audit/events").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(router, "/audit/stats").Code)
}
