package audit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/chronicle/pkg/httputil"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000

	// DefaultExportLimit caps the rows rendered by one export request
	DefaultExportLimit = 10000
)

// Handlers provides HTTP handlers for the audit query API
type Handlers struct {
	queries     *QueryService
	exportLimit int
}

// HandlersOption configures Handlers
type HandlersOption func(*Handlers)

// WithExportLimit overrides DefaultExportLimit. Values <= 0 are ignored.
func WithExportLimit(n int) HandlersOption {
	return func(h *Handlers) {
		if n > 0 {
			h.exportLimit = n
		}
	}
}

// NewHandlers creates new audit handlers
func NewHandlers(queries *QueryService, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		queries:     queries,
		exportLimit: DefaultExportLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/events/{id}", h.getEvent).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	q.Limit = min(q.Limit, maxPageSize)

	events, err := h.queries.List(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid event ID")
		return
	}

	event, err := h.queries.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, event)
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if q.Limit == 0 || q.Limit > h.exportLimit {
		q.Limit = h.exportLimit
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := h.queries.Export(r.Context(), q, format)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.json")
	}

	w.Write(data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.queries.Stats(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// parseQuery builds a Query from URL parameters
func parseQuery(r *http.Request) (*Query, error) {
	params := r.URL.Query()
	q := &Query{
		EntityName: params.Get("entity_name"),
		EntityID:   params.Get("entity_id"),
		UserName:   params.Get("user_name"),
		OrderBy:    params.Get("sort_by"),
		Descending: strings.EqualFold(params.Get("sort_order"), "desc"),
	}

	for _, key := range []string{"since", "until"} {
		raw := params.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("invalid " + key + ": expected RFC3339")
		}
		if key == "since" {
			q.Since = &t
		} else {
			q.Until = &t
		}
	}

	if raw := params.Get("action_types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			action, err := ParseActionType(part)
			if err != nil {
				return nil, err
			}
			q.ActionTypes = append(q.ActionTypes, action)
		}
	}

	var err error
	if q.Limit, err = intParam(params.Get("limit")); err != nil {
		return nil, errors.New("invalid limit")
	}
	if q.Offset, err = intParam(params.Get("offset")); err != nil {
		return nil, errors.New("invalid offset")
	}

	return q, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEventNotFound):
		httputil.WriteNotFound(w, "event not found")
	case errors.Is(err, ErrInvalidOrderBy):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w)
	}
}
