package audit

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AGoodId/guardian/pkg/httputil"
)

const defaultEventLimit = 50

// Handlers exposes the audit trail over HTTP
type Handlers struct {
	logger *DBLogger
}

// NewHandlers creates audit trail handlers
func NewHandlers(logger *DBLogger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterRoutes registers audit trail routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.ListEvents).Methods("GET")
}

// ListEvents returns recent audit events, newest first
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultEventLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit <= 0 || limit > 500 {
		httputil.WriteBadRequest(w, "limit must be between 1 and 500")
		return
	}

	events, err := h.logger.Recent(r.Context(), limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if events == nil {
		events = []Event{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
	})
}
