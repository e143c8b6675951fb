package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/graph"
	"github.com/MrWong99/talkwire/pkg/store"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeDomainError maps sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail withheld.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, call.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, call.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, call.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid call state")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusBadRequest, "already exists")
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, graph.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		slog.Error("api: internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody parses the JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
