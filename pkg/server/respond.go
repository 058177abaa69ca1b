package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/docbrain-ai/docbrain/pkg/metastore"
)

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError encodes a {"error": ...} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps metastore sentinels onto HTTP status codes.
// Anything unexpected becomes a 500 with the detail kept in the log,
// not the body.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, metastore.ErrPreconditionFailed):
		writeError(w, http.StatusConflict, "entity changed state, retry")
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON parses a request body into dst, rejecting unknown fields
// so typos in client payloads fail loudly.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
