package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/repositories"
	"github.com/cbodonnell/tether/pkg/state"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

func HandleGetStatus(statusManager state.StatusManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := statusManager.Get(r.Context())
		if err != nil {
			log.Error("failed to get status: %v", err)
			http.Error(w, "Failed to get status", http.StatusInternalServerError)
			return
		}
		writeJSON(w, status)
	}
}

func HandleListSessions(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		records, err := repository.ListSessions(r.Context(), limit)
		if err != nil {
			log.Error("failed to list sessions: %v", err)
			http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	}
}

func HandleListDesyncs(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		records, err := repository.ListDesyncs(r.Context(), limit)
		if err != nil {
			log.Error("failed to list desyncs: %v", err)
			http.Error(w, "Failed to list desyncs", http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	}
}

func HandleListBans(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bans, err := repository.ListBans(r.Context())
		if err != nil {
			log.Error("failed to list bans: %v", err)
			http.Error(w, "Failed to list bans", http.StatusInternalServerError)
			return
		}
		writeJSON(w, bans)
	}
}

// parseLimit reads the optional limit query parameter, clamped to MaxLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, strconv.ErrSyntax
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}
