// Package attempts exposes the dispatch attempt log and the pending schedule
// over HTTP, for the dashboard and for operators.
package attempts

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/luminet/dimmerd/core/dispatch/logging"
	"github.com/luminet/dimmerd/core/model"
)

// ScheduleSource provides the pending fires, implemented by schedule.Index.
type ScheduleSource interface {
	Snapshot() []model.ScheduledFire
}

// NewAttemptHandler returns an HTTP handler exposing dispatch attempts via
// GET /api/dispatch/attempts. Requests must include an Authorization header
// with "Bearer <token>" when token is non-empty.
func NewAttemptHandler(store logging.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := logging.AttemptQuery{}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		q.Target = r.URL.Query().Get("target")
		if s := r.URL.Query().Get("outcome"); s != "" {
			q.Outcome = model.AttemptOutcome(s)
		}
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				q.Limit = n
			}
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})
}

// NewLatestHandler returns the most recent attempt for one target via
// GET /api/dispatch/attempts/latest?target=<key>.
func NewLatestHandler(store logging.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		target := r.URL.Query().Get("target")
		if target == "" {
			http.Error(w, "target is required", http.StatusBadRequest)
			return
		}
		a, err := store.Latest(r.Context(), target)
		if errors.Is(err, logging.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, a)
	})
}

// NewScheduleHandler exposes the pending fires via GET /api/schedule.
func NewScheduleHandler(src ScheduleSource, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, src.Snapshot())
	})
}

func authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+token
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
