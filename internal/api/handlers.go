package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/models"
	syncpkg "github.com/stockline/salesync/internal/sync"
)

// Health handles GET /api/health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"service":        "salesync",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"state":          s.engine.State(),
	})
}

// RunSync handles POST /api/sync. The cycle is not tied to the request, so
// a client disconnect does not interrupt it.
func (s *Server) RunSync(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	var result *syncpkg.SyncResult
	if s.scheduler != nil {
		result = s.scheduler.SyncNow(ctx)
	} else {
		result = s.engine.RunSync(ctx)
	}

	if result.AlreadyRunning {
		writeError(w, http.StatusConflict, apperrors.ErrSyncInProgress, "sync already in progress")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SyncStatus handles GET /api/sync/status.
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": s.engine.Status(),
	}
	if s.scheduler != nil {
		resp["scheduler"] = s.scheduler.GetStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueueStats handles GET /api/sync/queue/stats.
func (s *Server) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.QueueStats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CreateMutation handles POST /api/mutations.
// Returns 201 when the backend confirmed the write and 202 when it was queued.
func (s *Server) CreateMutation(w http.ResponseWriter, r *http.Request) {
	var m models.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "invalid JSON body")
		return
	}

	res, err := s.engine.QueueOrExecute(context.WithoutCancel(r.Context()), m)
	if err != nil {
		writeAppError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Status == syncpkg.ExecStatusExecuted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ListConflicts handles GET /api/conflicts.
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Conflicts(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []models.ConflictLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": entries,
		"total":     len(entries),
	})
}

// DismissConflicts handles DELETE /api/conflicts.
func (s *Server) DismissConflicts(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DismissConflicts(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryExhausted handles POST /api/queue/exhausted/retry.
func (s *Server) RetryExhausted(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.RetryExhausted(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

// PurgeExhausted handles DELETE /api/queue/exhausted.
func (s *Server) PurgeExhausted(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.PurgeExhausted(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// GetCache handles GET /api/cache/{table}.
func (s *Server) GetCache(w http.ResponseWriter, r *http.Request) {
	table, err := models.ParseTable(chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, err.Error())
		return
	}

	view, err := s.engine.Cached(r.Context(), table)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
