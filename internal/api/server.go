// Package api exposes the sync engine to the UI over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	syncpkg "github.com/stockline/salesync/internal/sync"
	"github.com/stockline/salesync/internal/sync/scheduler"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	engine    syncpkg.SyncEngineInterface
	scheduler *scheduler.Scheduler
	hub       *WSHub
	started   time.Time
}

// NewServer creates a Server. scheduler and hub may be nil.
func NewServer(engine syncpkg.SyncEngineInterface, sched *scheduler.Scheduler, hub *WSHub) *Server {
	return &Server{
		engine:    engine,
		scheduler: sched,
		hub:       hub,
		started:   time.Now(),
	}
}

// Router wires the handlers into a chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", s.Health)

	r.Post("/api/sync", s.RunSync)
	r.Get("/api/sync/status", s.SyncStatus)
	r.Get("/api/sync/queue/stats", s.QueueStats)

	r.Post("/api/mutations", s.CreateMutation)

	r.Get("/api/conflicts", s.ListConflicts)
	r.Delete("/api/conflicts", s.DismissConflicts)

	r.Post("/api/queue/exhausted/retry", s.RetryExhausted)
	r.Delete("/api/queue/exhausted", s.PurgeExhausted)

	r.Get("/api/cache/{table}", s.GetCache)

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}
	return r
}

// requestLogger logs every request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: string(code), Message: message})
}

// writeAppError maps an error code to an HTTP status.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrDuplicate, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrStorageFailure:
		status = http.StatusInsufficientStorage
	case apperrors.ErrRemoteUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.ErrRemoteRejected:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.Error("Request failed", err, nil)
	}
	writeError(w, status, code, err.Error())
}
