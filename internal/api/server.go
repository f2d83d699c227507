package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/metrics"
	"github.com/JakeFAU/progressrelay/internal/store"
)

const (
	requestTimeout = 30 * time.Second
	readyTimeout   = 2 * time.Second
)

// SessionSource reports the state of the coordinator's session.
type SessionSource interface {
	Snapshot() (uuid.UUID, bool)
}

// Pinger is implemented by stores that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the session coordinator and task store.
type Server struct {
	router   chi.Router
	sessions SessionSource
	ready    Pinger
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. repo and ready may
// be nil; the task routes then answer 503 and readyz reports ready.
func NewServer(sessions SessionSource, repo store.TaskRepository, ready Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		sessions: sessions,
		ready:    ready,
		logger:   logger,
	}
	tasks := NewTaskHandler(repo, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.session)
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", tasks.ListTasks)
			r.Get("/{task_id}", tasks.GetTask)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "task store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) session(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, sessionDTO{})
		return
	}
	id, active := s.sessions.Snapshot()
	dto := sessionDTO{Active: active}
	if active && id != uuid.Nil {
		dto.SessionID = id.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

type sessionDTO struct {
	Active    bool   `json:"active"`
	SessionID string `json:"session_id,omitempty"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
