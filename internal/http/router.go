package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Calendar   *CalendarHandler
	Tasks      *TaskHandler
	Checklists *ChecklistHandler
	// Health reports readiness of backing stores; nil means always healthy.
	Health     func(ctx context.Context) error
	Logger     *zap.Logger
	Middleware []func(http.Handler) http.Handler
}

// NewRouter mounts the scheduler API. Identity headers are required on every
// route except /healthz and the auto-generate trigger, which also accepts a
// cron token.
func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	responder := newResponder(cfg.Logger)
	identity := RequireIdentity(cfg.Logger)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				responder.loggerFor(r.Context()).Warn("health check failed", zap.Error(err))
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if cfg.Calendar != nil {
		router.Handle("/calendar", identity(http.HandlerFunc(cfg.Calendar.Get))).Methods(http.MethodGet)
	}

	if cfg.Tasks != nil {
		// mounted on the root router so a wrong method gets 405, not 404
		task := func(suffix, method string, handler http.HandlerFunc) {
			router.Handle("/tasks/{id}"+suffix, identity(handler)).Methods(method)
		}
		task("", http.MethodGet, cfg.Tasks.Get)
		task("/materialize", http.MethodPost, cfg.Tasks.Materialize)
		task("/start", http.MethodPost, cfg.Tasks.Start)
		task("/complete", http.MethodPost, cfg.Tasks.Complete)
		task("/comments", http.MethodPost, cfg.Tasks.Comment)
		task("/comments", http.MethodGet, cfg.Tasks.Comments)
	}

	if cfg.Checklists != nil {
		router.HandleFunc("/checklists/auto-generate", cfg.Checklists.AutoGenerate).Methods(http.MethodPost)
		router.Handle("/checklists/auto-generate", identity(http.HandlerFunc(cfg.Checklists.Status))).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.writeError(r.Context(), w, http.StatusNotFound, codeNotFound, nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.writeError(r.Context(), w, http.StatusMethodNotAllowed, "", nil)
	})

	var handler http.Handler = router
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}
