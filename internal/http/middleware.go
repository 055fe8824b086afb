package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/logging"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderCronToken = "X-Cron-Token"
	HeaderRequestID = "X-Request-ID"
)

var (
	errMissingIdentity = errors.New("missing X-User-ID or X-User-Role header")
	errUnknownRole     = errors.New("unknown role")
)

// identityFromHeaders reads the gateway-supplied identity. It returns
// errMissingIdentity when either header is absent and errUnknownRole for
// roles the scheduler does not know.
func identityFromHeaders(r *http.Request) (application.Principal, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	role := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderUserRole)))
	if userID == "" || role == "" {
		return application.Principal{}, errMissingIdentity
	}
	principal := application.Principal{UserID: userID, Role: scheduler.Role(role)}
	if !principal.Role.Valid() {
		return application.Principal{}, errUnknownRole
	}
	return principal, nil
}

// RequireIdentity rejects requests without gateway identity headers with 401
// and requests with an unknown role with 403.
func RequireIdentity(logger *zap.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := identityFromHeaders(r)
			switch {
			case errors.Is(err, errMissingIdentity):
				responder.writeError(r.Context(), w, http.StatusUnauthorized, codeUnauthenticated, err)
				return
			case err != nil:
				responder.writeError(r.Context(), w, http.StatusForbidden, codePermissionDenied, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// RequestLogger attaches a request-scoped logger carrying a request id. An
// incoming X-Request-ID is reused; otherwise a uuid is assigned.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)

			logger := base.With(
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ctx := logging.ContextWithLogger(r.Context(), logger)
			recorder := &statusRecorder{ResponseWriter: w}

			start := time.Now()
			logger.Debug("request started")
			next.ServeHTTP(recorder, r.WithContext(ctx))
			logger.Info("request completed", zap.Int("status", recorder.status), zap.Duration("duration", time.Since(start)))
		})
	}
}

// Recover turns handler panics into 500 responses.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					responder.loggerFor(r.Context()).Error("handler panicked", zap.Any("panic", rec), zap.Stack("stack"))
					responder.writeError(r.Context(), w, http.StatusInternalServerError, "", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
