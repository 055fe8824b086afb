package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/logging"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

const (
	codeUnauthenticated  = "UNAUTHENTICATED"
	codePermissionDenied = "PERMISSION_DENIED"
	codeTaskRemoved      = "TASK_REMOVED"
	codeNotFound         = "NOT_FOUND"
	codeValidationFailed = "VALIDATION_FAILED"
	codeBadRequest       = "BAD_REQUEST"
	codeInvalidCronToken = "INVALID_CRON_TOKEN"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errInvalidDate    = errors.New("date must be YYYY-MM-DD")
	errMissingTaskID  = errors.New("task id is required")
)

type responder struct {
	logger *zap.Logger
}

func newResponder(logger *zap.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).Error("failed to encode response", zap.Error(err))
	}
}

// writeError renders the error envelope. A nil err falls back to the status text.
func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := strings.ToLower(http.StatusText(status))
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		logger := r.loggerFor(ctx)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		} else {
			logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
		}
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, "", errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: codePermissionDenied,
			Message:   "you are not allowed to perform this operation",
		})
	case errors.Is(err, application.ErrOccurrenceRemoved):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: codeTaskRemoved, Message: "task no longer available"})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: codeNotFound, Message: "resource not found"})
	case errors.Is(err, application.ErrInvalidCronToken):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{ErrorCode: codeInvalidCronToken, Message: "cron token rejected"})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidationFailed,
			Message:   "validation failed",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, scheduler.ErrRangeTooWide), errors.Is(err, scheduler.ErrInvalidRange):
		r.writeError(ctx, w, http.StatusBadRequest, codeBadRequest, err)
	default:
		r.loggerFor(ctx).Error("unexpected service error", zap.Error(err), zap.String("error_kind", application.ErrorKind(err)))
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *zap.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"errorCode,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
