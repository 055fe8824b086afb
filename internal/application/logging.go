package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/logging"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

func defaultLogger(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return zap.NewNop()
}

// serviceLogger prefers the request logger carried in ctx over the service's
// base logger.
func serviceLogger(ctx context.Context, base *zap.Logger, serviceName, operation string, fields ...zap.Field) *zap.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(base)
	}

	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("service", serviceName))
	if operation != "" {
		all = append(all, zap.String("operation", operation))
	}
	all = append(all, fields...)
	return logger.With(all...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrOccurrenceRemoved):
		return "task_removed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCronToken):
		return "invalid_cron_token"
	case errors.Is(err, scheduler.ErrRangeTooWide), errors.Is(err, scheduler.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
