package http

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/logging"
)

func defaultLogger(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return zap.NewNop()
}

func handlerLogger(ctx context.Context, fallback *zap.Logger, handlerName, operation string, fields ...zap.Field) *zap.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(fallback)
	}

	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("handler", handlerName))
	if operation != "" {
		all = append(all, zap.String("operation", operation))
	}
	all = append(all, fields...)
	return logger.With(all...)
}
