package middleware

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// Logging creates a middleware that logs HTTP requests and responses using
// structured logging with slog.
func Logging(logger *slog.Logger) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		method := ctx.Method()
		path := ctx.URL().Path
		remoteAddr := ctx.RemoteAddr()

		logger.Debug("incoming request", "method", method, "path", path, "remote_addr", remoteAddr)

		next(ctx)

		logger.Info("request completed",
			"method", method,
			"path", path,
			"status", ctx.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", remoteAddr,
		)
	}
}
