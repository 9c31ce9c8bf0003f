package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/angelmondragon/craftstock-backend/pkg/logger"
)

// Logging emits one entry per request once the handler returns. Server
// errors log at warn so they stand out from routine traffic.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			logg.Debug(ctx, "request.start")

			m := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))

			ctx = logg.WithFields(ctx, map[string]any{
				"status":      m.Code,
				"bytes":       m.Written,
				"duration_ms": m.Duration.Milliseconds(),
			})
			if m.Code >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}
