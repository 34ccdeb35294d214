package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/hotfix/internal/api/errors"
)

// Recovery turns handler panics into 500 responses.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := middleware.GetReqID(r.Context())
				entry := apierrors.NewErrorLogEntry(requestID, apierrors.CodeInternalError, "panic recovered")
				logger.Error("panic recovered",
					"error", rec,
					"correlation_id", entry.CorrelationID,
					"error_code", entry.ErrorCode,
					"stack_trace", entry.StackTrace,
					"method", r.Method,
					"path", r.URL.Path,
				)

				apierrors.WriteError(w, apierrors.NewInternalError("An unexpected error occurred").WithRequestID(requestID))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
