package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/watchroom/watchroom/internal/observability"
)

// Recovery converts handler panics into 500 responses. The panic is logged
// through the request-scoped logger so the request ID travels with it.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				observability.LoggerFromContext(r.Context()).Error("panic serving request",
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
