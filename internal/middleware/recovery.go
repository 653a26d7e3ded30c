package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"branchtale/internal/domain"
	"branchtale/internal/httputil"
)

// Recovery turns a handler panic into a 500 problem response. Panics with
// http.ErrAbortHandler are re-raised so net/http can drop the connection.
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

				logger.Error("panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"user_id", httputil.GetUserID(r),
					"stack", string(debug.Stack()),
				)
				httputil.RespondProblem(w, http.StatusInternalServerError, domain.KindInternal, "internal server error", nil)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
