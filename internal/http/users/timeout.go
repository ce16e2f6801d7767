package users

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Timeout puts a deadline of d on every request context. Handlers report
// deadline errors themselves through writeError; a handler that returns past
// the deadline without writing anything gets a 503 envelope.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if ww.Status() == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				fail(ww, http.StatusServiceUnavailable, "service temporarily unavailable, try again")
			}
		}

		return http.HandlerFunc(fn)
	}
}
