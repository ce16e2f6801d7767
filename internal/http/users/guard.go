package users

import (
	"context"
	"log/slog"
	"net/http"

	"accounts/internal/domain/models"

	"github.com/go-chi/chi/v5/middleware"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.PublicAccount, error)
}

type accountKey struct{}

// AccountFromContext returns the account resolved by Guard.
func AccountFromContext(ctx context.Context) (models.PublicAccount, bool) {
	acc, ok := ctx.Value(accountKey{}).(models.PublicAccount)
	return acc, ok
}

// Guard rejects requests without a valid access token and stores the
// resolved account in the request context.
func Guard(log *slog.Logger, authenticator Authenticator) func(http.Handler) http.Handler {
	const op = "http.users.Guard"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, err := authenticator.Authenticate(r.Context(), accessToken(r))
			if err != nil {
				writeError(w, log.With(
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				), err)
				return
			}

			ctx := context.WithValue(r.Context(), accountKey{}, acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
