package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accounts/internal/domain/models"
	"accounts/internal/lib/jwt"
	"accounts/internal/lib/sl"
	"accounts/internal/storage"
)

// Authenticate resolves an access token to the account it was issued for.
// Every protected operation goes through it first.
func (a *Auth) Authenticate(ctx context.Context, accessToken string) (models.PublicAccount, error) {
	const op = "auth.Authenticate"

	log := a.log.With(slog.String("op", op))

	if accessToken == "" {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	claims, err := a.tokens.Verify(accessToken, jwt.KindAccess)
	if err != nil {
		log.Debug("access token rejected", sl.Err(err))
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, tokenError(err))
	}

	acc, err := a.accountProvider.AccountByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token subject not found", slog.String("uid", claims.UID))
			return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
		}
		log.Error("failed to get account", sl.Err(err))
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	return acc.Public(), nil
}
