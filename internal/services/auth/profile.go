package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"accounts/internal/domain/models"
	"accounts/internal/lib/sl"
	"accounts/internal/media"
	"accounts/internal/storage"
)

// UpdateDetails replaces the display name and email of the account.
func (a *Auth) UpdateDetails(ctx context.Context, uid, fullName, email string) (models.PublicAccount, error) {
	const op = "auth.UpdateDetails"

	log := a.log.With(
		slog.String("op", op),
		slog.String("uid", uid),
	)

	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))

	if fullName == "" || email == "" {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrFieldsRequired)
	}
	if !emailRe.MatchString(email) {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	acc, err := a.accountUpdater.UpdateAccount(ctx, uid, models.AccountUpdate{
		FullName: &fullName,
		Email:    &email,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserAlreadyExists):
			log.Warn("email already in use")
			return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		case errors.Is(err, storage.ErrUserNotFound):
			return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to update account", sl.Err(err))
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account details updated")

	return acc.Public(), nil
}

func (a *Auth) UpdateAvatar(ctx context.Context, uid string, file *media.Staged) (models.PublicAccount, error) {
	const op = "auth.UpdateAvatar"

	if file == nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrAvatarRequired)
	}

	acc, err := a.replaceImage(ctx, op, uid, file, ErrAvatarUpload, func(url *string) models.AccountUpdate {
		return models.AccountUpdate{Avatar: url}
	})
	if err != nil {
		return models.PublicAccount{}, err
	}

	return acc.Public(), nil
}

func (a *Auth) UpdateCoverImage(ctx context.Context, uid string, file *media.Staged) (models.PublicAccount, error) {
	const op = "auth.UpdateCoverImage"

	if file == nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrCoverImageRequired)
	}

	acc, err := a.replaceImage(ctx, op, uid, file, ErrCoverImageUpload, func(url *string) models.AccountUpdate {
		return models.AccountUpdate{CoverImage: url}
	})
	if err != nil {
		return models.PublicAccount{}, err
	}

	return acc.Public(), nil
}

func (a *Auth) replaceImage(
	ctx context.Context,
	op string,
	uid string,
	file *media.Staged,
	uploadErr error,
	update func(url *string) models.AccountUpdate,
) (*models.Account, error) {
	log := a.log.With(
		slog.String("op", op),
		slog.String("uid", uid),
	)

	url, err := a.uploader.Upload(ctx, file.Path())
	if err != nil {
		log.Error("failed to upload image", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %w", op, uploadErr, err)
	}

	acc, err := a.accountUpdater.UpdateAccount(ctx, uid, update(&url))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to update account", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("image updated", slog.String("url", url))

	return acc, nil
}
