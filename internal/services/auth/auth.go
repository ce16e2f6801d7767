package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"accounts/internal/domain/models"
	"accounts/internal/lib/jwt"
	"accounts/internal/lib/password"
	"accounts/internal/lib/ratelimit"
	"accounts/internal/lib/sl"
	"accounts/internal/media"
	"accounts/internal/storage"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Auth struct {
	log             *slog.Logger
	accountSaver    AccountSaver
	accountProvider AccountProvider
	accountUpdater  AccountUpdater
	hasher          password.Hasher
	tokens          TokenIssuer
	uploader        media.Uploader
	limiter         LoginLimiter
}

type AccountSaver interface {
	SaveAccount(ctx context.Context, acc models.Account) (*models.Account, error)
}

type AccountProvider interface {
	Account(ctx context.Context, lookup models.Lookup) (*models.Account, error)
	AccountByID(ctx context.Context, id string) (*models.Account, error)
}

type AccountUpdater interface {
	UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error)
}

type TokenIssuer interface {
	IssueAccess(uid string) (jwt.Token, error)
	IssueRefresh(uid string) (jwt.Token, error)
	Verify(token string, kind jwt.Kind) (*jwt.Claims, error)
}

// LoginLimiter throttles failed logins per identifier.
type LoginLimiter interface {
	Check(ctx context.Context, identifier string) error
	Increment(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
}

// New returns a new instance of the Auth service. limiter may be nil, in
// which case logins are not throttled.
func New(
	log *slog.Logger,
	accountSaver AccountSaver,
	accountProvider AccountProvider,
	accountUpdater AccountUpdater,
	hasher password.Hasher,
	tokens TokenIssuer,
	uploader media.Uploader,
	limiter LoginLimiter,
) *Auth {
	return &Auth{
		log:             log,
		accountSaver:    accountSaver,
		accountProvider: accountProvider,
		accountUpdater:  accountUpdater,
		hasher:          hasher,
		tokens:          tokens,
		uploader:        uploader,
		limiter:         limiter,
	}
}

type RegisterInput struct {
	Username   string
	Email      string
	FullName   string
	Password   string
	Avatar     *media.Staged
	CoverImage *media.Staged
}

type LoginResult struct {
	Account models.PublicAccount
	Tokens  models.TokenPair
}

// Register creates a new account. Staged files in in are only read; the
// caller stays responsible for discarding them.
func (a *Auth) Register(ctx context.Context, in RegisterInput) (models.PublicAccount, error) {
	const op = "auth.Register"

	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)
	log.Info("registering account")

	if username == "" || email == "" || fullName == "" || strings.TrimSpace(in.Password) == "" {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrFieldsRequired)
	}
	if !emailRe.MatchString(email) {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}
	// Login tells usernames from emails by the @ sign.
	if strings.Contains(username, "@") {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrInvalidUsername)
	}
	if in.Avatar == nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrAvatarRequired)
	}

	_, err := a.accountProvider.Account(ctx, models.Lookup{Username: username, Email: email})
	switch {
	case err == nil:
		log.Warn("account already exists")
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to look up account", sl.Err(err))
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := a.hashPassword(log, in.Password)
	if err != nil {
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	avatarURL, err := a.uploader.Upload(ctx, in.Avatar.Path())
	if err != nil {
		log.Error("failed to upload avatar", sl.Err(err))
		return models.PublicAccount{}, fmt.Errorf("%s: %w: %w", op, ErrAvatarUpload, err)
	}

	var coverURL string
	if in.CoverImage != nil {
		coverURL, err = a.uploader.Upload(ctx, in.CoverImage.Path())
		if err != nil {
			log.Error("failed to upload cover image", sl.Err(err))
			return models.PublicAccount{}, fmt.Errorf("%s: %w: %w", op, ErrCoverImageUpload, err)
		}
	}

	acc, err := a.accountSaver.SaveAccount(ctx, models.Account{
		Username:   username,
		Email:      email,
		FullName:   fullName,
		PassHash:   []byte(passHash),
		Avatar:     avatarURL,
		CoverImage: coverURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Warn("account already exists", sl.Err(err))
			return models.PublicAccount{}, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save account", sl.Err(err))
		return models.PublicAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account registered", slog.String("uid", acc.ID))

	return acc.Public(), nil
}

// Login checks the credentials of the account matching identifier and starts
// a new session, replacing any previous one. An identifier containing @ is
// matched against emails, anything else against usernames. Failed attempts
// are counted per account, so switching identifiers does not widen the budget.
func (a *Auth) Login(ctx context.Context, identifier, pass string) (LoginResult, error) {
	const op = "auth.Login"

	identifier = strings.ToLower(strings.TrimSpace(identifier))

	log := a.log.With(slog.String("op", op))
	log.Info("login request")

	if identifier == "" || pass == "" {
		return LoginResult{}, fmt.Errorf("%s: %w", op, ErrCredentialsRequired)
	}

	lookup := models.Lookup{Username: identifier}
	if strings.Contains(identifier, "@") {
		lookup = models.Lookup{Email: identifier}
	}

	acc, err := a.accountProvider.Account(ctx, lookup)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			if err := a.throttle(ctx, log, identifier); err != nil {
				return LoginResult{}, fmt.Errorf("%s: %w", op, err)
			}
			log.Warn("account not found")
			a.loginFailed(ctx, log, identifier)
			return LoginResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get account", sl.Err(err))
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	attempts := attemptsKey(acc.ID)
	if err := a.throttle(ctx, log, attempts); err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.hasher.Verify(pass, string(acc.PassHash))
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("invalid password", slog.String("uid", acc.ID))
		a.loginFailed(ctx, log, attempts)
		return LoginResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if a.limiter != nil {
		if err := a.limiter.Reset(ctx, attempts); err != nil {
			log.Warn("failed to reset login attempts", sl.Err(err))
		}
	}

	pair, acc, err := a.rotate(ctx, acc.ID, nil)
	if err != nil {
		log.Error("failed to start session", sl.Err(err))
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account logged in", slog.String("uid", acc.ID))

	return LoginResult{Account: acc.Public(), Tokens: pair}, nil
}

// Refresh exchanges the current refresh token of an account for a new token
// pair. Any other refresh token, even an unexpired one issued earlier, is
// rejected with ErrRefreshTokenReused.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))
	log.Info("refresh request")

	if refreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	claims, err := a.tokens.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		log.Warn("refresh token rejected", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, tokenError(err))
	}

	log = log.With(slog.String("uid", claims.UID))

	acc, err := a.accountProvider.AccountByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("account not found")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get account", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	digest := hashToken(refreshToken)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(acc.RefreshTokenHash)) != 1 {
		log.Warn("refresh token is not the current one")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenReused)
	}

	pair, _, err := a.rotate(ctx, acc.ID, &digest)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenReused) || errors.Is(err, ErrUserNotFound) {
			log.Warn("lost refresh race", sl.Err(err))
		} else {
			log.Error("failed to rotate tokens", sl.Err(err))
		}
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed")

	return pair, nil
}

// ChangePassword replaces the password hash of the account. The current
// session is left as is.
func (a *Auth) ChangePassword(ctx context.Context, uid, oldPassword, newPassword string) error {
	const op = "auth.ChangePassword"

	log := a.log.With(
		slog.String("op", op),
		slog.String("uid", uid),
	)
	log.Info("changing password")

	if oldPassword == "" || strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%s: %w", op, ErrFieldsRequired)
	}

	acc, err := a.accountProvider.AccountByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get account", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.hasher.Verify(oldPassword, string(acc.PassHash))
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("invalid old password")
		return fmt.Errorf("%s: %w", op, ErrInvalidPassword)
	}

	passHash, err := a.hashPassword(log, newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := a.accountUpdater.UpdateAccount(ctx, uid, models.AccountUpdate{PassHash: []byte(passHash)}); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed")

	return nil
}

// Logout clears the stored refresh token, so no refresh token issued to the
// account before this call can be used again.
func (a *Auth) Logout(ctx context.Context, uid string) error {
	const op = "auth.Logout"

	log := a.log.With(
		slog.String("op", op),
		slog.String("uid", uid),
	)

	cleared := ""
	if _, err := a.accountUpdater.UpdateAccount(ctx, uid, models.AccountUpdate{RefreshTokenHash: &cleared}); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to clear refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account logged out")

	return nil
}

// rotate issues a new token pair for uid and stores the digest of its
// refresh token. With a non-nil expected the write only happens while the
// stored digest still equals *expected.
func (a *Auth) rotate(ctx context.Context, uid string, expected *string) (models.TokenPair, *models.Account, error) {
	access, err := a.tokens.IssueAccess(uid)
	if err != nil {
		return models.TokenPair{}, nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := a.tokens.IssueRefresh(uid)
	if err != nil {
		return models.TokenPair{}, nil, fmt.Errorf("issue refresh token: %w", err)
	}

	digest := hashToken(refresh.Value)
	acc, err := a.accountUpdater.UpdateAccount(ctx, uid, models.AccountUpdate{
		RefreshTokenHash:   &digest,
		IfRefreshTokenHash: expected,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRefreshTokenMismatch):
			return models.TokenPair{}, nil, ErrRefreshTokenReused
		case errors.Is(err, storage.ErrUserNotFound):
			return models.TokenPair{}, nil, ErrUserNotFound
		}
		return models.TokenPair{}, nil, fmt.Errorf("store refresh token: %w", err)
	}

	return models.TokenPair{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, acc, nil
}

// throttle returns ErrTooManyAttempts once key has used up its failure
// budget. An unreachable limiter lets the attempt through.
func (a *Auth) throttle(ctx context.Context, log *slog.Logger, key string) error {
	if a.limiter == nil {
		return nil
	}

	err := a.limiter.Check(ctx, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrRateLimited):
		log.Warn("login throttled")
		return ErrTooManyAttempts
	default:
		log.Warn("login limiter unavailable", sl.Err(err))
		return nil
	}
}

func (a *Auth) loginFailed(ctx context.Context, log *slog.Logger, key string) {
	if a.limiter == nil {
		return
	}
	if err := a.limiter.Increment(ctx, key); err != nil {
		log.Warn("failed to record login attempt", sl.Err(err))
	}
}

// attemptsKey is the limiter key of a known account.
func attemptsKey(uid string) string {
	return "account:" + uid
}

// hashPassword hashes pass, reporting input the hasher rejects as a
// validation error.
func (a *Auth) hashPassword(log *slog.Logger, pass string) (string, error) {
	hash, err := a.hasher.Hash(pass)
	switch {
	case err == nil:
		return hash, nil
	case errors.Is(err, password.ErrEmptyPassword):
		return "", ErrFieldsRequired
	case errors.Is(err, password.ErrPasswordTooLong):
		return "", ErrPasswordTooLong
	default:
		log.Error("failed to hash password", sl.Err(err))
		return "", err
	}
}

// hashToken is the form a refresh token is stored in.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func tokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}
