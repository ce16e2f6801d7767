package auth

import "errors"

// Error kinds. Every error returned by this package that is caused by the
// caller (rather than by infrastructure) wraps exactly one of them.
var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrAuth        = errors.New("authentication failed")
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstream marks failures of an external collaborator that are worth
	// reporting to the caller by name, such as the media host.
	ErrUpstream = errors.New("upstream failure")
)

// Error is a caller facing error: Error returns a message safe to show to
// clients and Unwrap exposes its kind.
type Error struct {
	kind error
	msg  string
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

var (
	ErrAvatarRequired      = newError(ErrValidation, "avatar is required")
	ErrCoverImageRequired  = newError(ErrValidation, "cover image is required")
	ErrFieldsRequired      = newError(ErrValidation, "all fields are required")
	ErrInvalidEmail        = newError(ErrValidation, "invalid email")
	ErrInvalidUsername     = newError(ErrValidation, "username cannot contain @")
	ErrPasswordTooLong     = newError(ErrValidation, "password is too long")
	ErrCredentialsRequired = newError(ErrValidation, "username or email and password are required")

	ErrUserAlreadyExists = newError(ErrConflict, "username or email already exists")
	ErrEmailTaken        = newError(ErrConflict, "email already in use")

	ErrUserNotFound = newError(ErrNotFound, "user not found")

	ErrInvalidCredentials = newError(ErrAuth, "invalid username/email or password")
	ErrInvalidPassword    = newError(ErrAuth, "invalid old password")
	ErrUnauthorized       = newError(ErrAuth, "unauthorized request")
	ErrTokenExpired       = newError(ErrAuth, "token expired")
	ErrTokenInvalid       = newError(ErrAuth, "invalid token")
	ErrInvalidAccessToken = newError(ErrAuth, "invalid access token")
	// ErrRefreshTokenReused is returned for a well-formed, unexpired refresh
	// token that is not the one currently stored on the account.
	ErrRefreshTokenReused = newError(ErrAuth, "refresh token is expired or used")

	ErrTooManyAttempts = newError(ErrRateLimited, "too many login attempts, try again later")

	ErrAvatarUpload     = newError(ErrUpstream, "couldn't upload avatar, try again")
	ErrCoverImageUpload = newError(ErrUpstream, "couldn't upload cover image, try again")
)
