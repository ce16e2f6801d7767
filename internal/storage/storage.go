package storage

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrRefreshTokenMismatch is returned by a conditional update when the
	// stored refresh token digest no longer matches the expected one.
	ErrRefreshTokenMismatch = errors.New("refresh token mismatch")
)
