package models

import "time"

// Account is the persisted account record. It is never serialized directly;
// use Public to build the outward projection.
type Account struct {
	ID         string
	Username   string
	Email      string
	FullName   string
	PassHash   []byte
	Avatar     string
	CoverImage string
	// RefreshTokenHash is the digest of the only refresh token currently
	// accepted for this account. Empty means signed out.
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicAccount is the sanitized projection returned to callers.
type PublicAccount struct {
	ID         string    `json:"_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullname"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"coverImage"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:         a.ID,
		Username:   a.Username,
		Email:      a.Email,
		FullName:   a.FullName,
		Avatar:     a.Avatar,
		CoverImage: a.CoverImage,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// Lookup selects an account by username or email. Non-empty fields are
// matched with OR semantics.
type Lookup struct {
	Username string
	Email    string
}

// AccountUpdate is a partial update. Nil fields are left untouched.
type AccountUpdate struct {
	FullName   *string
	Email      *string
	Avatar     *string
	CoverImage *string
	PassHash   []byte
	// RefreshTokenHash set to an empty string clears the stored token.
	RefreshTokenHash *string
	// IfRefreshTokenHash makes the update conditional on the currently
	// stored refresh token digest.
	IfRefreshTokenHash *string
}
