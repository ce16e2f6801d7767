package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Config holds signing secrets and lifetimes. Access and refresh tokens are
// signed with independent secrets.
type Config struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	Issuer        string
}

// Claims is the payload of both token kinds.
type Claims struct {
	UID  string `json:"uid"`
	Kind Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Token is a signed token together with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type Issuer struct {
	cfg Config
	now func() time.Time
}

type Option func(*Issuer)

// WithClock overrides the time source used for issuing and verification.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func New(cfg Config, opts ...Option) (*Issuer, error) {
	const op = "jwt.New"

	switch {
	case cfg.AccessSecret == "" || cfg.RefreshSecret == "":
		return nil, fmt.Errorf("%s: signing secrets are required", op)
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, fmt.Errorf("%s: access and refresh secrets must differ", op)
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, fmt.Errorf("%s: token ttl must be positive", op)
	}

	i := &Issuer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

func (i *Issuer) IssueAccess(uid string) (Token, error) {
	return i.issue(uid, KindAccess)
}

func (i *Issuer) IssueRefresh(uid string) (Token, error) {
	return i.issue(uid, KindRefresh)
}

// Verify parses token, checks its signature against the secret for kind and
// returns its claims. Expired tokens yield ErrTokenExpired, anything else
// that fails yields ErrTokenInvalid.
func (i *Issuer) Verify(token string, kind Kind) (*Claims, error) {
	secret, _, err := i.params(kind)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !parsed.Valid || claims.Kind != kind || claims.UID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

func (i *Issuer) issue(uid string, kind Kind) (Token, error) {
	secret, ttl, err := i.params(kind)
	if err != nil {
		return Token{}, err
	}

	now := i.now()
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UID:  uid,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return Token{}, err
	}

	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

func (i *Issuer) params(kind Kind) (string, time.Duration, error) {
	switch kind {
	case KindAccess:
		return i.cfg.AccessSecret, i.cfg.AccessTTL, nil
	case KindRefresh:
		return i.cfg.RefreshSecret, i.cfg.RefreshTTL, nil
	default:
		return "", 0, fmt.Errorf("unknown token kind %q", kind)
	}
}
