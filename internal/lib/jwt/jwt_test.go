package jwt_test

import (
	"strings"
	"testing"
	"time"

	"accounts/internal/lib/jwt"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = jwt.Config{
	AccessSecret:  "access-secret",
	AccessTTL:     15 * time.Minute,
	RefreshSecret: "refresh-secret",
	RefreshTTL:    10 * 24 * time.Hour,
	Issuer:        "accounts-test",
}

func newIssuer(t *testing.T, opts ...jwt.Option) *jwt.Issuer {
	t.Helper()

	issuer, err := jwt.New(testConfig, opts...)
	require.NoError(t, err)

	return issuer
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*jwt.Config)
	}{
		{name: "empty access secret", mutate: func(c *jwt.Config) { c.AccessSecret = "" }},
		{name: "empty refresh secret", mutate: func(c *jwt.Config) { c.RefreshSecret = "" }},
		{name: "shared secret", mutate: func(c *jwt.Config) { c.RefreshSecret = c.AccessSecret }},
		{name: "zero access ttl", mutate: func(c *jwt.Config) { c.AccessTTL = 0 }},
		{name: "negative refresh ttl", mutate: func(c *jwt.Config) { c.RefreshTTL = -time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			tt.mutate(&cfg)

			_, err := jwt.New(cfg)
			require.Error(t, err)
		})
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer := newIssuer(t)
	issuedAt := time.Now()

	access, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, issuedAt.Add(testConfig.AccessTTL), access.ExpiresAt, time.Second)

	refresh, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, issuedAt.Add(testConfig.RefreshTTL), refresh.ExpiresAt, time.Second)

	claims, err := issuer.Verify(access.Value, jwt.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UID)
	assert.Equal(t, jwt.KindAccess, claims.Kind)
	assert.Equal(t, "accounts-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)

	claims, err = issuer.Verify(refresh.Value, jwt.KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UID)
	assert.Equal(t, jwt.KindRefresh, claims.Kind)
}

func TestIssue_TokensAreDistinct(t *testing.T) {
	issuer := newIssuer(t)

	first, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)
	second, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Value, second.Value)
}

func TestVerify_KindsAreNotInterchangeable(t *testing.T) {
	issuer := newIssuer(t)

	access, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)
	refresh, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = issuer.Verify(access.Value, jwt.KindRefresh)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalid)

	_, err = issuer.Verify(refresh.Value, jwt.KindAccess)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalid)
}

func TestVerify_Expired(t *testing.T) {
	past := newIssuer(t, jwt.WithClock(func() time.Time {
		return time.Now().Add(-time.Hour)
	}))

	access, err := past.IssueAccess("user-1")
	require.NoError(t, err)

	_, err = newIssuer(t).Verify(access.Value, jwt.KindAccess)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	assert.NotErrorIs(t, err, jwt.ErrTokenInvalid)
}

func TestVerify_Invalid(t *testing.T) {
	issuer := newIssuer(t)

	access, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)

	parts := strings.Split(access.Value, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	foreignCfg := testConfig
	foreignCfg.AccessSecret = "someone-elses-secret"
	foreign, err := jwt.New(foreignCfg)
	require.NoError(t, err)
	forged, err := foreign.IssueAccess("user-1")
	require.NoError(t, err)

	noneToken, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, jwt.Claims{
		UID:  "user-1",
		Kind: jwt.KindAccess,
		RegisteredClaims: gojwt.RegisteredClaims{
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    testConfig.Issuer,
		},
	}).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "tampered signature", token: tampered},
		{name: "foreign secret", token: forged.Value},
		{name: "alg none", token: noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token, jwt.KindAccess)
			assert.ErrorIs(t, err, jwt.ErrTokenInvalid)
		})
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	otherCfg := testConfig
	otherCfg.Issuer = "someone-else"
	other, err := jwt.New(otherCfg)
	require.NoError(t, err)

	access, err := other.IssueAccess("user-1")
	require.NoError(t, err)

	_, err = newIssuer(t).Verify(access.Value, jwt.KindAccess)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalid)
}
