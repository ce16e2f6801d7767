package users

import (
	"net/http"
	"strings"
	"time"

	"accounts/internal/domain/models"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// ParseSameSite accepts "lax", "strict" or "none". Anything else yields the
// browser default.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

func (c CookieConfig) setTokens(w http.ResponseWriter, pair models.TokenPair) {
	c.set(w, accessCookie, pair.AccessToken, pair.AccessExpiresAt)
	c.set(w, refreshCookie, pair.RefreshToken, pair.RefreshExpiresAt)
}

func (c CookieConfig) clearTokens(w http.ResponseWriter) {
	c.set(w, accessCookie, "", time.Time{})
	c.set(w, refreshCookie, "", time.Time{})
}

// set writes an http only cookie. A zero expires deletes it.
func (c CookieConfig) set(w http.ResponseWriter, name, value string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
	if expires.IsZero() {
		cookie.MaxAge = -1
	} else {
		cookie.Expires = expires.UTC()
		cookie.MaxAge = int(time.Until(expires).Seconds())
	}

	http.SetCookie(w, cookie)
}

// accessToken reads the access token from its cookie, falling back to an
// "Authorization: Bearer" header.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(accessCookie); err == nil && c.Value != "" {
		return c.Value
	}

	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}
