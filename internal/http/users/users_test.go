package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"accounts/internal/domain/models"
	"accounts/internal/http/users"
	"accounts/internal/lib/jwt"
	"accounts/internal/lib/password"
	"accounts/internal/observability"
	"accounts/internal/services/auth"
	"accounts/internal/storage/memory"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type uploader struct{}

func (uploader) Upload(_ context.Context, path string) (string, error) {
	return "https://cdn.test/" + filepath.Base(path), nil
}

type apiResponse struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

type testServer struct {
	router     http.Handler
	stagingDir string
	metrics    *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	issuer, err := jwt.New(jwt.Config{
		AccessSecret:  "access-secret",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    10 * 24 * time.Hour,
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	svc := auth.New(log, store, store, store, password.NewBcrypt(bcrypt.MinCost), issuer, uploader{}, nil)

	stagingDir := filepath.Join(t.TempDir(), "staging")
	metrics := observability.New()

	r := chi.NewRouter()
	users.Register(r, log, svc, users.Options{
		Cookies:        users.CookieConfig{Secure: true, SameSite: http.SameSiteLaxMode},
		StagingDir:     stagingDir,
		MaxUploadBytes: 64 << 10,
		Metrics:        metrics,
	})

	return &testServer{router: r, stagingDir: stagingDir, metrics: metrics}
}

func (s *testServer) do(t *testing.T, req *http.Request) (*http.Response, apiResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	res := rec.Result()
	t.Cleanup(func() { _ = res.Body.Close() })

	var body apiResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, res.StatusCode, body.StatusCode)

	return res, body
}

func (s *testServer) assertStagingEmpty(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(s.stagingDir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type form struct {
	fields map[string]string
	files  map[string]string
}

func multipartRequest(t *testing.T, method, target string, f form) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range f.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, name := range f.files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(gofakeit.LoremIpsumSentence(8)))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func registerForm(username, email string) form {
	return form{
		fields: map[string]string{
			"username": username,
			"email":    email,
			"fullname": gofakeit.Name(),
			"password": "Secret1!",
		},
		files: map[string]string{"avatar": "avatar.png"},
	}
}

type session struct {
	User         models.PublicAccount `json:"user"`
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
}

func (s *testServer) registerAndLogin(t *testing.T) session {
	t.Helper()

	username := strings.ToLower(gofakeit.Username()) + gofakeit.DigitN(4)
	res, _ := s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", registerForm(username, username+"@example.com")))
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, body := s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/login", map[string]string{
		"username": username,
		"password": "Secret1!",
	}))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var sess session
	require.NoError(t, json.Unmarshal(body.Data, &sess))
	return sess
}

func cookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	// register
	res, body := s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", form{
		fields: map[string]string{
			"username": "alice",
			"email":    "a@x.com",
			"fullname": "Alice A",
			"password": "Secret1!",
		},
		files: map[string]string{"avatar": "alice.png", "coverImage": "cover.jpg"},
	}))
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.True(t, body.Success)
	assert.NotContains(t, strings.ToLower(string(body.Data)), "pass")
	assert.NotContains(t, strings.ToLower(string(body.Data)), "refresh")

	var registered models.PublicAccount
	require.NoError(t, json.Unmarshal(body.Data, &registered))
	assert.Equal(t, "alice", registered.Username)
	assert.True(t, strings.HasSuffix(registered.CoverImage, ".jpg"))
	s.assertStagingEmpty(t)

	// login
	res, body = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/login", map[string]string{
		"username": "alice",
		"password": "Secret1!",
	}))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var sess session
	require.NoError(t, json.Unmarshal(body.Data, &sess))
	assert.Equal(t, registered.ID, sess.User.ID)

	accessCookie := cookie(res, "accessToken")
	refreshCookie := cookie(res, "refreshToken")
	require.NotNil(t, accessCookie)
	require.NotNil(t, refreshCookie)
	assert.Equal(t, sess.AccessToken, accessCookie.Value)
	assert.Equal(t, sess.RefreshToken, refreshCookie.Value)
	assert.True(t, accessCookie.HttpOnly)
	assert.True(t, accessCookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, accessCookie.SameSite)

	// the guard accepts the cookie and the bearer header
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil)
	req.AddCookie(accessCookie)
	res, body = s.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = s.do(t, bearer(httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil), sess.AccessToken))
	require.Equal(t, http.StatusOK, res.StatusCode)

	// refresh via cookie
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	req.AddCookie(refreshCookie)
	res, body = s.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var rotated models.TokenPair
	require.NoError(t, json.Unmarshal(body.Data, &rotated))
	assert.NotEqual(t, sess.RefreshToken, rotated.RefreshToken)
	require.NotNil(t, cookie(res, "refreshToken"))
	assert.Equal(t, rotated.RefreshToken, cookie(res, "refreshToken").Value)

	// the superseded token is rejected, here via the JSON body
	res, body = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token", map[string]string{
		"refreshToken": sess.RefreshToken,
	}))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, "refresh token is expired or used", body.Message)

	// logout clears cookies and revokes the current refresh token
	res, body = s.do(t, bearer(httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil), rotated.AccessToken))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotNil(t, cookie(res, "accessToken"))
	assert.Empty(t, cookie(res, "accessToken").Value)
	assert.Negative(t, cookie(res, "refreshToken").MaxAge)

	res, _ = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token", map[string]string{
		"refreshToken": rotated.RefreshToken,
	}))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.AuthOperations.WithLabelValues("refresh", observability.OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.AuthOperations.WithLabelValues("refresh", observability.OutcomeRejected)))
}

func TestRegister_Rejected(t *testing.T) {
	s := newTestServer(t)

	missingAvatar := registerForm("bob", "bob@example.com")
	missingAvatar.files = map[string]string{"coverImage": "cover.png"}

	res, body := s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", missingAvatar))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "avatar is required", body.Message)
	s.assertStagingEmpty(t)

	res, _ = s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", registerForm("bob", "bob@example.com")))
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, body = s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", registerForm("robert", "BOB@example.com")))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "username or email already exists", body.Message)
	s.assertStagingEmpty(t)

	res, _ = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/register", map[string]string{"username": "x"}))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	longPassword := registerForm("carol", "carol@example.com")
	longPassword.fields["password"] = strings.Repeat("p", 80)
	res, body = s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", longPassword))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "password is too long", body.Message)

	res, body = s.do(t, multipartRequest(t, http.MethodPost, "/api/v1/users/register", registerForm("bob@example.com", "dave@example.com")))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "username cannot contain @", body.Message)
	s.assertStagingEmpty(t)
}

func TestRegister_UploadTooLarge(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar", "huge.png")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0xff}, 128<<10))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, body := s.do(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.False(t, body.Success)
}

func TestLogin_Rejected(t *testing.T) {
	s := newTestServer(t)
	sess := s.registerAndLogin(t)

	res, body := s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/login", map[string]string{
		"email":    sess.User.Email,
		"password": "wrong",
	}))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	wrongPassword := body.Message

	res, body = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/login", map[string]string{
		"identifier": "ghost",
		"password":   "Secret1!",
	}))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, wrongPassword, body.Message)

	res, _ = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/login", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader("{"))
	res, _ = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGuard(t *testing.T) {
	s := newTestServer(t)
	sess := s.registerAndLogin(t)

	res, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized request", body.Message)

	res, _ = s.do(t, bearer(httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil), "garbage"))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// a refresh token is not an access token
	res, _ = s.do(t, bearer(httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil), sess.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	sess := s.registerAndLogin(t)

	req := bearer(jsonRequest(t, http.MethodPost, "/api/v1/users/change-password", map[string]string{
		"oldPassword": "nope",
		"newPassword": "NewSecret2!",
	}), sess.AccessToken)
	res, body := s.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid old password", body.Message)

	req = bearer(jsonRequest(t, http.MethodPost, "/api/v1/users/change-password", map[string]string{
		"oldPassword": "Secret1!",
		"newPassword": strings.Repeat("p", 80),
	}), sess.AccessToken)
	res, body = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "password is too long", body.Message)

	req = bearer(jsonRequest(t, http.MethodPost, "/api/v1/users/change-password", map[string]string{
		"oldPassword": "Secret1!",
		"newPassword": "NewSecret2!",
	}), sess.AccessToken)
	res, _ = s.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = s.do(t, jsonRequest(t, http.MethodPost, "/api/v1/users/login", map[string]string{
		"username": sess.User.Username,
		"password": "NewSecret2!",
	}))
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	sess := s.registerAndLogin(t)
	other := s.registerAndLogin(t)

	req := bearer(jsonRequest(t, http.MethodPatch, "/api/v1/users/update-details", map[string]string{
		"fullname": "Renamed",
		"email":    "Renamed@Example.com",
	}), sess.AccessToken)
	res, body := s.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var updated models.PublicAccount
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.Equal(t, "Renamed", updated.FullName)
	assert.Equal(t, "renamed@example.com", updated.Email)

	req = bearer(jsonRequest(t, http.MethodPatch, "/api/v1/users/update-details", map[string]string{
		"fullname": "Renamed",
		"email":    other.User.Email,
	}), sess.AccessToken)
	res, _ = s.do(t, req)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	req = bearer(multipartRequest(t, http.MethodPatch, "/api/v1/users/update-avatar", form{
		files: map[string]string{"avatar": "new.webp"},
	}), sess.AccessToken)
	res, body = s.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.True(t, strings.HasSuffix(updated.Avatar, ".webp"))

	req = bearer(multipartRequest(t, http.MethodPatch, "/api/v1/users/update-cover-image", form{}), sess.AccessToken)
	res, body = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "cover image is required", body.Message)

	s.assertStagingEmpty(t)
}
