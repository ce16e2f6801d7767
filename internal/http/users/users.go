// Package users serves the account and session routes over HTTP.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"accounts/internal/domain/models"
	"accounts/internal/media"
	"accounts/internal/observability"
	"accounts/internal/services/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxUploadBytes = 10 << 20
	multipartMemory       = 1 << 20
)

type Auth interface {
	Authenticator
	Register(ctx context.Context, in auth.RegisterInput) (models.PublicAccount, error)
	Login(ctx context.Context, identifier, password string) (auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Logout(ctx context.Context, uid string) error
	ChangePassword(ctx context.Context, uid, oldPassword, newPassword string) error
	UpdateDetails(ctx context.Context, uid, fullName, email string) (models.PublicAccount, error)
	UpdateAvatar(ctx context.Context, uid string, file *media.Staged) (models.PublicAccount, error)
	UpdateCoverImage(ctx context.Context, uid string, file *media.Staged) (models.PublicAccount, error)
}

type Options struct {
	Cookies        CookieConfig
	StagingDir     string
	MaxUploadBytes int64
	Metrics        *observability.Metrics
}

type serverAPI struct {
	log     *slog.Logger
	auth    Auth
	opts    Options
	metrics *observability.Metrics
}

// Register mounts the account routes under /api/v1/users.
func Register(r chi.Router, log *slog.Logger, authService Auth, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &serverAPI{log: log, auth: authService, opts: opts, metrics: opts.Metrics}

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/refresh-token", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(Guard(log, authService))

			r.Post("/logout", s.logout)
			r.Post("/change-password", s.changePassword)
			r.Get("/current-user", s.currentUser)
			r.Patch("/update-details", s.updateDetails)
			r.Patch("/update-avatar", s.updateAvatar)
			r.Patch("/update-cover-image", s.updateCoverImage)
		})
	})
}

func (s *serverAPI) logger(r *http.Request, op string) *slog.Logger {
	return s.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (s *serverAPI) register(w http.ResponseWriter, r *http.Request) {
	const op = "http.users.register"
	log := s.logger(r, op)

	var staged []*media.Staged
	defer func() { media.Discard(log, staged...) }()

	if !s.parseMultipart(w, r, log) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	avatar, err := s.stage(r, "avatar")
	if err != nil {
		writeError(w, log, err)
		return
	}
	staged = append(staged, avatar)

	cover, err := s.stage(r, "coverImage")
	if err != nil {
		writeError(w, log, err)
		return
	}
	staged = append(staged, cover)

	acc, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Username:   r.FormValue("username"),
		Email:      r.FormValue("email"),
		FullName:   r.FormValue("fullname"),
		Password:   r.FormValue("password"),
		Avatar:     avatar,
		CoverImage: cover,
	})
	s.metrics.RecordAuth("register", outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	ok(w, http.StatusCreated, acc, "User registered successfully")
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type loginResponse struct {
	User models.PublicAccount `json:"user"`
	models.TokenPair
}

func (s *serverAPI) login(w http.ResponseWriter, r *http.Request) {
	const op = "http.users.login"
	log := s.logger(r, op)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" {
		identifier = req.Email
	}

	res, err := s.auth.Login(r.Context(), identifier, req.Password)
	s.metrics.RecordAuth("login", outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	s.opts.Cookies.setTokens(w, res.Tokens)
	ok(w, http.StatusOK, loginResponse{User: res.Account, TokenPair: res.Tokens}, "User logged in successfully")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *serverAPI) refresh(w http.ResponseWriter, r *http.Request) {
	const op = "http.users.refresh"
	log := s.logger(r, op)

	var token string
	if c, err := r.Cookie(refreshCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			fail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		token = req.RefreshToken
	}

	pair, err := s.auth.Refresh(r.Context(), token)
	s.metrics.RecordAuth("refresh", outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	s.opts.Cookies.setTokens(w, pair)
	ok(w, http.StatusOK, pair, "Access token refreshed")
}

func (s *serverAPI) logout(w http.ResponseWriter, r *http.Request) {
	const op = "http.users.logout"
	log := s.logger(r, op)

	acc, _ := AccountFromContext(r.Context())

	err := s.auth.Logout(r.Context(), acc.ID)
	s.metrics.RecordAuth("logout", outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	s.opts.Cookies.clearTokens(w)
	ok(w, http.StatusOK, struct{}{}, "User logged out")
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *serverAPI) changePassword(w http.ResponseWriter, r *http.Request) {
	const op = "http.users.changePassword"
	log := s.logger(r, op)

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acc, _ := AccountFromContext(r.Context())

	err := s.auth.ChangePassword(r.Context(), acc.ID, req.OldPassword, req.NewPassword)
	s.metrics.RecordAuth("change_password", outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	ok(w, http.StatusOK, struct{}{}, "Password changed successfully")
}

func (s *serverAPI) currentUser(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())
	ok(w, http.StatusOK, acc, "Current user fetched successfully")
}

type updateDetailsRequest struct {
	FullName string `json:"fullname"`
	Email    string `json:"email"`
}

func (s *serverAPI) updateDetails(w http.ResponseWriter, r *http.Request) {
	const op = "http.users.updateDetails"
	log := s.logger(r, op)

	var req updateDetailsRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acc, _ := AccountFromContext(r.Context())

	updated, err := s.auth.UpdateDetails(r.Context(), acc.ID, req.FullName, req.Email)
	s.metrics.RecordAuth("update_details", outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	ok(w, http.StatusOK, updated, "Account details updated successfully")
}

func (s *serverAPI) updateAvatar(w http.ResponseWriter, r *http.Request) {
	s.updateImage(w, r, "http.users.updateAvatar", "avatar", "update_avatar", s.auth.UpdateAvatar, "Avatar updated successfully")
}

func (s *serverAPI) updateCoverImage(w http.ResponseWriter, r *http.Request) {
	s.updateImage(w, r, "http.users.updateCoverImage", "coverImage", "update_cover_image", s.auth.UpdateCoverImage, "Cover image updated successfully")
}

func (s *serverAPI) updateImage(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	field string,
	metricOp string,
	update func(ctx context.Context, uid string, file *media.Staged) (models.PublicAccount, error),
	msg string,
) {
	log := s.logger(r, op)

	if !s.parseMultipart(w, r, log) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, err := s.stage(r, field)
	if err != nil {
		writeError(w, log, err)
		return
	}
	defer media.Discard(log, file)

	acc, _ := AccountFromContext(r.Context())

	updated, err := update(r.Context(), acc.ID, file)
	s.metrics.RecordAuth(metricOp, outcomeOf(err))
	if err != nil {
		writeError(w, log, err)
		return
	}

	ok(w, http.StatusOK, updated, msg)
}

// parseMultipart reads a size limited multipart body. On failure it writes
// the response itself and returns false.
func (s *serverAPI) parseMultipart(w http.ResponseWriter, r *http.Request, log *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		fail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return false
	}

	log.Debug("bad multipart body", slog.String("error", err.Error()))
	fail(w, http.StatusBadRequest, "invalid multipart form")
	return false
}

// stage copies the uploaded file in field to the staging directory. A missing
// field yields a nil file and no error.
func (s *serverAPI) stage(r *http.Request, field string) (*media.Staged, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer f.Close()

	staged, err := media.Stage(s.opts.StagingDir, f, header.Filename)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", field, err)
	}

	return staged, nil
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
