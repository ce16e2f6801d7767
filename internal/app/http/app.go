package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mwLogger "accounts/internal/http/middleware/logger"
	"accounts/internal/http/users"
	"accounts/internal/lib/sl"
	"accounts/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Port          int
	Timeout       time.Duration
	IdleTimeout   time.Duration
	CORSOrigins   []string
	HealthTimeout time.Duration
	Users         users.Options
}

type App struct {
	logger *slog.Logger
	server *http.Server
	port   int
}

func New(
	logger *slog.Logger,
	authService users.Auth,
	store Pinger,
	metrics *observability.Metrics,
	cfg Config,
) *App {
	router := NewRouter(logger, authService, store, metrics, cfg)

	return &App{
		logger: logger,
		port:   cfg.Port,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      cfg.Timeout + 5*time.Second,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// NewRouter builds the full route tree: health and metrics at the root and
// the account routes under /api/v1/users.
func NewRouter(
	logger *slog.Logger,
	authService users.Auth,
	store Pinger,
	metrics *observability.Metrics,
	cfg Config,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mwLogger.New(logger, metrics))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.Timeout > 0 {
		r.Use(users.Timeout(cfg.Timeout))
	}

	r.Get("/healthz", healthz(logger, store, cfg.HealthTimeout))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	if cfg.Users.Metrics == nil {
		cfg.Users.Metrics = metrics
	}
	users.Register(r, logger, authService, cfg.Users)

	return r
}

func healthz(log *slog.Logger, store Pinger, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := store.Ping(ctx); err != nil {
			log.Warn("health check failed", sl.Err(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	log := a.logger.With(
		slog.String("op", op),
		slog.Int("port", a.port),
	)

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("HTTP server is running", slog.String("address", listener.Addr().String()))

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping HTTP server", slog.Int("port", a.port))

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("failed to stop HTTP server", sl.Err(err))
	}
}
