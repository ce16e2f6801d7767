package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	grpcapp "accounts/internal/app/grpc"
	httpapp "accounts/internal/app/http"
	"accounts/internal/config"
	"accounts/internal/domain/models"
	"accounts/internal/http/users"
	"accounts/internal/lib/jwt"
	"accounts/internal/lib/password"
	"accounts/internal/lib/ratelimit"
	"accounts/internal/lib/sl"
	"accounts/internal/media/s3"
	"accounts/internal/observability"
	"accounts/internal/services/auth"
	"accounts/internal/storage/memory"
	"accounts/internal/storage/mongodb"
	"accounts/internal/storage/sqlite"

	"github.com/redis/go-redis/v9"
)

type App struct {
	HTTPSrv *httpapp.App
	GRPCSrv *grpcapp.App

	logger  *slog.Logger
	closers []func(ctx context.Context) error
}

type accountStore interface {
	SaveAccount(ctx context.Context, acc models.Account) (*models.Account, error)
	Account(ctx context.Context, lookup models.Lookup) (*models.Account, error)
	AccountByID(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error)
	Ping(ctx context.Context) error
}

// New wires every dependency described by cfg. It panics when a required
// backend cannot be set up.
func New(logger *slog.Logger, cfg *config.Config) *App {
	a := &App{logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := a.newStorage(ctx, cfg.Storage)
	if err != nil {
		panic(err)
	}

	hasher, err := password.New(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		panic(err)
	}

	issuer, err := jwt.New(jwt.Config{
		AccessSecret:  cfg.Tokens.AccessSecret,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		Issuer:        cfg.Tokens.Issuer,
	})
	if err != nil {
		panic(err)
	}

	uploader, err := s3.New(ctx, s3.Config{
		Endpoint:  cfg.Media.S3.Endpoint,
		Region:    cfg.Media.S3.Region,
		Bucket:    cfg.Media.S3.Bucket,
		AccessKey: cfg.Media.S3.AccessKey,
		SecretKey: cfg.Media.S3.SecretKey,
		PublicURL: cfg.Media.S3.PublicURL,
		KeyPrefix: cfg.Media.S3.KeyPrefix,
	})
	if err != nil {
		panic(err)
	}

	var limiter auth.LoginLimiter
	if cfg.Redis.Addr != "" {
		limiter = a.newLimiter(ctx, cfg.Redis)
	} else {
		logger.Warn("redis address is empty, login throttling is disabled")
	}

	metrics := observability.New()
	authService := auth.New(logger, store, store, store, hasher, issuer, uploader, limiter)

	a.HTTPSrv = httpapp.New(logger, authService, store, metrics, httpapp.Config{
		Port:          cfg.HTTP.Port,
		Timeout:       cfg.HTTP.Timeout,
		IdleTimeout:   cfg.HTTP.IdleTimeout,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		HealthTimeout: cfg.Storage.Timeout,
		Users: users.Options{
			Cookies: users.CookieConfig{
				Secure:   cfg.Cookies.Secure,
				SameSite: users.ParseSameSite(cfg.Cookies.SameSite),
				Domain:   cfg.Cookies.Domain,
			},
			StagingDir:     cfg.Media.StagingDir,
			MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
			Metrics:        metrics,
		},
	})
	a.GRPCSrv = grpcapp.New(logger, cfg.GRPC.Port)

	return a
}

func (a *App) newStorage(ctx context.Context, cfg config.StorageConfig) (accountStore, error) {
	const op = "app.newStorage"

	switch cfg.Type {
	case config.StorageMongo:
		store, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil

	case config.StorageSQLite:
		if err := sqlite.Migrate(cfg.Path); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil

	case config.StorageMemory:
		a.logger.Warn("using in-memory storage, accounts are lost on restart")
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%s: unknown storage type %q", op, cfg.Type)
}

// newLimiter connects to Redis. An unreachable server only disables
// throttling checks at request time, so startup goes on with a warning.
func (a *App) newLimiter(ctx context.Context, cfg config.RedisConfig) *ratelimit.Limiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	limiter := ratelimit.New(client, ratelimit.Config{
		MaxAttempts: cfg.MaxLoginAttempts,
		Cooldown:    cfg.LoginCooldown,
	})

	if err := limiter.Ping(ctx); err != nil {
		a.logger.Warn("redis is unreachable, login throttling fails open", sl.Err(err))
	}

	return limiter
}

// Stop shuts the servers down and releases storage and cache connections.
func (a *App) Stop(ctx context.Context) {
	a.GRPCSrv.SetServing(false)
	a.HTTPSrv.Stop(ctx)
	a.GRPCSrv.Stop()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Error("failed to release resource", sl.Err(err))
		}
	}
}
