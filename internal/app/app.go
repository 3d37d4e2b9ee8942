package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/simphiwe-mabaso/family-dining/internal/auth"
	"github.com/simphiwe-mabaso/family-dining/internal/config"
	"github.com/simphiwe-mabaso/family-dining/internal/database"
	"github.com/simphiwe-mabaso/family-dining/internal/email"
	httpServer "github.com/simphiwe-mabaso/family-dining/internal/http"
	"github.com/simphiwe-mabaso/family-dining/internal/logging"
	"github.com/simphiwe-mabaso/family-dining/internal/password"
	"github.com/simphiwe-mabaso/family-dining/internal/ratelimit"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// App holds every long-lived dependency of the API and the admin CLI.
type App struct {
	Config *config.Config
	Logger *logging.Logger

	DB    *bun.DB
	Redis *redis.Client

	Users    *user.Repository
	Activity *user.ActivityRepository
	Hasher   *password.Hasher
	Codec    auth.TokenService
	Issuer   *auth.TokenIssuer
	Tokens   auth.RefreshTokenRepository
	Resets   *auth.PasswordResetTokenManager
	Sessions *auth.SessionManager
	Limiter  *ratelimit.Limiter
	Sweeper  *auth.Sweeper
}

// New connects to Postgres and Redis and builds the component graph.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient, err := database.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	a, err := Build(ctx, cfg, logger, db, redisClient)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, err
	}
	return a, nil
}

// Build assembles the components on top of existing connections.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *bun.DB, redisClient *redis.Client) (*App, error) {
	codec, err := NewTokenService(cfg.Auth)
	if err != nil {
		return nil, err
	}

	policy := auth.ReusePolicy(cfg.Auth.RefreshReusePolicy)

	var tokens auth.RefreshTokenRepository
	switch cfg.Auth.RefreshTokenStore {
	case config.RefreshStorePostgres:
		tokens = auth.NewRepository(db, policy, cfg.Auth.TokenRetention)
	default:
		tokens = auth.NewRedisRepository(redisClient, policy, cfg.Auth.TokenRetention)
	}

	users := user.NewRepository(db)
	activity := user.NewActivityRepository(db)
	hasher := password.NewHasher(password.Params{
		Time:     cfg.Password.Time,
		MemoryKB: cfg.Password.MemoryKB,
		Threads:  cfg.Password.Threads,
	}, cfg.Password.Concurrency)

	credentials, err := auth.NewCredentialValidator(ctx, users, hasher)
	if err != nil {
		return nil, err
	}

	issuer := auth.NewTokenIssuer(codec, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration)
	resets := auth.NewPasswordResetTokenManager(
		auth.NewPasswordResetRepository(db, cfg.Auth.TokenRetention),
		users,
		tokens,
		cfg.Auth.PasswordResetDuration,
	)
	notifier := email.NewService(cfg.Email, cfg.Auth.PasswordResetDuration, logger)

	sessions := auth.NewSessionManager(
		users,
		activity,
		hasher,
		credentials,
		issuer,
		tokens,
		resets,
		notifier,
		logger,
		cfg.Password.MinLength,
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    redisClient,
		Users:    users,
		Activity: activity,
		Hasher:   hasher,
		Codec:    codec,
		Issuer:   issuer,
		Tokens:   tokens,
		Resets:   resets,
		Sessions: sessions,
		Limiter:  ratelimit.NewLimiter(redisClient, cfg.RateLimit),
		Sweeper:  auth.NewSweeper(tokens, resets, cfg.Auth.SweepInterval, logger),
	}, nil
}

// NewTokenService picks the access token codec from configuration.
func NewTokenService(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.TokenFormat {
	case config.TokenFormatPaseto:
		svc, err := auth.NewPasetoService(cfg.PasetoKey, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PASETO service: %w", err)
		}
		return svc, nil
	default:
		svc, err := auth.NewJWTService(cfg.JWTSecret, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		return svc, nil
	}
}

// Router builds the HTTP handler tree.
func (a *App) Router() http.Handler {
	handler := auth.NewHandler(
		a.Sessions,
		a.Limiter,
		!a.Config.Server.IsDevelopment(),
		a.Config.Auth.AccessTokenDuration,
		a.Config.Auth.RefreshTokenDuration,
	)
	return httpServer.NewRouter(a.Config, handler, auth.NewMiddleware(a.Codec), a.Logger)
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, a.DB)
}

// Close waits for background mail and closes both connections.
func (a *App) Close() error {
	a.Sessions.Wait()
	return errors.Join(a.Redis.Close(), a.DB.Close())
}
