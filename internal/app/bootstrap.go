package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"atlas-auth/internal/account"
	"atlas-auth/internal/auth"
	"atlas-auth/internal/config"
	"atlas-auth/internal/db"
	"atlas-auth/internal/maintenance"
	"atlas-auth/internal/oauth"
	"atlas-auth/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Close   func() error
}

// Build wires the full service. Everything mutable is constructed here once;
// request handling shares only the database pool, the Redis client and the
// read-only signing keys.
func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
	}

	signer, err := auth.NewSigner(cfg.SigningKeys(), cfg.AccessTokenTTL)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	accountRepo := account.NewRepository(database)
	authRepo := auth.NewRepository(database)

	authService := auth.NewService(accountRepo, authRepo, authRepo, signer, logger)
	authService.WithSecurityConfig(cfg.LoginMaxAttempts, cfg.LoginLockDuration, cfg.RefreshTokenTTL)
	if redisClient != nil {
		// Horizon entries live exactly as long as the tokens they gate.
		authService.WithRevocations(auth.NewRedisRevocations(redisClient, signer.AccessTTL()))
	}

	authHandler := auth.NewHandler(authService)
	accountHandler := account.NewHandler(accountRepo, authService)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		cfg.CronSecret,
		cfg.RefreshRetention,
		cfg.LoginAttemptRetention,
		cfg.CleanupBatchSize,
	)

	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitSpan)

	providers := oauth.NewRegistry(cfg)
	var oauthHandler *oauth.Handler
	if !providers.Empty() {
		if redisClient == nil {
			_ = database.Close()
			return nil, fmt.Errorf("oauth providers configured but REDIS_URL is missing")
		}
		oauthHandler = oauth.NewHandler(providers, oauth.NewRedisStateStore(redisClient), authService, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /signup", loginLimiter.Middleware(http.HandlerFunc(accountHandler.Signup)))
	mux.Handle("POST /login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /token/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.Handle("GET /users/me", auth.Middleware(authService, http.HandlerFunc(accountHandler.Me)))
	mux.Handle("PUT /users/me", auth.Middleware(authService, http.HandlerFunc(accountHandler.UpdateMe)))
	mux.Handle("DELETE /users/me", auth.Middleware(authService, http.HandlerFunc(accountHandler.DeleteMe)))
	if oauthHandler != nil {
		mux.HandleFunc("GET /oauth/{provider}", oauthHandler.Redirect)
		mux.HandleFunc("GET /oauth/{provider}/callback", oauthHandler.Callback)
	}
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			observability.RequestTimeoutMiddleware(cfg.RequestTimeout, mux)))

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
