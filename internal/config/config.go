package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries every runtime knob of the service. All values come from the
// environment; Load optionally reads a .env file first.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// JWTKeys holds the set of valid signing keys as "kid:secret" pairs.
	// The first entry signs new tokens; the rest stay valid for verification
	// during a rotation window. JWTSecret is the single-key shorthand.
	JWTSecret string   `env:"JWT_SECRET"`
	JWTKeys   []string `env:"JWT_KEYS" envSeparator:","`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	LoginMaxAttempts   int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginLockDuration  time.Duration `env:"LOGIN_LOCK_DURATION" envDefault:"15m"`
	LoginRateLimitMax  int           `env:"LOGIN_RATE_LIMIT_MAX" envDefault:"10"`
	LoginRateLimitSpan time.Duration `env:"LOGIN_RATE_LIMIT_WINDOW" envDefault:"1m"`

	CronSecret            string        `env:"CRON_SECRET"`
	RefreshRetention      time.Duration `env:"REFRESH_TOKEN_RETENTION" envDefault:"336h"`
	LoginAttemptRetention time.Duration `env:"LOGIN_ATTEMPT_RETENTION" envDefault:"720h"`
	CleanupBatchSize      int           `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	GoogleClientID     string `env:"OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OAUTH_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"OAUTH_GITHUB_CLIENT_SECRET"`
	YandexClientID     string `env:"OAUTH_YANDEX_CLIENT_ID"`
	YandexClientSecret string `env:"OAUTH_YANDEX_CLIENT_SECRET"`
	VKClientID         string `env:"OAUTH_VK_CLIENT_ID"`
	VKClientSecret     string `env:"OAUTH_VK_CLIENT_SECRET"`
}

// Load parses the configuration from the environment. When loadDotEnv is set
// a local .env file is read first; a missing file is not an error.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("missing required env: DATABASE_URL")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" && len(cfg.SigningKeys()) == 0 {
		return Config{}, fmt.Errorf("missing required env: JWT_SECRET or JWT_KEYS")
	}

	return cfg, nil
}

// SigningKeys returns the configured key set as ordered (kid, secret) pairs.
// A bare JWT_SECRET is exposed under the "v1" kid.
func (c Config) SigningKeys() [][2]string {
	keys := make([][2]string, 0, len(c.JWTKeys)+1)
	for _, entry := range c.JWTKeys {
		kid, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || kid == "" || secret == "" {
			continue
		}
		keys = append(keys, [2]string{kid, secret})
	}
	if len(keys) == 0 && strings.TrimSpace(c.JWTSecret) != "" {
		keys = append(keys, [2]string{"v1", strings.TrimSpace(c.JWTSecret)})
	}
	return keys
}
