package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported values for the enumerated settings.
const (
	TokenFormatJWT    = "jwt"
	TokenFormatPaseto = "paseto"

	RefreshStoreRedis    = "redis"
	RefreshStorePostgres = "postgres"

	ReusePolicyRevokeFamily = "revoke_family"
	ReusePolicyReject       = "reject"

	DriverPQ  = "postgres"
	DriverPgx = "pgx"
)

// minSecretLength is the shortest HS256 secret accepted at startup.
const minSecretLength = 32

var ErrMissingSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Password  PasswordConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string
}

type DatabaseConfig struct {
	Driver         string // postgres (lib/pq) or pgx
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ChannelBinding string
	MaxOpenConns   int
	MaxIdleConns   int
	AutoMigrate    bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	// JWTSecret signs HS256 access tokens. Loaded once, never mutated.
	JWTSecret []byte
	Issuer    string
	// TokenFormat selects the access token codec: jwt (default) or paseto.
	TokenFormat string
	// PasetoKey must be exactly 32 bytes when TokenFormat is paseto.
	PasetoKey []byte

	AccessTokenDuration   time.Duration
	RefreshTokenDuration  time.Duration
	PasswordResetDuration time.Duration

	// TokenRetention keeps dead token records around after expiry so that
	// replays are still recognised as expired or reused.
	TokenRetention time.Duration
	SweepInterval  time.Duration

	RefreshTokenStore  string
	RefreshReusePolicy string
}

type PasswordConfig struct {
	MinLength   int
	Concurrency int
	Time        uint32
	MemoryKB    uint32
	Threads     uint8
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	FrontendURL  string
}

type RateLimitConfig struct {
	Enabled       bool
	IPLimit       int
	IPWindow      time.Duration
	EmailCooldown time.Duration
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	appURL := getEnv("APP_URL", "http://localhost:8080")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("APP_ENV", "dev"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:         getEnv("DB_DRIVER", DriverPQ),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "family_dining"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ChannelBinding: getEnv("DB_CHANNEL_BINDING", ""),
			MaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:    getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:             []byte(getEnv("JWT_SECRET", "")),
			Issuer:                getEnv("JWT_ISSUER", appURL),
			TokenFormat:           strings.ToLower(getEnv("ACCESS_TOKEN_FORMAT", TokenFormatJWT)),
			PasetoKey:             []byte(getEnv("PASETO_KEY", "")),
			AccessTokenDuration:   getDurationEnv("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration:  getDurationEnv("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			PasswordResetDuration: getDurationEnv("PASSWORD_RESET_DURATION", time.Hour),
			TokenRetention:        getDurationEnv("TOKEN_RETENTION", 24*time.Hour),
			SweepInterval:         getDurationEnv("TOKEN_SWEEP_INTERVAL", time.Hour),
			RefreshTokenStore:     strings.ToLower(getEnv("REFRESH_TOKEN_STORE", RefreshStoreRedis)),
			RefreshReusePolicy:    strings.ToLower(getEnv("REFRESH_REUSE_POLICY", ReusePolicyRevokeFamily)),
		},
		Password: PasswordConfig{
			MinLength:   getIntEnv("PASSWORD_MIN_LENGTH", 6),
			Concurrency: getIntEnv("PASSWORD_HASH_CONCURRENCY", runtime.NumCPU()),
			Time:        uint32(getIntEnv("ARGON2_TIME", 3)),
			MemoryKB:    uint32(getIntEnv("ARGON2_MEMORY_KB", 64*1024)),
			Threads:     uint8(getIntEnv("ARGON2_THREADS", 4)),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASS", ""),
			FromAddress:  getEnv("SMTP_FROM", getEnv("SMTP_USER", "")),
			FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBoolEnv("RATE_LIMIT_ENABLED", true),
			IPLimit:       getIntEnv("RATE_LIMIT_IP_LIMIT", 10),
			IPWindow:      getDurationEnv("RATE_LIMIT_IP_WINDOW", 15*time.Minute),
			EmailCooldown: getDurationEnv("RATE_LIMIT_EMAIL_COOLDOWN", 2*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) == 0 {
		return ErrMissingSecret
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes, got %d", minSecretLength, len(c.Auth.JWTSecret))
	}

	switch c.Auth.TokenFormat {
	case TokenFormatJWT:
	case TokenFormatPaseto:
		if len(c.Auth.PasetoKey) != 32 {
			return fmt.Errorf("PASETO_KEY must be exactly 32 bytes, got %d", len(c.Auth.PasetoKey))
		}
	default:
		return fmt.Errorf("unsupported ACCESS_TOKEN_FORMAT %q", c.Auth.TokenFormat)
	}

	switch c.Auth.RefreshTokenStore {
	case RefreshStoreRedis, RefreshStorePostgres:
	default:
		return fmt.Errorf("unsupported REFRESH_TOKEN_STORE %q", c.Auth.RefreshTokenStore)
	}

	switch c.Auth.RefreshReusePolicy {
	case ReusePolicyRevokeFamily, ReusePolicyReject:
	default:
		return fmt.Errorf("unsupported REFRESH_REUSE_POLICY %q", c.Auth.RefreshReusePolicy)
	}

	switch c.Database.Driver {
	case DriverPQ, DriverPgx:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.Auth.AccessTokenDuration <= 0 || c.Auth.RefreshTokenDuration <= 0 || c.Auth.PasswordResetDuration <= 0 {
		return errors.New("token durations must be positive")
	}
	if c.Auth.AccessTokenDuration >= c.Auth.RefreshTokenDuration {
		return errors.New("ACCESS_TOKEN_DURATION must be shorter than REFRESH_TOKEN_DURATION")
	}
	if c.Password.MinLength < 1 {
		return errors.New("PASSWORD_MIN_LENGTH must be positive")
	}
	if c.Password.Concurrency < 1 {
		c.Password.Concurrency = 1
	}

	return nil
}

// ConnectionString builds a libpq-style DSN; both lib/pq and pgx accept it.
func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}
	return connStr
}

// Address returns the Redis address (host:port).
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDurationEnv reads a whole number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
