package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Keys      KeysConfig
	Payments  PaymentsConfig
	Processor ProcessorConfig
	Audit     AuditConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	// AccessTokenTTLMinutes of zero issues credentials without an embedded
	// expiry; revocation then relies on the user directory alone.
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// KeysConfig locates the process key material.
type KeysConfig struct {
	Dir            string
	DataKey        string
	SigningKeyPath string
}

// PaymentsConfig controls payment authorization policy.
type PaymentsConfig struct {
	RequireSignature           bool
	AuthorizationPublicKeyPath string
	AttemptTTLMinutes          int
	ClaimLeaseMinutes          int
}

// ProcessorConfig holds the external payment processor endpoints and secrets.
type ProcessorConfig struct {
	BaseURL        string
	APIToken       string
	TimeoutSeconds int
	WebhookSecret  string
}

// AuditConfig sizes the asynchronous audit pipeline.
type AuditConfig struct {
	BufferSize int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "backoffice"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 0),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Keys: KeysConfig{
			Dir:            getEnv("KEYS_DIR", "keys"),
			DataKey:        os.Getenv("KEYS_DATA_KEY"),
			SigningKeyPath: os.Getenv("KEYS_SIGNING_KEY_PATH"),
		},
		Payments: PaymentsConfig{
			RequireSignature:           getEnvAsBool("PAYMENTS_REQUIRE_SIGNATURE", true),
			AuthorizationPublicKeyPath: os.Getenv("PAYMENTS_AUTHORIZATION_PUBLIC_KEY_PATH"),
			AttemptTTLMinutes:          getEnvAsInt("PAYMENTS_ATTEMPT_TTL_MINUTES", 24*60),
			ClaimLeaseMinutes:          getEnvAsInt("PAYMENTS_CLAIM_LEASE_MINUTES", 15),
		},
		Processor: ProcessorConfig{
			BaseURL:        getEnv("FASTPAY_BASE_URL", "http://127.0.0.1:9000"),
			APIToken:       os.Getenv("FASTPAY_API_TOKEN"),
			TimeoutSeconds: getEnvAsInt("FASTPAY_TIMEOUT_SECONDS", 10),
			WebhookSecret:  os.Getenv("FASTPAY_WEBHOOK_SECRET"),
		},
		Audit: AuditConfig{
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 256),
		},
	}

	return cfg, nil
}

// Validate reports missing secrets that the service cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Processor.APIToken) == "" {
		missing = append(missing, "FASTPAY_API_TOKEN")
	}
	if strings.TrimSpace(c.Processor.WebhookSecret) == "" {
		missing = append(missing, "FASTPAY_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the processor client timeout.
func (p ProcessorConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AttemptTTL returns how long a payment attempt group keeps its idempotency key.
func (p PaymentsConfig) AttemptTTL() time.Duration {
	if p.AttemptTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(p.AttemptTTLMinutes) * time.Minute
}

// ClaimLease returns how long payouts stay claimed by a dispatch whose
// outcome is unknown.
func (p PaymentsConfig) ClaimLease() time.Duration {
	if p.ClaimLeaseMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(p.ClaimLeaseMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
