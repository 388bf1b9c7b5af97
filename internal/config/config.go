package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type DatabaseConfig struct {
	Driver   string `env:"DRIVER" envDefault:"mysql"`
	DSN      string `env:"DSN"`
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT"`
	User     string `env:"USER" envDefault:"translatemenu"`
	Password string `env:"PASSWORD" envDefault:"translatemenu"`
	Name     string `env:"NAME" envDefault:"translatemenu"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	// SQLitePath is used when Driver is sqlite.
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"translatemenu.db"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	ConnLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// MySQLConfig is the subset used to build a MySQL DSN.
type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (d DatabaseConfig) MySQL() MySQLConfig {
	return MySQLConfig{Host: d.Host, Port: d.Port, User: d.User, Password: d.Password, DBName: d.Name}
}

type RedisConfig struct {
	// Addr empty disables the preferences cache.
	Addr           string        `env:"ADDR"`
	Password       string        `env:"PASSWORD"`
	DB             int           `env:"DB" envDefault:"0"`
	PreferencesTTL time.Duration `env:"PREFERENCES_TTL" envDefault:"10m"`
}

type BlobConfig struct {
	Backend  string `env:"BACKEND" envDefault:"fs"`
	Bucket   string `env:"BUCKET" envDefault:"generations"`
	FSRoot   string `env:"FS_ROOT" envDefault:"./data/generations"`
	MaxBytes int64  `env:"MAX_BYTES" envDefault:"16777216"`

	BunnyEndpoint  string `env:"BUNNY_STORAGE_ENDPOINT" envDefault:"https://storage.bunnycdn.com"`
	BunnyZone      string `env:"BUNNY_STORAGE_ZONE"`
	BunnyAccessKey string `env:"BUNNY_STORAGE_ACCESS_KEY"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

type OpenAIConfig struct {
	APIKey    string        `env:"API_KEY"`
	BaseURL   string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model     string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"50s"`
	MaxTokens int           `env:"MAX_TOKENS" envDefault:"8000"`
}

type ReplicateConfig struct {
	APIToken string        `env:"API_TOKEN"`
	BaseURL  string        `env:"BASE_URL" envDefault:"https://api.replicate.com/v1"`
	Model    string        `env:"MODEL" envDefault:"black-forest-labs/flux-schnell"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"15s"`
	// WebhookSecret enables signature checks on image callbacks.
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type CallbackConfig struct {
	OutputExpression string        `env:"OUTPUT_EXPRESSION" envDefault:"output[0] || output"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	MaxImageBytes    int64         `env:"MAX_IMAGE_BYTES" envDefault:"16777216"`
}

type AuthConfig struct {
	OIDCIssuer   string `env:"OIDC_ISSUER"`
	OIDCClientID string `env:"OIDC_CLIENT_ID"`
	// DevTokens maps static bearer tokens to subjects, e.g. "devtoken:user_1".
	DevTokens         map[string]string `env:"DEV_TOKENS"`
	SessionCookieName string            `env:"SESSION_COOKIE" envDefault:"__session"`
}

type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	PaymentLinkID string `env:"PAYMENT_LINK_ID"`
}

type IdentityConfig struct {
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type Config struct {
	Addr             string        `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL    string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	CORSAllowOrigins string        `env:"CORS_ALLOW_ORIGINS"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	AnalyzeTimeout   time.Duration `env:"ANALYZE_TIMEOUT" envDefault:"60s"`
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"33554432"`
	MaxImages        int           `env:"MAX_IMAGES" envDefault:"10"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Database  DatabaseConfig  `envPrefix:"DB_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Blob      BlobConfig      `envPrefix:"BLOB_"`
	OpenAI    OpenAIConfig    `envPrefix:"OPENAI_"`
	Replicate ReplicateConfig `envPrefix:"REPLICATE_"`
	Callback  CallbackConfig  `envPrefix:"CALLBACK_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Stripe    StripeConfig    `envPrefix:"STRIPE_"`
	Identity  IdentityConfig  `envPrefix:"IDENTITY_"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize trims values and resets out-of-range numbers to their defaults.
func (c *Config) Sanitize() {
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	c.Replicate.APIToken = strings.TrimSpace(c.Replicate.APIToken)

	c.MaxImages = clampInt(c.MaxImages, 10, 1, 50)
	c.Database.MaxOpenConns = clampInt(c.Database.MaxOpenConns, 25, 1, 500)
	c.AnalyzeTimeout = clampDuration(c.AnalyzeTimeout, 60*time.Second, 5*time.Second, 10*time.Minute)
	c.OpenAI.Timeout = clampDuration(c.OpenAI.Timeout, 50*time.Second, 5*time.Second, 10*time.Minute)
	c.Replicate.Timeout = clampDuration(c.Replicate.Timeout, 15*time.Second, time.Second, 2*time.Minute)
	c.Callback.FetchTimeout = clampDuration(c.Callback.FetchTimeout, 30*time.Second, time.Second, 5*time.Minute)
	if c.MaxUploadBytes < 1<<20 || c.MaxUploadBytes > 256<<20 {
		c.MaxUploadBytes = 32 << 20
	}
	if c.Callback.MaxImageBytes < 64<<10 || c.Callback.MaxImageBytes > 64<<20 {
		c.Callback.MaxImageBytes = 16 << 20
	}
	if c.Database.Port == "" {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = "5432"
		default:
			c.Database.Port = "3306"
		}
	}
}

// Validate checks backend-specific requirements.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: want mysql, postgres or sqlite", c.Database.Driver))
	}
	switch c.Blob.Backend {
	case "fs", "memory":
	case "bunny":
		if c.Blob.BunnyZone == "" || c.Blob.BunnyAccessKey == "" {
			errs = append(errs, errors.New("BLOB_BUNNY_STORAGE_ZONE and BLOB_BUNNY_STORAGE_ACCESS_KEY are required for the bunny backend"))
		}
	case "minio":
		if c.Blob.MinioEndpoint == "" {
			errs = append(errs, errors.New("BLOB_MINIO_ENDPOINT is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("BLOB_BACKEND %q: want fs, memory, bunny or minio", c.Blob.Backend))
	}
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q must be an absolute http(s) URL", c.PublicBaseURL))
	}
	if c.Auth.OIDCIssuer == "" && len(c.Auth.DevTokens) == 0 {
		errs = append(errs, errors.New("either AUTH_OIDC_ISSUER or AUTH_DEV_TOKENS must be set"))
	}
	return errors.Join(errs...)
}

func clampInt(v, fallback, lo, hi int) int {
	if v < lo || v > hi {
		return fallback
	}
	return v
}

func clampDuration(v, fallback, lo, hi time.Duration) time.Duration {
	if v < lo || v > hi {
		return fallback
	}
	return v
}
