// Package config loads runtime configuration from the environment and the
// optional services file.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/cloudless/internal/errors"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// File store drivers.
const (
	FilesMemory = "memory"
	FilesS3     = "s3"
)

// Export file formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// Config is the process configuration.
type Config struct {
	HTTP      HTTPConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Async     AsyncConfig
	Files     FileStoreConfig
	Audit     AuditConfig
	Log       LogConfig

	// AllowDraft lets draft methods of every service execute.
	AllowDraft   bool   `env:"ALLOW_DRAFT_METHODS,default=false"`
	ServicesFile string `env:"SERVICES_CONFIG,default=config/services.yaml"`
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=15s"`
	CORSOrigins     string        `env:"CORS_ALLOWED_ORIGINS"`
}

// Origins returns CORSOrigins as a list.
func (h HTTPConfig) Origins() []string {
	return splitList(h.CORSOrigins)
}

type StorageConfig struct {
	Driver          string        `env:"STORAGE_DRIVER,default=memory"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=5m"`
}

// RedisConfig enables the Redis cache and unique-key lock when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	Prefix   string        `env:"REDIS_PREFIX,default=cloudless:"`
	CacheTTL time.Duration `env:"CACHE_TTL,default=1h"`
	LockTTL  time.Duration `env:"LOCK_TTL,default=10s"`
}

type AuthConfig struct {
	SessionSecret string `env:"JWT_SECRET"`
	ServiceSecret string `env:"SERVICE_TOKEN_SECRET"`
	// AllowedServices is a comma separated list of service ids accepted
	// from service tokens. Empty rejects every service token.
	AllowedServices string `env:"ALLOWED_SERVICES"`
}

// Services returns AllowedServices as a list.
func (a AuthConfig) Services() []string {
	return splitList(a.AllowedServices)
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=40"`
}

type AsyncConfig struct {
	Workers int `env:"ASYNC_WORKERS,default=4"`
}

type FileStoreConfig struct {
	Driver    string `env:"FILE_STORE,default=memory"`
	Format    string `env:"FILE_FORMAT,default=xlsx"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Bucket    string `env:"S3_BUCKET"`
	Prefix    string `env:"S3_PREFIX,default=exports"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Secure    bool   `env:"S3_SECURE,default=false"`
}

// AuditConfig sizes the in-memory invocation log. File, when set, also
// receives every entry as a JSON line.
type AuditConfig struct {
	Size int    `env:"AUDIT_BUFFER_SIZE,default=200"`
	File string `env:"AUDIT_LOG_FILE"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// Load reads the optional dotenv files, decodes the environment and
// validates the result. Variables already set take precedence over the
// files.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Configurationf("load %s: %v", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.Configurationf("decode environment: %v", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Files.Driver = strings.ToLower(strings.TrimSpace(c.Files.Driver))
	c.Files.Format = strings.ToLower(strings.TrimSpace(c.Files.Format))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			result = multierror.Append(result, fmt.Errorf("DATABASE_URL is required for the postgres driver"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	switch c.Files.Driver {
	case FilesMemory:
	case FilesS3:
		if c.Files.Endpoint == "" || c.Files.Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required for the s3 file store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown FILE_STORE %q", c.Files.Driver))
	}
	if c.Files.Format != FormatXLSX && c.Files.Format != FormatCSV {
		result = multierror.Append(result, fmt.Errorf("FILE_FORMAT must be xlsx or csv, got %q", c.Files.Format))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		result = multierror.Append(result, fmt.Errorf("rate limit values must not be negative"))
	}
	if c.Async.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("ASYNC_WORKERS must be at least 1"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Configuration(err.Error())
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
