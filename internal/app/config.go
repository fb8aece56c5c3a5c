package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/usd-asset-library/backend/internal/data/db"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/envutil"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	ContentStoreGCS         = "gcs"
	ContentStoreGCSEmulator = "gcs_emulator"
	ContentStoreS3          = "s3"
	ContentStoreMemory      = "memory"
)

type PostgresSection struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (p PostgresSection) toDB() db.PostgresConfig {
	return db.PostgresConfig{
		Host:     p.Host,
		Port:     p.Port,
		User:     p.User,
		Password: p.Password,
		Name:     p.Name,
		SSLMode:  p.SSLMode,
	}
}

type OtelSection struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	Version     string  `yaml:"version"`
	Endpoint    string  `yaml:"endpoint"`
	Headers     string  `yaml:"headers"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func (o OtelSection) toObservability() observability.OtelConfig {
	return observability.OtelConfig{
		Enabled:     o.Enabled,
		ServiceName: o.ServiceName,
		Environment: o.Environment,
		Version:     o.Version,
		Endpoint:    o.Endpoint,
		Headers:     o.Headers,
		Insecure:    o.Insecure,
		SampleRatio: o.SampleRatio,
	}
}

type Config struct {
	Port    string `yaml:"port"`
	LogMode string `yaml:"log_mode"`

	DBDriver   string          `yaml:"db_driver"`
	Postgres   PostgresSection `yaml:"postgres"`
	SQLitePath string          `yaml:"sqlite_path"`

	ContentStore        string        `yaml:"content_store"`
	BucketName          string        `yaml:"bucket_name"`
	StorageEmulatorHost string        `yaml:"storage_emulator_host"`
	S3Region            string        `yaml:"s3_region"`
	S3Endpoint          string        `yaml:"s3_endpoint"`
	PresignTTL          time.Duration `yaml:"presign_ttl"`

	RedisAddr   string `yaml:"redis_addr"`
	LockChannel string `yaml:"lock_channel"`

	AllowedOrigins []string    `yaml:"cors_allowed_origins"`
	Otel           OtelSection `yaml:"otel"`
	MetricsEnabled bool        `yaml:"metrics_enabled"`
	MaxUploadBytes int64       `yaml:"max_upload_bytes"`
	AdminEnabled   bool        `yaml:"admin_enabled"`
}

// LoadConfig reads the environment and then overlays the YAML file named by
// CONFIG_FILE, if any. Keys present in the file win over the environment.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Port:    envutil.GetEnv("PORT", "8080", log),
		LogMode: envutil.GetEnv("LOG_MODE", "development", log),

		DBDriver: strings.ToLower(envutil.GetEnv("DB_DRIVER", DBDriverPostgres, log)),
		Postgres: PostgresSection{
			Host:     envutil.GetEnv("POSTGRES_HOST", "localhost", log),
			Port:     envutil.GetEnv("POSTGRES_PORT", "5432", log),
			User:     envutil.GetEnv("POSTGRES_USER", "postgres", log),
			Password: envutil.GetEnv("POSTGRES_PASSWORD", "", log),
			Name:     envutil.GetEnv("POSTGRES_NAME", "asset_library", log),
			SSLMode:  envutil.GetEnv("POSTGRES_SSLMODE", "disable", log),
		},
		SQLitePath: envutil.GetEnv("SQLITE_PATH", "asset_library.db", log),

		ContentStore:        strings.ToLower(envutil.GetEnv("CONTENT_STORE", ContentStoreGCS, log)),
		BucketName:          envutil.GetEnv("ASSET_BUCKET_NAME", "", log),
		StorageEmulatorHost: envutil.GetEnv("STORAGE_EMULATOR_HOST", "", log),
		S3Region:            envutil.GetEnv("S3_REGION", "us-east-1", log),
		S3Endpoint:          envutil.GetEnv("S3_ENDPOINT", "", log),
		PresignTTL:          envutil.GetEnvAsSeconds("PRESIGN_TTL_SECONDS", 15*time.Minute, log),

		RedisAddr:   envutil.GetEnv("REDIS_ADDR", "", log),
		LockChannel: envutil.GetEnv("REDIS_LOCK_CHANNEL", "", log),

		AllowedOrigins: envutil.GetEnvAsList("CORS_ALLOWED_ORIGINS", nil, log),
		Otel: OtelSection{
			Enabled:     envutil.GetEnvAsBool("OTEL_ENABLED", false, log),
			ServiceName: envutil.GetEnv("OTEL_SERVICE_NAME", "asset-library", log),
			Environment: envutil.GetEnv("OTEL_ENVIRONMENT", "development", log),
			Version:     envutil.GetEnv("OTEL_SERVICE_VERSION", "", log),
			Endpoint:    envutil.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "", log),
			Headers:     envutil.GetEnv("OTEL_EXPORTER_OTLP_HEADERS", "", log),
			Insecure:    envutil.GetEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false, log),
			SampleRatio: envutil.GetEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0, log),
		},
		MetricsEnabled: envutil.GetEnvAsBool("METRICS_ENABLED", true, log),
		MaxUploadBytes: envutil.GetEnvAsInt64("MAX_UPLOAD_BYTES", 2<<30, log),
		AdminEnabled:   envutil.GetEnvAsBool("ADMIN_ENABLED", false, log),
	}

	if path := strings.TrimSpace(envutil.GetEnv("CONFIG_FILE", "", log)); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
		log.Info("Applied config file", "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.ContentStore = strings.ToLower(strings.TrimSpace(cfg.ContentStore))
	return nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DBDriverPostgres:
	case DBDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for db driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}

	switch c.ContentStore {
	case ContentStoreMemory:
	case ContentStoreGCS, ContentStoreGCSEmulator, ContentStoreS3:
		if strings.TrimSpace(c.BucketName) == "" {
			return fmt.Errorf("ASSET_BUCKET_NAME is required for content store %q", c.ContentStore)
		}
	default:
		return fmt.Errorf("unsupported content store %q", c.ContentStore)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	return nil
}

// URLCacheTTL keeps cached presigned URLs well inside their expiry.
func (c Config) URLCacheTTL() time.Duration {
	return c.PresignTTL / 2
}
