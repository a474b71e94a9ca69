package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage modes.
const (
	StorageModeLocal = "local"
	StorageModeS3    = "s3"
)

// Metadata drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Object store URL styles.
const (
	URLStyleGlobal   = "global"
	URLStyleRegional = "regional"
	URLStyleCustom   = "custom"
)

// Config aggregates runtime configuration for the file service.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	S3       S3Config
	Metadata MetadataConfig
	Postgres PostgresConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects and tunes the byte storage backend.
type StorageConfig struct {
	Mode             string
	LocalRoot        string
	LocalBaseURL     string
	BackupDir        string
	UploadTempDir    string
	MaxUploadSize    int64
	OperationTimeout time.Duration
	DeferOldDelete   bool
	SweepInterval    time.Duration
	SweepTTL         time.Duration
}

// S3Config carries S3-compatible object store settings.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	ForcePathStyle  bool
	URLStyle        string
	PresignTTL      time.Duration
}

// MetadataConfig selects the metadata store.
type MetadataConfig struct {
	Driver     string
	SQLitePath string
	CacheSize  int
	CacheTTL   time.Duration
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// AuthConfig controls bearer token verification on file routes.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	scratch := filepath.Join(os.TempDir(), "onenglish-files")

	cfg := Config{
		Server: ServerConfig{
			Host:         getString("API_HOST", "0.0.0.0"),
			Port:         getInt("API_PORT", 8080),
			ReadTimeout:  getDuration("API_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getDuration("API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDuration("API_IDLE_TIMEOUT", 120*time.Second),
		},
		Storage: StorageConfig{
			Mode:             strings.ToLower(getString("STORAGE_MODE", StorageModeLocal)),
			LocalRoot:        getString("STORAGE_LOCAL_ROOT", "./uploads"),
			LocalBaseURL:     getString("STORAGE_LOCAL_BASE_URL", "/uploads"),
			BackupDir:        getString("STORAGE_BACKUP_DIR", filepath.Join(scratch, "backups")),
			UploadTempDir:    getString("STORAGE_UPLOAD_TMP_DIR", filepath.Join(scratch, "incoming")),
			MaxUploadSize:    getInt64("STORAGE_MAX_UPLOAD_SIZE", 100*1024*1024),
			OperationTimeout: getDuration("STORAGE_OPERATION_TIMEOUT", 30*time.Second),
			DeferOldDelete:   getBool("STORAGE_DEFER_OLD_DELETE", true),
			SweepInterval:    getDuration("STORAGE_SWEEP_INTERVAL", time.Hour),
			SweepTTL:         getDuration("STORAGE_SWEEP_TTL", 24*time.Hour),
		},
		S3: S3Config{
			Bucket:          getString("S3_BUCKET", ""),
			Region:          getString("S3_REGION", "us-east-1"),
			Endpoint:        getString("S3_ENDPOINT", ""),
			AccessKeyID:     getString("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getString("S3_SECRET_ACCESS_KEY", ""),
			UseSSL:          getBool("S3_USE_SSL", true),
			ForcePathStyle:  getBool("S3_FORCE_PATH_STYLE", false),
			URLStyle:        strings.ToLower(getString("S3_URL_STYLE", URLStyleGlobal)),
			PresignTTL:      getDuration("S3_PRESIGN_TTL", 15*time.Minute),
		},
		Metadata: MetadataConfig{
			Driver:     strings.ToLower(getString("METADATA_DRIVER", DriverPostgres)),
			SQLitePath: getString("SQLITE_PATH", "./files.db"),
			CacheSize:  getInt("METADATA_CACHE_SIZE", 1024),
			CacheTTL:   getDuration("METADATA_CACHE_TTL", 5*time.Minute),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "onenglish"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "onenglish"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		Auth: AuthConfig{
			Enabled:   getBool("AUTH_ENABLED", false),
			JWTSecret: getString("AUTH_JWT_SECRET", ""),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Mode {
	case StorageModeLocal:
		if strings.TrimSpace(c.Storage.LocalRoot) == "" {
			errs = append(errs, errors.New("STORAGE_LOCAL_ROOT is required in local mode"))
		}
	case StorageModeS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			errs = append(errs, errors.New("S3_BUCKET is required in s3 mode"))
		}
		switch c.S3.URLStyle {
		case URLStyleGlobal:
		case URLStyleRegional:
			if c.S3.Region == "" {
				errs = append(errs, errors.New("S3_REGION is required for the regional url style"))
			}
		case URLStyleCustom:
			if c.S3.Endpoint == "" {
				errs = append(errs, errors.New("S3_ENDPOINT is required for the custom url style"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown S3_URL_STYLE %q", c.S3.URLStyle))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_MODE %q", c.Storage.Mode))
	}

	if c.Storage.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("STORAGE_MAX_UPLOAD_SIZE must be positive"))
	}
	if c.Storage.SweepInterval <= 0 {
		errs = append(errs, errors.New("STORAGE_SWEEP_INTERVAL must be positive"))
	}
	if c.Storage.SweepTTL <= 0 {
		errs = append(errs, errors.New("STORAGE_SWEEP_TTL must be positive"))
	}

	switch c.Metadata.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown METADATA_DRIVER %q", c.Metadata.Driver))
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required when AUTH_ENABLED is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
