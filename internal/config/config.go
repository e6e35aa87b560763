package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "COPILOT"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "career_copilot.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 60
	defaultStorageDriver     = StorageDriverLocal
	defaultUploadRoot        = "uploads"
	defaultMinioBucket       = "career-copilot-documents"
	defaultCompressionAlgo   = "zstd"
	defaultCompressionMin    = 1024
	defaultMigrationQueue    = MigrationQueueInline
	defaultMigrationWorkers  = 1
	defaultRedisStream       = "copilot:migrations"
	defaultEventsExchange    = "career_copilot.events"
	defaultJobsTimeoutSecond = 15
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported blob storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverMinio = "minio"
)

// Supported migration dispatch modes.
const (
	MigrationQueueInline = "inline"
	MigrationQueueRedis  = "redis"
)

// MinioConfig carries object storage credentials.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	SigningSecret string
	TokenTTL      time.Duration

	StorageDriver string
	UploadRoot    string
	Minio         MinioConfig

	EncryptionSecret     string
	CompressionAlgorithm string
	CompressionMinSize   int64

	MigrationQueue   string
	MigrationWorkers int
	RedisAddress     string
	RedisPassword    string
	RedisStream      string

	EventsAMQPURL  string
	EventsExchange string

	JobsFeedURL        string
	JobsFeedToken      string
	JobsRequestTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.upload_root", defaultUploadRoot)
	configViper.SetDefault("storage.minio.bucket", defaultMinioBucket)
	configViper.SetDefault("storage.minio.use_ssl", true)
	configViper.SetDefault("compression.algorithm", defaultCompressionAlgo)
	configViper.SetDefault("compression.min_size_bytes", defaultCompressionMin)
	configViper.SetDefault("migrations.queue", defaultMigrationQueue)
	configViper.SetDefault("migrations.workers", defaultMigrationWorkers)
	configViper.SetDefault("redis.stream", defaultRedisStream)
	configViper.SetDefault("events.exchange", defaultEventsExchange)
	configViper.SetDefault("jobs.request_timeout_seconds", defaultJobsTimeoutSecond)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		StorageDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		UploadRoot:     configViper.GetString("storage.upload_root"),
		Minio: MinioConfig{
			Endpoint:  configViper.GetString("storage.minio.endpoint"),
			AccessKey: configViper.GetString("storage.minio.access_key"),
			SecretKey: configViper.GetString("storage.minio.secret_key"),
			Bucket:    configViper.GetString("storage.minio.bucket"),
			UseSSL:    configViper.GetBool("storage.minio.use_ssl"),
		},
		EncryptionSecret:     configViper.GetString("crypto.encryption_secret"),
		CompressionAlgorithm: strings.ToLower(strings.TrimSpace(configViper.GetString("compression.algorithm"))),
		CompressionMinSize:   configViper.GetInt64("compression.min_size_bytes"),
		MigrationQueue:       strings.ToLower(strings.TrimSpace(configViper.GetString("migrations.queue"))),
		MigrationWorkers:     configViper.GetInt("migrations.workers"),
		RedisAddress:         configViper.GetString("redis.address"),
		RedisPassword:        configViper.GetString("redis.password"),
		RedisStream:          configViper.GetString("redis.stream"),
		EventsAMQPURL:        configViper.GetString("events.amqp_url"),
		EventsExchange:       configViper.GetString("events.exchange"),
		JobsFeedURL:          configViper.GetString("jobs.feed_url"),
		JobsFeedToken:        configViper.GetString("jobs.feed_token"),
		JobsRequestTimeout:   time.Duration(configViper.GetInt("jobs.request_timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	switch c.StorageDriver {
	case StorageDriverLocal:
		if strings.TrimSpace(c.UploadRoot) == "" {
			return fmt.Errorf("storage.upload_root is required")
		}
	case StorageDriverMinio:
		if strings.TrimSpace(c.Minio.Endpoint) == "" || strings.TrimSpace(c.Minio.Bucket) == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.StorageDriver)
	}
	if strings.TrimSpace(c.EncryptionSecret) == "" {
		return fmt.Errorf("crypto.encryption_secret is required")
	}
	switch c.CompressionAlgorithm {
	case "zstd", "gzip":
	default:
		return fmt.Errorf("unsupported compression.algorithm %q", c.CompressionAlgorithm)
	}
	switch c.MigrationQueue {
	case MigrationQueueInline:
	case MigrationQueueRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required when migrations.queue is redis")
		}
	default:
		return fmt.Errorf("unsupported migrations.queue %q", c.MigrationQueue)
	}
	return nil
}
