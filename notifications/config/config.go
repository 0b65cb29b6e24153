package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Storage driver names accepted by Config.Storage.Driver.
const (
	StorageDriverFirestore = "firestore"
	StorageDriverPostgres  = "postgres"
)

// Delivery defaults applied when the YAML and environment leave a field unset.
const (
	DefaultMaxConcurrency  = 8
	DefaultMaxRetries      = 3
	DefaultBaseBackoff     = 1 * time.Second
	DefaultMaxBackoff      = 30 * time.Second
	DefaultAttemptTimeout  = 10 * time.Second
	DefaultDispatchTimeout = 2 * time.Minute
	DefaultPushTTL         = 60 // seconds
	DefaultTokenTTL        = 12 * time.Hour
	DefaultCacheTTL        = 5 * time.Minute
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// CacheTTL bounds how long the active-subscription list may be served
	// from cache before a store round trip.
	CacheTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	// TokenTTL is the lifetime of the signed VAPID authorization token.
	TokenTTL time.Duration
}

// DeliveryConfig tunes the fan-out engine.
type DeliveryConfig struct {
	// MaxConcurrency caps simultaneous in-flight pushes per dispatch.
	MaxConcurrency int
	// MaxRetries caps retry attempts per subscription within one dispatch.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// AttemptTimeout bounds a single push request.
	AttemptTimeout time.Duration
	// DispatchTimeout bounds an entire fan-out including backoff waits.
	DispatchTimeout time.Duration
	// PushTTL is the push-service retention period in seconds.
	PushTTL int
	Urgency string
}

type StorageConfig struct {
	// Driver selects the subscription store backend.
	Driver      string
	PostgresDSN string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Delivery   DeliveryConfig
	Storage    StorageConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables, fills defaults
// and performs final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	overrideInt(logger, "NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers)

	// Storage Overrides
	if val := os.Getenv("STORAGE_DRIVER"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_DRIVER", "source", "env")
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("POSTGRES_DSN"); val != "" {
		logger.Debug("Overriding config value", "key", "POSTGRES_DSN", "source", "env")
		cfg.Storage.PostgresDSN = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	overrideInt(logger, "REDIS_DB", &cfg.Redis.DB)
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}
	overrideDuration(logger, "VAPID_TOKEN_TTL", &cfg.Vapid.TokenTTL)

	// Delivery Overrides
	overrideInt(logger, "DELIVERY_MAX_CONCURRENCY", &cfg.Delivery.MaxConcurrency)
	overrideInt(logger, "DELIVERY_MAX_RETRIES", &cfg.Delivery.MaxRetries)
	overrideDuration(logger, "DELIVERY_BASE_BACKOFF", &cfg.Delivery.BaseBackoff)
	overrideDuration(logger, "DELIVERY_MAX_BACKOFF", &cfg.Delivery.MaxBackoff)
	overrideDuration(logger, "DELIVERY_ATTEMPT_TIMEOUT", &cfg.Delivery.AttemptTimeout)
	overrideDuration(logger, "DELIVERY_DISPATCH_TIMEOUT", &cfg.Delivery.DispatchTimeout)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageDriverFirestore
	}
	cfg.Delivery.ApplyDefaults()
	if cfg.Vapid.TokenTTL <= 0 {
		cfg.Vapid.TokenTTL = DefaultTokenTTL
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = DefaultCacheTTL
	}

	// 3. Final Validation
	switch cfg.Storage.Driver {
	case StorageDriverFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore driver (set via YAML or PROJECT_ID env var)")
		}
	case StorageDriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres_dsn is required for the postgres driver (set via YAML or POSTGRES_DSN env var)")
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.SubscriptionID != "" && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when a Pub/Sub subscription_id is configured")
	}
	if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
		return nil, fmt.Errorf("vapid key pair is required (set via YAML or VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY env vars)")
	}
	if cfg.Vapid.SubscriberEmail == "" {
		return nil, fmt.Errorf("vapid subscriber_email is required (set via YAML or VAPID_SUB_EMAIL env var)")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// ApplyDefaults fills every unset field with its documented default. The
// delivery engine calls this too so a hand-built config cannot deadlock it.
func (d *DeliveryConfig) ApplyDefaults() {
	if d.MaxConcurrency <= 0 {
		d.MaxConcurrency = DefaultMaxConcurrency
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	if d.BaseBackoff <= 0 {
		d.BaseBackoff = DefaultBaseBackoff
	}
	if d.MaxBackoff <= 0 {
		d.MaxBackoff = DefaultMaxBackoff
	}
	if d.AttemptTimeout <= 0 {
		d.AttemptTimeout = DefaultAttemptTimeout
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = DefaultDispatchTimeout
	}
	if d.PushTTL <= 0 {
		d.PushTTL = DefaultPushTTL
	}
	if d.Urgency == "" {
		d.Urgency = "normal"
	}
}

func overrideInt(logger *slog.Logger, key string, dst *int) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		logger.Warn("Ignoring invalid integer override", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = n
}

func overrideDuration(logger *slog.Logger, key string, dst *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		logger.Warn("Ignoring invalid duration override", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
}
