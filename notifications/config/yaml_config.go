package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TokenTTL        string `yaml:"token_ttl"`
}

// Durations are YAML strings in Go syntax ("500ms", "2m").
type YamlDeliveryConfig struct {
	MaxConcurrency  int    `yaml:"max_concurrency"`
	MaxRetries      int    `yaml:"max_retries"`
	BaseBackoff     string `yaml:"base_backoff"`
	MaxBackoff      string `yaml:"max_backoff"`
	AttemptTimeout  string `yaml:"attempt_timeout"`
	DispatchTimeout string `yaml:"dispatch_timeout"`
	PushTTL         int    `yaml:"push_ttl_seconds"`
	Urgency         string `yaml:"urgency"`
}

type YamlStorageConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	DeliveryConfig         YamlDeliveryConfig `yaml:"delivery"`
	StorageConfig          YamlStorageConfig  `yaml:"storage"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Delivery: DeliveryConfig{
			MaxConcurrency: baseCfg.DeliveryConfig.MaxConcurrency,
			MaxRetries:     baseCfg.DeliveryConfig.MaxRetries,
			PushTTL:        baseCfg.DeliveryConfig.PushTTL,
			Urgency:        baseCfg.DeliveryConfig.Urgency,
		},
		Storage: StorageConfig{
			Driver:      baseCfg.StorageConfig.Driver,
			PostgresDSN: baseCfg.StorageConfig.PostgresDSN,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	var err error
	if cfg.Redis.CacheTTL, err = parseYamlDuration("redis.cache_ttl", baseCfg.RedisConfig.CacheTTL); err != nil {
		return nil, err
	}
	if cfg.Vapid.TokenTTL, err = parseYamlDuration("vapid.token_ttl", baseCfg.VapidConfig.TokenTTL); err != nil {
		return nil, err
	}
	if cfg.Delivery.BaseBackoff, err = parseYamlDuration("delivery.base_backoff", baseCfg.DeliveryConfig.BaseBackoff); err != nil {
		return nil, err
	}
	if cfg.Delivery.MaxBackoff, err = parseYamlDuration("delivery.max_backoff", baseCfg.DeliveryConfig.MaxBackoff); err != nil {
		return nil, err
	}
	if cfg.Delivery.AttemptTimeout, err = parseYamlDuration("delivery.attempt_timeout", baseCfg.DeliveryConfig.AttemptTimeout); err != nil {
		return nil, err
	}
	if cfg.Delivery.DispatchTimeout, err = parseYamlDuration("delivery.dispatch_timeout", baseCfg.DeliveryConfig.DispatchTimeout); err != nil {
		return nil, err
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

// parseYamlDuration maps an empty string to zero so defaults can apply later.
func parseYamlDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	return d, nil
}
