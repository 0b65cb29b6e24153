package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/ai-cfia/notifications/internal/delivery"
	"github.com/ai-cfia/notifications/internal/platform/web"

	"github.com/ai-cfia/notifications/internal/storage/cache"
	fsStore "github.com/ai-cfia/notifications/internal/storage/firestore"
	pgStore "github.com/ai-cfia/notifications/internal/storage/postgres"
	"github.com/ai-cfia/notifications/pkg/push"

	"github.com/ai-cfia/notifications/notifications"
	"github.com/ai-cfia/notifications/notifications/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "notifications")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Yaml config invalid", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Subscription Store (Driver Selection) ---
	var store push.SubscriptionStore
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			logger.Error("Postgres pool failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pgStore.EnsureSchema(ctx, pool); err != nil {
			logger.Error("Postgres schema failed", "err", err)
			os.Exit(1)
		}
		store = pgStore.NewStore(pool)
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		store = fsStore.NewFirestoreStore(fsClient)
	}
	logger.Info("SubscriptionStore initialized", "type", cfg.Storage.Driver)

	// --- Cache Decorator ---
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedSubscriptionStore(store, redisClient, cfg.Redis.CacheTTL)
		logger.Info("SubscriptionStore upgraded", "type", "redis_cached_"+cfg.Storage.Driver)
	}

	// --- Auth ---
	var authMiddleware func(http.Handler) http.Handler
	if identityURL := os.Getenv("IDENTITY_SERVICE_URL"); identityURL != "" {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
		if err != nil {
			logger.Error("JWKS discovery failed", "identity_url", identityURL, "err", err)
			os.Exit(1)
		}
		authMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			logger.Error("Auth middleware failed", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("IDENTITY_SERVICE_URL not set; API endpoints are unauthenticated")
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}

	// --- Delivery Engine ---
	// NewSender validates the VAPID key pair, so a misconfigured signing key
	// stops the service here instead of poisoning every later dispatch.
	sender, err := web.NewSender(cfg.Vapid, logger)
	if err != nil {
		logger.Error("Web push sender failed", "err", err)
		os.Exit(1)
	}
	builder := web.NewBuilder(cfg.Delivery)
	engine := delivery.NewEngine(store, sender, builder, cfg.Delivery, logger)

	// --- Consumer & Service ---
	var consumer messagepipeline.MessageConsumer
	if cfg.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("PubSub consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notifications.New(cfg, consumer, engine, store, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
