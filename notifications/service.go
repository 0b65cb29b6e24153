// Package notifications assembles the web-push relay: the registration and
// intake APIs, the optional Pub/Sub pipeline, and the delivery engine they
// share.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/ai-cfia/notifications/internal/api"
	"github.com/ai-cfia/notifications/internal/pipeline"
	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.Message]
	logger          *slog.Logger
}

// New assembles the service. A nil consumer disables the Pub/Sub intake,
// leaving the webhook as the only way in.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	engine push.Dispatcher,
	store push.SubscriptionStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[push.Message]
	if consumer != nil {
		processor := pipeline.NewProcessor(engine, logger)
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.MessageTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. APIs
	subscriptionAPI := api.NewSubscriptionAPI(store, cfg.Vapid.PublicKey, logger)
	webhookAPI := api.NewWebhookAPI(engine, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// Helper for clean route definition
	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// 1. Intake (Protected)
	handle("POST /api/v1/notify", webhookAPI.Notify)

	// 2. Subscription Lifecycle (Protected)
	handle("POST /api/v1/subscriptions", subscriptionAPI.Register)
	handle("POST /api/v1/subscriptions/unregister", subscriptionAPI.Unregister)

	// 3. Browser bootstrap. The application server key is public, so no auth.
	mux.Handle("GET /api/v1/vapid-public-key", corsMiddleware(http.HandlerFunc(subscriptionAPI.VapidPublicKey)))

	// 4. Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	// 5. Delivery metrics
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
