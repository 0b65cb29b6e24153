package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/ai-cfia/notifications/pkg/push"
)

// NewProcessor creates the logic that hands decoded notifications to the
// delivery engine. Only engine-level failures are returned, so the
// StreamingService can Nack and redeliver; per-subscription outcomes are
// already resolved inside the report and never fail the message.
func NewProcessor(engine push.Dispatcher, logger *slog.Logger) messagepipeline.StreamProcessor[push.Message] {
	return func(ctx context.Context, original messagepipeline.Message, msg *push.Message) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		report, err := engine.Dispatch(ctx, msg)
		if err != nil {
			procLogger.Error("Dispatch failed", "err", err)
			return err // Retryable
		}

		procLogger.Info("Dispatched",
			"succeeded", report.Succeeded,
			"retried", report.Retried,
			"deactivated", report.Deactivated,
			"failed", report.Failed,
		)
		return nil
	}
}
