// Package pipeline contains the message processing components that feed the
// delivery engine from the Pub/Sub intake.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/ai-cfia/notifications/pkg/push"
)

// MessageTransformer is a dataflow Transformer that safely unmarshals and
// validates a raw message payload into a structured push.Message.
func MessageTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.Message, bool, error) {
	var message push.Message

	if err := json.Unmarshal(msg.Payload, &message); err != nil {
		// Return an error and set skip=true so the StreamingService can
		// handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal notification from message %s: %w", msg.ID, err)
	}

	// Redelivering a message that can never validate only loops it through
	// the DLQ, so contract failures are skipped the same way.
	if err := message.Validate(); err != nil {
		return nil, true, fmt.Errorf("notification from message %s failed validation: %w", msg.ID, err)
	}

	return &message, false, nil
}
