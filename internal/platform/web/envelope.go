// Package web implements the Web Push transport: per-subscription envelope
// construction and delivery through the push services browsers register
// their endpoints with.
package web

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
)

// maxPlaintextBytes is the largest serialized payload that still fits one
// 4096-byte aes128gcm record: 86 bytes of header, one padding delimiter and
// a 16-byte tag leave 3993 for plaintext.
const maxPlaintextBytes = 3993

// ErrPayloadTooLarge reports a serialized notification the push services
// would refuse. It is a message problem, not a subscription problem.
var ErrPayloadTooLarge = errors.New("payload exceeds the web push record limit")

type wireNotification struct {
	Title   string        `json:"title"`
	Body    string        `json:"body"`
	Icon    string        `json:"icon,omitempty"`
	Badge   string        `json:"badge,omitempty"`
	Actions []push.Action `json:"actions,omitempty"`
}

// wirePayload is the JSON shape service workers receive on the push event.
type wirePayload struct {
	Notification wireNotification `json:"notification"`
	Data         map[string]any   `json:"data,omitempty"`
}

// Builder prepares one envelope per subscription. Key material is checked
// here so subscriptions that can never be encrypted for are rejected before
// any network traffic happens.
type Builder struct {
	ttl     int
	urgency string
}

func NewBuilder(cfg config.DeliveryConfig) *Builder {
	return &Builder{ttl: cfg.PushTTL, urgency: cfg.Urgency}
}

// Build validates the subscription's key material and serializes the
// notification payload. A key-material error wraps push.ErrBadKeyMaterial.
func (b *Builder) Build(msg *push.Message, sub push.Subscription) (*push.Envelope, error) {
	if _, _, err := sub.Keys.Decode(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(wirePayload{
		Notification: wireNotification{
			Title:   msg.Title,
			Body:    msg.Body,
			Icon:    msg.Icon,
			Badge:   msg.Badge,
			Actions: msg.Actions,
		},
		Data: msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if len(payload) > maxPlaintextBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	return &push.Envelope{
		Payload: payload,
		TTL:     b.ttl,
		Urgency: b.urgency,
		Topic:   msg.Topic,
	}, nil
}
