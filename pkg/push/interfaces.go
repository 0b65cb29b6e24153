package push

import (
	"context"
	"time"
)

// Dispatcher is the contract intakes use to trigger a broadcast: one
// message in, one resolved report out. Implemented by the delivery engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *Message) (*Report, error)
}

// DeliveryStore is the slice of the persistence layer the delivery engine
// consumes. Implementations must tolerate concurrent callers; the counter
// updates are atomic or version-conditioned so two dispatches touching the
// same record never lose an update.
type DeliveryStore interface {
	// ListActive returns every subscription still eligible for delivery.
	ListActive(ctx context.Context) ([]Subscription, error)

	// UpdateOnSuccess resets the failure count to zero and stamps the
	// last-success time. Idempotent.
	UpdateOnSuccess(ctx context.Context, id string) error

	// IncrementFailure atomically bumps the failure count and returns the
	// new value.
	IncrementFailure(ctx context.Context, id string) (int, error)

	// Deactivate clears the active flag. Idempotent; the flag is never set
	// back by the delivery path.
	Deactivate(ctx context.Context, id string) error
}

// SubscriptionStore adds the registration surface the HTTP API manages on
// top of what delivery needs.
type SubscriptionStore interface {
	DeliveryStore

	// Register upserts a subscription keyed by endpoint and returns the
	// stored record with its identity filled in. Re-registering a
	// deactivated endpoint reactivates it; a fresh browser registration is
	// new consent.
	Register(ctx context.Context, sub Subscription) (Subscription, error)

	// Unregister removes the subscription for the endpoint. Removing an
	// unknown endpoint is not an error.
	Unregister(ctx context.Context, endpoint string) error
}

// Envelope is the prepared per-subscription send: the serialized
// notification payload plus the headers that accompany it. The payload is
// encrypted for the subscription's keys at the transport boundary.
type Envelope struct {
	Payload []byte
	// TTL is the push-service retention time in seconds.
	TTL int
	// Urgency is the Web Push urgency header value; empty means the
	// service default.
	Urgency string
	// Topic collapses queued notifications sharing the same value.
	Topic string
}

// EnvelopeBuilder prepares one subscription's envelope. Malformed
// subscription key material is reported here, wrapping ErrBadKeyMaterial,
// before any network activity.
type EnvelopeBuilder interface {
	Build(msg *Message, sub Subscription) (*Envelope, error)
}

// Receipt is the transport's view of one completed send.
type Receipt struct {
	StatusCode int
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

// Sender performs the network delivery of one envelope. It is the only
// I/O boundary of the delivery pipeline and is replaced by a fake in tests.
// The error return covers transport-level failures (DNS, connect,
// timeout); push-service verdicts come back as status codes in the Receipt
// and are interpreted by the engine, not the sender.
type Sender interface {
	Send(ctx context.Context, sub Subscription, env *Envelope) (*Receipt, error)
}
