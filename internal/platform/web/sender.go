package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
)

// Sender delivers envelopes through each subscription's push service. The
// payload is encrypted for the subscription's keys and the request carries a
// VAPID authorization token signed per send.
type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	tokenTTL   time.Duration
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

// Option customizes a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the transport used for push requests. Tests use
// this to capture outbound requests without a live push service.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(s *Sender) { s.httpClient = c }
}

// NewSender validates the VAPID key pair immediately to fail fast on
// startup if the signing credentials are bad.
func NewSender(cfg config.VapidConfig, logger *slog.Logger, opts ...Option) (*Sender, error) {
	if err := ValidateKeyPair(cfg.PublicKey, cfg.PrivateKey); err != nil {
		return nil, fmt.Errorf("invalid VAPID configuration: %w", err)
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = config.DefaultTokenTTL
	}

	s := &Sender{
		subscriber: cfg.SubscriberEmail,
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		tokenTTL:   tokenTTL,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send posts one encrypted envelope. The error return covers transport
// failures only; push-service verdicts come back as the receipt's status
// code and are interpreted by the caller.
func (s *Sender) Send(ctx context.Context, sub push.Subscription, env *push.Envelope) (*push.Receipt, error) {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, env.Payload, target, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		VapidExpiration: time.Now().Add(s.tokenTTL),
		TTL:             env.TTL,
		Urgency:         webpush.Urgency(env.Urgency),
		Topic:           env.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("web push request: %w", err)
	}
	defer resp.Body.Close()

	receipt := &push.Receipt{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	s.logger.Debug("Push request completed", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	return receipt, nil
}

// parseRetryAfter reads the Retry-After header in either of its HTTP forms,
// delta-seconds or an absolute date. Absent or unparseable values map to 0.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
