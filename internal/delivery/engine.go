// Package delivery implements the bounded-concurrency fan-out engine that
// relays one normalized message to every active subscription, driving the
// per-subscription retry, backoff and expiry state machine.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	dispatchesTotal  = metrics.NewCounter(`notifications_dispatches_total`)
	sendsTotal       = metrics.NewCounter(`notifications_sends_total`)
	succeededTotal   = metrics.NewCounter(`notifications_outcomes_total{outcome="succeeded"}`)
	deactivatedTotal = metrics.NewCounter(`notifications_outcomes_total{outcome="deactivated"}`)
	failedTotal      = metrics.NewCounter(`notifications_outcomes_total{outcome="failed"}`)
	retriesTotal     = metrics.NewCounter(`notifications_retries_total`)
)

// Engine fans one message out to every active subscription. At most
// MaxConcurrency sends are in flight at any instant; a subscription waiting
// out a backoff holds no slot, so a slow retry cannot starve the rest. One
// subscription's failure never aborts or blocks another's delivery.
type Engine struct {
	store   push.DeliveryStore
	sender  push.Sender
	builder push.EnvelopeBuilder
	cfg     config.DeliveryConfig
	logger  *slog.Logger
	slots   *semaphore.Weighted
}

func NewEngine(
	store push.DeliveryStore,
	sender push.Sender,
	builder push.EnvelopeBuilder,
	cfg config.DeliveryConfig,
	logger *slog.Logger,
) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		store:   store,
		sender:  sender,
		builder: builder,
		cfg:     cfg,
		logger:  logger.With("component", "DeliveryEngine"),
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

// Dispatch relays msg to every active subscription and blocks until each
// attempt has resolved or the dispatch-wide timeout has elapsed. The report
// partitions the subscriptions by final state; an error is returned only
// when the message is invalid or the active list cannot be read, in which
// case nothing was sent to anyone.
func (e *Engine) Dispatch(ctx context.Context, msg *push.Message) (*push.Report, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	subs, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}
	dispatchesTotal.Inc()
	logger := e.logger.With("dispatch_id", uuid.NewString())
	if len(subs) == 0 {
		logger.Info("Dispatch skipped, no active subscriptions")
		return &push.Report{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()

	var (
		wg sync.WaitGroup
		t  tally
	)
	started := time.Now()
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.deliver(ctx, logger, msg, sub, &t)
		}()
	}
	wg.Wait()

	report := t.report()
	logger.Info("Dispatch complete",
		"subscriptions", len(subs),
		"succeeded", report.Succeeded,
		"retried", report.Retried,
		"deactivated", report.Deactivated,
		"failed", report.Failed,
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	return report, nil
}

// deliver runs one subscription's attempt pipeline to a terminal state.
func (e *Engine) deliver(ctx context.Context, logger *slog.Logger, msg *push.Message, sub push.Subscription, t *tally) {
	logger = logger.With("endpoint", sub.Endpoint)

	retried := false
	defer func() {
		if retried {
			t.retry()
		}
	}()

	env, err := e.builder.Build(msg, sub)
	if err != nil {
		if errors.Is(err, push.ErrBadKeyMaterial) {
			// Unencryptable subscriptions can never be delivered to;
			// expire them without touching the network.
			e.deactivate(ctx, logger, sub, err.Error(), t)
			return
		}
		logger.Error("Envelope build failed", "err", err)
		t.fail()
		return
	}

	for attempt := 0; ; attempt++ {
		receipt, err := e.send(ctx, sub, env)

		var result push.DeliveryResult
		switch {
		case err != nil && ctx.Err() != nil:
			// The dispatch window closed; the outcome is unknown, so the
			// subscription stays active and the attempt counts as failed.
			logger.Warn("Attempt abandoned at dispatch timeout", "attempt", attempt)
			t.fail()
			return
		case err != nil:
			result = push.Retryable(err.Error(), 0)
		default:
			result = Classify(receipt)
		}

		switch result.Kind {
		case push.ResultSuccess:
			if err := e.store.UpdateOnSuccess(ctx, sub.ID); err != nil {
				logger.Error("Store update after delivery failed", "err", err)
				t.fail()
				return
			}
			t.succeed()
			return

		case push.ResultPermanent:
			e.deactivate(ctx, logger, sub, result.Reason, t)
			return

		case push.ResultRetryable:
			failureCount, err := e.store.IncrementFailure(ctx, sub.ID)
			if err != nil {
				logger.Error("Failure count update failed", "err", err)
				t.fail()
				return
			}
			if attempt >= e.cfg.MaxRetries {
				// Retry budget spent. The issue is assumed transient, so
				// the subscription stays active for the next dispatch.
				logger.Warn("Retry budget exhausted",
					"reason", result.Reason,
					"retries", attempt,
					"failure_count", failureCount,
				)
				t.fail()
				return
			}
			retried = true
			retriesTotal.Inc()
			logger.Debug("Retry scheduled",
				"reason", result.Reason,
				"attempt", attempt,
				"failure_count", failureCount,
			)
			if !e.waitBackoff(ctx, attempt, result.RetryAfter) {
				logger.Warn("Retry abandoned at dispatch timeout", "attempt", attempt)
				t.fail()
				return
			}
		}
	}
}

// send performs one bounded attempt. The concurrency slot is held only for
// the duration of the network call.
func (e *Engine) send(ctx context.Context, sub push.Subscription, env *push.Envelope) (*push.Receipt, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.slots.Release(1)

	sendsTotal.Inc()
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return e.sender.Send(attemptCtx, sub, env)
}

// waitBackoff sleeps until the retry is due. Returns false when the
// dispatch deadline arrives first.
func (e *Engine) waitBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	timer := time.NewTimer(backoffDelay(e.cfg, attempt, retryAfter))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) deactivate(ctx context.Context, logger *slog.Logger, sub push.Subscription, reason string, t *tally) {
	if err := e.store.Deactivate(ctx, sub.ID); err != nil {
		logger.Error("Deactivation failed", "reason", reason, "err", err)
		t.fail()
		return
	}
	logger.Info("Subscription deactivated", "reason", reason)
	t.deactivate()
}

// tally aggregates terminal states across concurrent deliveries. Retries are
// counted orthogonally: a subscription that retried contributes to Retried
// once, whatever state it ends in.
type tally struct {
	succeeded   atomic.Int64
	retried     atomic.Int64
	deactivated atomic.Int64
	failed      atomic.Int64
}

func (t *tally) succeed()    { t.succeeded.Add(1); succeededTotal.Inc() }
func (t *tally) retry()      { t.retried.Add(1) }
func (t *tally) deactivate() { t.deactivated.Add(1); deactivatedTotal.Inc() }
func (t *tally) fail()       { t.failed.Add(1); failedTotal.Inc() }

func (t *tally) report() *push.Report {
	return &push.Report{
		Succeeded:   int(t.succeeded.Load()),
		Retried:     int(t.retried.Load()),
		Deactivated: int(t.deactivated.Load()),
		Failed:      int(t.failed.Load()),
	}
}
