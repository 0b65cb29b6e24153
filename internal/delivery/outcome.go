package delivery

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
)

// Classify maps a push-service receipt onto the delivery state machine's
// input alphabet. The engine owns this interpretation, not the transport:
// success-range codes succeed, gone-equivalent codes expire the
// subscription, rate limiting and server errors are worth retrying, and any
// other client error is a rejection that will not improve by itself.
func Classify(r *push.Receipt) push.DeliveryResult {
	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return push.Succeeded()
	case r.StatusCode == http.StatusGone, r.StatusCode == http.StatusNotFound:
		return push.Permanent("subscription expired")
	case r.StatusCode == http.StatusTooManyRequests, r.StatusCode >= 500:
		return push.Retryable(fmt.Sprintf("push service answered %d", r.StatusCode), r.RetryAfter)
	default:
		return push.Permanent(fmt.Sprintf("push service rejected with %d", r.StatusCode))
	}
}

// backoffDelay returns the wait before the retry following failed attempt
// number `attempt` (zero-based). A server-advised delay always wins over the
// local exponential schedule; without one the delay doubles per attempt and
// caps at MaxBackoff.
func backoffDelay(cfg config.DeliveryConfig, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := cfg.BaseBackoff
	for i := 0; i < attempt && delay < cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}
	return delay
}
