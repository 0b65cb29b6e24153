package delivery

import (
	"testing"
	"time"

	"github.com/ai-cfia/notifications/notifications/config"
	"github.com/ai-cfia/notifications/pkg/push"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		retryAfter time.Duration
		want       push.ResultKind
	}{
		{name: "201 created succeeds", statusCode: 201, want: push.ResultSuccess},
		{name: "200 ok succeeds", statusCode: 200, want: push.ResultSuccess},
		{name: "410 gone is permanent", statusCode: 410, want: push.ResultPermanent},
		{name: "404 not found is permanent", statusCode: 404, want: push.ResultPermanent},
		{name: "429 rate limited is retryable", statusCode: 429, want: push.ResultRetryable},
		{name: "500 server error is retryable", statusCode: 500, want: push.ResultRetryable},
		{name: "503 unavailable is retryable", statusCode: 503, want: push.ResultRetryable},
		{name: "400 bad request is permanent", statusCode: 400, want: push.ResultPermanent},
		{name: "413 too large is permanent", statusCode: 413, want: push.ResultPermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Classify(&push.Receipt{StatusCode: tc.statusCode, RetryAfter: tc.retryAfter})
			assert.Equal(t, tc.want, result.Kind)
		})
	}

	t.Run("carries the server-advised delay through", func(t *testing.T) {
		result := Classify(&push.Receipt{StatusCode: 429, RetryAfter: 42 * time.Second})
		assert.Equal(t, push.ResultRetryable, result.Kind)
		assert.Equal(t, 42*time.Second, result.RetryAfter)
	})
}

func TestBackoffDelay(t *testing.T) {
	cfg := config.DeliveryConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}

	t.Run("doubles per attempt from the base", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, backoffDelay(cfg, 0, 0))
		assert.Equal(t, 2*time.Second, backoffDelay(cfg, 1, 0))
		assert.Equal(t, 4*time.Second, backoffDelay(cfg, 2, 0))
		assert.Equal(t, 8*time.Second, backoffDelay(cfg, 3, 0))
	})

	t.Run("caps at the configured maximum", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, backoffDelay(cfg, 5, 0))
		assert.Equal(t, 30*time.Second, backoffDelay(cfg, 50, 0))
	})

	t.Run("does not overflow on absurd attempt numbers", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, backoffDelay(cfg, 100000, 0))
	})

	t.Run("server-advised delay wins over the schedule", func(t *testing.T) {
		assert.Equal(t, 7*time.Second, backoffDelay(cfg, 3, 7*time.Second))
	})

	t.Run("server-advised delay is honored even beyond the cap", func(t *testing.T) {
		assert.Equal(t, 5*time.Minute, backoffDelay(cfg, 0, 5*time.Minute))
	})
}
