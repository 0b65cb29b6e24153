package push

import "time"

// ResultKind classifies one transport response.
type ResultKind int

const (
	// ResultSuccess: the push service accepted the notification.
	ResultSuccess ResultKind = iota
	// ResultRetryable: a transient condition (rate limit, server error,
	// network failure); the attempt may be retried within the dispatch.
	ResultRetryable
	// ResultPermanent: the endpoint is gone or the request was rejected;
	// retrying can never succeed.
	ResultPermanent
)

// DeliveryResult is the engine's interpretation of one send.
type DeliveryResult struct {
	Kind   ResultKind
	Reason string
	// RetryAfter is the server-advised delay for retryable results,
	// zero when the server did not provide one.
	RetryAfter time.Duration
}

// Succeeded builds a success result.
func Succeeded() DeliveryResult {
	return DeliveryResult{Kind: ResultSuccess}
}

// Retryable builds a transient-failure result carrying the server-advised
// delay when one was given.
func Retryable(reason string, retryAfter time.Duration) DeliveryResult {
	return DeliveryResult{Kind: ResultRetryable, Reason: reason, RetryAfter: retryAfter}
}

// Permanent builds a terminal-failure result.
func Permanent(reason string) DeliveryResult {
	return DeliveryResult{Kind: ResultPermanent, Reason: reason}
}

// Report aggregates one Dispatch call. Succeeded, Deactivated and Failed
// partition the subscriptions by final state; Retried counts subscriptions
// that needed at least one retry and overlaps the other three.
type Report struct {
	Succeeded   int `json:"succeeded"`
	Retried     int `json:"retried"`
	Deactivated int `json:"deactivated"`
	Failed      int `json:"failed"`
}

// Total returns the number of subscriptions the dispatch resolved.
func (r Report) Total() int {
	return r.Succeeded + r.Deactivated + r.Failed
}
