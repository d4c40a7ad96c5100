package notifier

import "time"

// Notifier receives user-facing progress events from the fetch pipeline.
// Calls are fire-and-forget: implementations must not block and the caller
// ignores any outcome.
type Notifier interface {
	// RateLimitWait reports that the pipeline is sleeping until a request
	// slot frees up, with the estimated wait.
	RateLimitWait(wait time.Duration)

	// RetryAfter reports a 429 backoff: the pipeline will retry the request
	// after delay, on attempt attempt of maxAttempts.
	RetryAfter(delay time.Duration, attempt, maxAttempts int)
}
