package notifier

import (
	"log/slog"
	"time"
)

// Notifier reports rate-limit waits and retry countdowns to the log. In the
// daemon there is no user-facing toast, so the log is the progress surface.
type Notifier struct {
	log *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier { return &Notifier{log: log} }

func (n *Notifier) RateLimitWait(wait time.Duration) {
	n.log.Info("rate limit reached, waiting", "wait", wait)
}

func (n *Notifier) RetryAfter(delay time.Duration, attempt, maxAttempts int) {
	n.log.Info("retrying after server backoff", "delay", delay, "attempt", attempt, "maxAttempts", maxAttempts)
}
