package notifier

import (
	"sync"
	"time"
)

// RateLimitWaitEvent records one Notifier.RateLimitWait call.
type RateLimitWaitEvent struct {
	Wait time.Duration
}

// RetryAfterEvent records one Notifier.RetryAfter call.
type RetryAfterEvent struct {
	Delay       time.Duration
	Attempt     int
	MaxAttempts int
}

// Recorder is an in-memory Notifier that records events for assertions.
type Recorder struct {
	mu         sync.Mutex
	waits      []RateLimitWaitEvent
	retryAfter []RetryAfterEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) RateLimitWait(wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, RateLimitWaitEvent{Wait: wait})
}

func (r *Recorder) RetryAfter(delay time.Duration, attempt, maxAttempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryAfter = append(r.retryAfter, RetryAfterEvent{Delay: delay, Attempt: attempt, MaxAttempts: maxAttempts})
}

func (r *Recorder) RateLimitWaits() []RateLimitWaitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RateLimitWaitEvent, len(r.waits))
	copy(out, r.waits)
	return out
}

func (r *Recorder) RetryAfterEvents() []RetryAfterEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RetryAfterEvent, len(r.retryAfter))
	copy(out, r.retryAfter)
	return out
}
