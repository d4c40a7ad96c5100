package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clockport "github.com/cardbuff/cardstats/internal/ports/out/clock"
	"github.com/cardbuff/cardstats/internal/ports/out/kvstore"
	notifierport "github.com/cardbuff/cardstats/internal/ports/out/notifier"
)

// Config tunes the limiter. The defaults match the site's observed tolerance;
// treat them as configuration, not invariants.
type Config struct {
	// MaxRequests is the request budget per Window.
	MaxRequests int
	// Window is the sliding-window duration.
	Window time.Duration
	// SafetyMargin pads the computed wait so the oldest timestamp has aged
	// out by the time the sleeper re-checks.
	SafetyMargin time.Duration
	// StorageKey is the kvstore key holding the persisted window.
	StorageKey string
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:  70,
		Window:       60 * time.Second,
		SafetyMargin: time.Second,
		StorageKey:   "rate_limit_requests",
	}
}

// Stats is a point-in-time view of the window.
type Stats struct {
	Current   int `json:"current"`
	Max       int `json:"max"`
	Remaining int `json:"remaining"`
	// ResetInSeconds is how long until the oldest request ages out; zero when
	// the window is empty or already below budget headroom.
	ResetInSeconds int `json:"resetIn"`
}

// Limiter gates outbound requests with a persisted sliding window of request
// timestamps. It is safe for concurrent use.
type Limiter struct {
	cfg      Config
	store    kvstore.Store
	clk      clockport.Clock
	notifier notifierport.Notifier
	log      *slog.Logger

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	requests []time.Time
}

func NewLimiter(cfg Config, store kvstore.Store, clk clockport.Clock, n notifierport.Notifier, log *slog.Logger) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultConfig().StorageKey
	}
	return &Limiter{
		cfg:      cfg,
		store:    store,
		clk:      clk,
		notifier: n,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Load restores the persisted window, prunes it, and persists the pruned
// form. A corrupt snapshot resets the window rather than failing startup.
func (l *Limiter) Load(ctx context.Context) error {
	raw, ok, err := l.store.Get(ctx, l.cfg.StorageKey)
	if err != nil {
		return fmt.Errorf("load rate-limit window: %w", err)
	}

	l.mu.Lock()
	l.requests = nil
	if ok {
		var millis []int64
		if err := json.Unmarshal(raw, &millis); err != nil {
			l.log.Warn("rate-limit window snapshot unreadable, resetting", "error", err)
		} else {
			for _, ms := range millis {
				l.requests = append(l.requests, time.UnixMilli(ms).UTC())
			}
		}
	}
	l.pruneLocked()
	n := len(l.requests)
	l.mu.Unlock()

	l.log.Info("rate limiter loaded", "requests_in_window", n)
	return l.persist(ctx)
}

// CanProceed reports whether a request slot is currently available.
func (l *Limiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.requests) < l.cfg.MaxRequests
}

// Record appends the current time to the window and persists it. Callers
// must invoke it exactly once per counted network request, before or as part
// of issuing the request.
func (l *Limiter) Record(ctx context.Context) error {
	l.mu.Lock()
	l.requests = append(l.requests, l.clk.Now())
	l.pruneLocked()
	l.mu.Unlock()
	return l.persist(ctx)
}

// AwaitSlot blocks until a slot is available or ctx is done. While waiting it
// emits a progress notification with the estimated wait. The wait re-checks
// in a loop because concurrent callers may consume freed slots.
func (l *Limiter) AwaitSlot(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.pruneLocked()
		if len(l.requests) < l.cfg.MaxRequests {
			l.mu.Unlock()
			return nil
		}
		if len(l.requests) == 0 {
			// Full window with no oldest timestamp cannot happen; reset
			// rather than spin.
			l.mu.Unlock()
			l.log.Warn("rate limiter window inconsistent, resetting")
			return l.ForceReset(ctx)
		}
		oldest := l.requests[0]
		current := len(l.requests)
		l.mu.Unlock()

		wait := oldest.Add(l.cfg.Window).Sub(l.clk.Now()) + l.cfg.SafetyMargin
		if wait < time.Second {
			wait = time.Second
		}

		l.log.Info("rate limit reached, waiting",
			"current", current,
			"max", l.cfg.MaxRequests,
			"wait", wait)
		l.notifier.RateLimitWait(wait)

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Stats reports the current window occupancy.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()

	s := Stats{
		Current:   len(l.requests),
		Max:       l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests - len(l.requests),
	}
	if len(l.requests) > 0 {
		reset := l.requests[0].Add(l.cfg.Window).Sub(l.clk.Now())
		if reset > 0 {
			s.ResetInSeconds = int((reset + time.Second - 1) / time.Second)
		}
	}
	return s
}

// ForceReset clears the window and persists the empty state.
func (l *Limiter) ForceReset(ctx context.Context) error {
	l.mu.Lock()
	l.requests = nil
	l.mu.Unlock()
	l.log.Info("rate limiter window reset")
	return l.persist(ctx)
}

func (l *Limiter) pruneLocked() {
	cutoff := l.clk.Now().Add(-l.cfg.Window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests = append([]time.Time(nil), l.requests[i:]...)
	}
}

func (l *Limiter) persist(ctx context.Context) error {
	l.mu.Lock()
	millis := make([]int64, len(l.requests))
	for i, t := range l.requests {
		millis[i] = t.UnixMilli()
	}
	l.mu.Unlock()

	raw, err := json.Marshal(millis)
	if err != nil {
		return fmt.Errorf("encode rate-limit window: %w", err)
	}
	if err := l.store.Set(ctx, l.cfg.StorageKey, raw); err != nil {
		return fmt.Errorf("persist rate-limit window: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
