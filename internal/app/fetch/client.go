package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html"

	notifierport "github.com/cardbuff/cardstats/internal/ports/out/notifier"
)

// Gate admits outbound requests. The rate limiter implements it; tests may
// substitute a no-op.
type Gate interface {
	// AwaitSlot blocks until a request slot is available.
	AwaitSlot(ctx context.Context) error
	// Record consumes a slot. Called exactly once per counted request attempt.
	Record(ctx context.Context) error
}

// RetryPolicy bounds the two retry paths. 429 responses use their own slower
// schedule with a separate attempt budget; all other transient failures use
// the standard linear backoff.
type RetryPolicy struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	Max429Retries  int
	Delay429Base   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		Max429Retries:  3,
		Delay429Base:   15 * time.Second,
	}
}

// Options adjusts a single Fetch call. The zero value means: gated by the
// rate limiter, default timeout, default retries.
type Options struct {
	// SkipRateLimit bypasses the gate entirely; the request is neither
	// delayed nor counted. Used for explicit user-priority requests.
	SkipRateLimit bool
	// DisableRetry fails on the first error of any kind.
	DisableRetry bool
	// MaxRetries overrides the policy's standard retry count when positive.
	// The 429 path keeps its own budget.
	MaxRetries int
	// Timeout overrides the per-request deadline when positive.
	Timeout time.Duration
}

// Config tunes the client.
type Config struct {
	Timeout   time.Duration
	Retry     RetryPolicy
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Retry:   DefaultRetryPolicy(),
	}
}

// Client fetches listing pages as parsed HTML documents, applying rate-limit
// gating, timeouts, and the two retry schedules.
type Client struct {
	cfg      Config
	http     *http.Client
	gate     Gate
	notifier notifierport.Notifier
	log      *slog.Logger

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, gate Gate, n notifierport.Notifier, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.RetryBaseDelay <= 0 {
		cfg.Retry.RetryBaseDelay = DefaultRetryPolicy().RetryBaseDelay
	}
	if cfg.Retry.Max429Retries < 0 {
		cfg.Retry.Max429Retries = 0
	}
	if cfg.Retry.Delay429Base <= 0 {
		cfg.Retry.Delay429Base = DefaultRetryPolicy().Delay429Base
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		gate:     gate,
		notifier: n,
		log:      log,
		sleep:    sleepCtx,
	}
}

// WithHTTPClient overrides the underlying http.Client (used by tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

// Fetch issues one logical GET for url and returns the parsed HTML document.
// Terminal failures are *Error values classified by Kind.
func (c *Client) Fetch(ctx context.Context, url string, opts Options) (*html.Node, error) {
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	maxRetries := c.cfg.Retry.MaxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}

	retries := 0
	attempts429 := 0
	for {
		doc, err := c.attempt(ctx, url, timeout, opts.SkipRateLimit)
		if err == nil {
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, terminal(err, url)
		}

		var fe *Error
		if !errors.As(err, &fe) || opts.DisableRetry {
			return nil, terminal(err, url)
		}

		switch fe.Kind {
		case KindNotFound, KindParse:
			return nil, fe
		case KindRateLimit:
			// Dedicated slower path with its own budget.
			if attempts429 >= c.cfg.Retry.Max429Retries {
				return nil, fe
			}
			attempts429++
			delay := c.cfg.Retry.Delay429Base * time.Duration(attempts429)
			c.log.Warn("got 429, backing off",
				"url", url,
				"delay", delay,
				"attempt", attempts429,
				"max_attempts", c.cfg.Retry.Max429Retries)
			c.notifier.RetryAfter(delay, attempts429, c.cfg.Retry.Max429Retries)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fe
			}
		default:
			// Timeouts, 5xx and transport failures share the standard budget.
			if retries >= maxRetries {
				return nil, fe
			}
			retries++
			delay := c.cfg.Retry.RetryBaseDelay * time.Duration(retries)
			c.log.Warn("request failed, retrying",
				"url", url,
				"kind", fe.Kind.String(),
				"delay", delay,
				"attempt", retries,
				"max_attempts", maxRetries)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fe
			}
		}
	}
}

// attempt performs a single gated request.
func (c *Client) attempt(ctx context.Context, url string, timeout time.Duration, skipRateLimit bool) (*html.Node, error) {
	if !skipRateLimit {
		if err := c.gate.AwaitSlot(ctx); err != nil {
			return nil, err
		}
		if err := c.gate.Record(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &Error{Kind: KindTimeout, URL: url, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimit, URL: url, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: KindNotFound, URL: url, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: KindNetwork, URL: url, Status: resp.StatusCode}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindParse, URL: url, Err: err}
	}
	return doc, nil
}

func terminal(err error, url string) error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: KindNetwork, URL: url, Err: err}
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
