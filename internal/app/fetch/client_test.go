package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	memnotifier "github.com/cardbuff/cardstats/internal/adapters/memory/notifier"
)

type nopGate struct {
	awaits  atomic.Int32
	records atomic.Int32
}

func (g *nopGate) AwaitSlot(ctx context.Context) error {
	g.awaits.Add(1)
	return nil
}

func (g *nopGate) Record(ctx context.Context) error {
	g.records.Add(1)
	return nil
}

func newTestClient(t *testing.T, gate Gate, rec *memnotifier.Recorder) *Client {
	t.Helper()
	cfg := Config{
		Timeout: 2 * time.Second,
		Retry: RetryPolicy{
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
			Max429Retries:  3,
			Delay429Base:   time.Millisecond,
		},
	}
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	c := NewClient(cfg, gate, rec, log)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestClient_SuccessParsesHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="x">hi</div></body></html>`))
	}))
	defer srv.Close()

	gate := &nopGate{}
	c := newTestClient(t, gate, memnotifier.NewRecorder())

	doc, err := c.Fetch(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc == nil {
		t.Fatalf("nil document")
	}
	if gate.awaits.Load() != 1 || gate.records.Load() != 1 {
		t.Fatalf("gate awaits=%d records=%d, want 1/1", gate.awaits.Load(), gate.records.Load())
	}
}

func TestClient_SkipRateLimitBypassesGate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	gate := &nopGate{}
	c := newTestClient(t, gate, memnotifier.NewRecorder())

	if _, err := c.Fetch(context.Background(), srv.URL, Options{SkipRateLimit: true}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gate.awaits.Load() != 0 || gate.records.Load() != 0 {
		t.Fatalf("gate consulted despite SkipRateLimit")
	}
}

func TestClient_404FailsImmediately(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	_, err := c.Fetch(context.Background(), srv.URL, Options{})
	if kind, ok := KindOf(err); !ok || kind != KindNotFound {
		t.Fatalf("err=%v, want not_found", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1 (no retry)", hits.Load())
	}
}

func TestClient_5xxRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	gate := &nopGate{}
	c := newTestClient(t, gate, memnotifier.NewRecorder())

	if _, err := c.Fetch(context.Background(), srv.URL, Options{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d, want 3", hits.Load())
	}
	// Each real attempt consumes a slot.
	if gate.records.Load() != 3 {
		t.Fatalf("records=%d, want 3", gate.records.Load())
	}
}

func TestClient_5xxExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	_, err := c.Fetch(context.Background(), srv.URL, Options{})
	if kind, ok := KindOf(err); !ok || kind != KindNetwork {
		t.Fatalf("err=%v, want network", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("hits=%d, want 1 initial + 3 retries", hits.Load())
	}
}

func TestClient_MaxRetriesOverride(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	_, err := c.Fetch(context.Background(), srv.URL, Options{MaxRetries: 1})
	if kind, ok := KindOf(err); !ok || kind != KindNetwork {
		t.Fatalf("err=%v, want network", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d, want 1 initial + 1 retry", hits.Load())
	}
}

func TestClient_429UsesDedicatedPath(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	rec := memnotifier.NewRecorder()
	c := newTestClient(t, &nopGate{}, rec)

	if _, err := c.Fetch(context.Background(), srv.URL, Options{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	events := rec.RetryAfterEvents()
	if len(events) != 2 {
		t.Fatalf("429 notifications=%d, want 2", len(events))
	}
	// Linear schedule: base*1, base*2.
	if events[0].Delay != time.Millisecond || events[1].Delay != 2*time.Millisecond {
		t.Fatalf("delays=%v", events)
	}
	if events[0].Attempt != 1 || events[1].Attempt != 2 || events[1].MaxAttempts != 3 {
		t.Fatalf("attempts=%v", events)
	}
}

func TestClient_429BudgetSeparateFromRetryBudget(t *testing.T) {
	t.Parallel()

	// Alternate 500 and 429: each path must track its own attempt counter.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		switch {
		case n <= 2 && n%2 == 1:
			w.WriteHeader(http.StatusInternalServerError)
		case n <= 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte("<html></html>"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	if _, err := c.Fetch(context.Background(), srv.URL, Options{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d, want 3", hits.Load())
	}
}

func TestClient_429ExhaustedReturnsRateLimitError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	_, err := c.Fetch(context.Background(), srv.URL, Options{})
	if kind, ok := KindOf(err); !ok || kind != KindRateLimit {
		t.Fatalf("err=%v, want rate_limit", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("hits=%d, want 1 initial + 3 retries", hits.Load())
	}
}

func TestClient_TimeoutClassified(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	_, err := c.Fetch(context.Background(), srv.URL, Options{Timeout: 20 * time.Millisecond, DisableRetry: true})
	if kind, ok := KindOf(err); !ok || kind != KindTimeout {
		t.Fatalf("err=%v, want timeout", err)
	}
}

func TestClient_DisableRetryFailsFast(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, &nopGate{}, memnotifier.NewRecorder())

	if _, err := c.Fetch(context.Background(), srv.URL, Options{DisableRetry: true}); err == nil {
		t.Fatalf("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1", hits.Load())
	}
}
