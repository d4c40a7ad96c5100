package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/net/html"

	"github.com/cardbuff/cardstats/internal/app/fetch"
	"github.com/cardbuff/cardstats/internal/domain"
)

type fakeFetcher struct {
	calls atomic.Int64
	fn    func(url string, opts fetch.Options) (*html.Node, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, opts fetch.Options) (*html.Node, error) {
	f.calls.Add(1)
	return f.fn(url, opts)
}

func lotPage(cardID string) *html.Node {
	doc, err := html.Parse(strings.NewReader(fmt.Sprintf(`<html><body>
		<div class="card-show__wrapper">
			<a href="/cards/%s/users">owners</a>
		</div>
	</body></html>`, cardID)))
	if err != nil {
		panic(err)
	}
	return doc
}

func newTestResolver(t *testing.T, fn func(url string, opts fetch.Options) (*html.Node, error)) (*Resolver, *fakeFetcher) {
	t.Helper()
	f := &fakeFetcher{fn: fn}
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(DefaultConfig("https://example.test"), f, log), f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestResolver_DirectPassesThrough(t *testing.T) {
	t.Parallel()
	r, f := newTestResolver(t, func(string, fetch.Options) (*html.Node, error) {
		return nil, errors.New("must not fetch")
	})

	id, err := r.Resolve(context.Background(), domain.DirectRef{CardID: "123"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "123" {
		t.Errorf("id = %s, want 123", id)
	}
	if f.calls.Load() != 0 {
		t.Errorf("direct refs must not fetch, got %d calls", f.calls.Load())
	}
}

func TestResolver_MarketLot(t *testing.T) {
	t.Parallel()
	var gotURL string
	var gotOpts fetch.Options
	r, _ := newTestResolver(t, func(url string, opts fetch.Options) (*html.Node, error) {
		gotURL = url
		gotOpts = opts
		return lotPage("456"), nil
	})

	id, err := r.Resolve(context.Background(), domain.MarketLotRef{LotID: "99"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "456" {
		t.Errorf("id = %s, want 456", id)
	}
	if gotURL != "https://example.test/market/99" {
		t.Errorf("url = %s", gotURL)
	}
	if !gotOpts.SkipRateLimit || !gotOpts.DisableRetry {
		t.Errorf("opts = %+v, want rate limit and retries bypassed", gotOpts)
	}
}

func TestResolver_MarketRequest(t *testing.T) {
	t.Parallel()
	var gotURL string
	r, _ := newTestResolver(t, func(url string, _ fetch.Options) (*html.Node, error) {
		gotURL = url
		return lotPage("789"), nil
	})

	id, err := r.Resolve(context.Background(), domain.MarketRequestRef{RequestID: "7"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "789" {
		t.Errorf("id = %s, want 789", id)
	}
	if gotURL != "https://example.test/market/requests/7" {
		t.Errorf("url = %s", gotURL)
	}
}

func TestResolver_CachesResolutions(t *testing.T) {
	t.Parallel()
	r, f := newTestResolver(t, func(string, fetch.Options) (*html.Node, error) {
		return lotPage("456"), nil
	})
	ctx := context.Background()
	ref := domain.MarketLotRef{LotID: "99"}

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(ctx, ref)
		if err != nil || id != "456" {
			t.Fatalf("Resolve #%d: id=%s err=%v", i, id, err)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls.Load())
	}
	if r.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", r.CacheSize())
	}
}

func TestResolver_CachesFailures(t *testing.T) {
	t.Parallel()
	r, f := newTestResolver(t, func(string, fetch.Options) (*html.Node, error) {
		doc, _ := html.Parse(strings.NewReader("<html><body>no wrapper</body></html>"))
		return doc, nil
	})
	ctx := context.Background()
	ref := domain.MarketLotRef{LotID: "13"}

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(ctx, ref)
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			t.Fatalf("Resolve #%d: err = %v, want ResolutionError", i, err)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1 (failures cached)", f.calls.Load())
	}
}

func TestResolver_ConcurrentCallsShareOneFetch(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	r, f := newTestResolver(t, func(string, fetch.Options) (*html.Node, error) {
		<-release
		return lotPage("456"), nil
	})
	ctx := context.Background()
	ref := domain.MarketLotRef{LotID: "99"}

	var wg sync.WaitGroup
	results := make([]domain.CardID, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(ctx, ref)
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			results[i] = id
		}(i)
	}
	close(release)
	wg.Wait()

	for i, id := range results {
		if id != "456" {
			t.Errorf("result %d = %s, want 456", i, id)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls.Load())
	}
}

func TestResolver_CacheBounded(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fn: func(string, fetch.Options) (*html.Node, error) {
		return lotPage("1"), nil
	}}
	cfg := DefaultConfig("https://example.test")
	cfg.MaxCacheSize = 3
	r := New(cfg, f, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := r.Resolve(ctx, domain.MarketLotRef{LotID: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if r.CacheSize() != 3 {
		t.Errorf("cache size = %d, want 3", r.CacheSize())
	}

	// The first lot aged out, so it fetches again.
	before := f.calls.Load()
	if _, err := r.Resolve(ctx, domain.MarketLotRef{LotID: "0"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if f.calls.Load() != before+1 {
		t.Errorf("fetch calls = %d, want %d", f.calls.Load(), before+1)
	}
}

func TestResolver_ClearDropsCache(t *testing.T) {
	t.Parallel()
	r, f := newTestResolver(t, func(string, fetch.Options) (*html.Node, error) {
		return lotPage("456"), nil
	})
	ctx := context.Background()
	ref := domain.MarketLotRef{LotID: "99"}

	if _, err := r.Resolve(ctx, ref); err != nil {
		t.Fatal(err)
	}
	r.Clear()
	if r.CacheSize() != 0 {
		t.Errorf("cache size = %d, want 0", r.CacheSize())
	}
	if _, err := r.Resolve(ctx, ref); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 2 {
		t.Errorf("fetch calls = %d, want 2 after Clear", f.calls.Load())
	}
}
