package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/cardbuff/cardstats/internal/app/fetch"
	"github.com/cardbuff/cardstats/internal/domain"
)

// ResolutionError reports that an indirected card reference could not be
// taken to a card ID. The caller treats it as terminal for that reference.
type ResolutionError struct {
	Ref domain.CardRef
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Ref.Key(), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Fetcher is the slice of the fetch client the resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (*html.Node, error)
}

// Config for the resolver. BaseURL is the site root without trailing slash.
type Config struct {
	BaseURL      string
	MaxCacheSize int
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		MaxCacheSize: 1000,
	}
}

var cardLinkRe = regexp.MustCompile(`/cards/(\d+)/users`)

// Resolver maps card references to card IDs. Direct references pass through;
// market lot and market request references resolve by fetching the lot page
// and extracting the card link. Results, including failures, are cached so a
// broken lot is not re-fetched every cycle. Safe for concurrent use;
// concurrent calls for the same reference share one fetch.
type Resolver struct {
	cfg     Config
	fetcher Fetcher
	log     *slog.Logger

	mu      sync.Mutex
	cache   map[string]result
	order   []string
	pending map[string]*inflight
}

type result struct {
	id  domain.CardID
	err error
}

type inflight struct {
	done chan struct{}
	res  result
}

func New(cfg Config, fetcher Fetcher, log *slog.Logger) *Resolver {
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 1000
	}
	return &Resolver{
		cfg:     cfg,
		fetcher: fetcher,
		log:     log,
		cache:   make(map[string]result),
		pending: make(map[string]*inflight),
	}
}

// Resolve returns the card ID behind ref.
func (r *Resolver) Resolve(ctx context.Context, ref domain.CardRef) (domain.CardID, error) {
	if d, ok := ref.(domain.DirectRef); ok {
		return d.CardID, nil
	}

	key := ref.Key()
	r.mu.Lock()
	if res, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return res.id, res.err
	}
	if fl, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-fl.done:
			return fl.res.id, fl.res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	r.pending[key] = fl
	r.mu.Unlock()

	id, err := r.resolveIndirect(ctx, ref)
	fl.res = result{id: id, err: err}
	close(fl.done)

	r.mu.Lock()
	delete(r.pending, key)
	// Context errors are transient; everything else is worth remembering.
	if err == nil || ctx.Err() == nil {
		r.addLocked(key, fl.res)
	}
	r.mu.Unlock()
	return id, err
}

// Clear drops cached resolutions.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]result)
	r.order = nil
}

// CacheSize reports the number of cached resolutions.
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Resolver) resolveIndirect(ctx context.Context, ref domain.CardRef) (domain.CardID, error) {
	var url string
	switch v := ref.(type) {
	case domain.MarketLotRef:
		url = fmt.Sprintf("%s/market/%s", r.cfg.BaseURL, v.LotID)
	case domain.MarketRequestRef:
		url = fmt.Sprintf("%s/market/requests/%s", r.cfg.BaseURL, v.RequestID)
	default:
		return "", &ResolutionError{Ref: ref, Err: fmt.Errorf("unknown reference type %T", ref)}
	}

	doc, err := r.fetcher.Fetch(ctx, url, fetch.Options{SkipRateLimit: true, DisableRetry: true})
	if err != nil {
		return "", &ResolutionError{Ref: ref, Err: err}
	}

	wrapper := findByClass(doc, "card-show__wrapper")
	if wrapper == nil {
		return "", &ResolutionError{Ref: ref, Err: fmt.Errorf("card wrapper not found")}
	}
	id, ok := findCardLink(wrapper)
	if !ok {
		return "", &ResolutionError{Ref: ref, Err: fmt.Errorf("card link not found")}
	}
	r.log.Info("reference resolved", "ref", ref.Key(), "cardId", id)
	return id, nil
}

func (r *Resolver) addLocked(key string, res result) {
	if _, ok := r.cache[key]; ok {
		r.cache[key] = res
		return
	}
	if len(r.cache) >= r.cfg.MaxCacheSize {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.cache, oldest)
	}
	r.cache[key] = res
	r.order = append(r.order, key)
}

func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func findCardLink(n *html.Node) (domain.CardID, bool) {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, a := range n.Attr {
			if a.Key != "href" {
				continue
			}
			if m := cardLinkRe.FindStringSubmatch(a.Val); m != nil {
				return domain.CardID(m[1]), true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if id, ok := findCardLink(c); ok {
			return id, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}
