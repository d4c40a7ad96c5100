package counter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/cardbuff/cardstats/internal/app/fetch"
	"github.com/cardbuff/cardstats/internal/domain"
)

// Fetcher is the slice of the fetch layer the estimator needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (*html.Node, error)
}

// kindSpec calibrates one counter kind: where its listing lives, which rows
// to count, and the extrapolation constants.
type kindSpec struct {
	name                 string
	path                 func(id domain.CardID) string
	rowClasses           []string
	perPage              int
	lastPageEstimate     int
	approximateThreshold int
}

// Config holds the calibration for both counters. Constants reflect the
// site's current page sizes; override when the site changes.
type Config struct {
	BaseURL string

	OwnersPerPage          int
	OwnersLastPageEstimate int
	OwnersThreshold        int

	WantsPerPage          int
	WantsLastPageEstimate int
	WantsThreshold        int

	// PageDelay spaces the page-1 and last-page fetches of a single card.
	// Independent of the rate limiter.
	PageDelay time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:                baseURL,
		OwnersPerPage:          36,
		OwnersLastPageEstimate: 18,
		OwnersThreshold:        11,
		WantsPerPage:           60,
		WantsLastPageEstimate:  30,
		WantsThreshold:         5,
		PageDelay:              800 * time.Millisecond,
	}
}

// Estimator derives owners and wants counts from paginated listing pages.
// It never returns an error: every failure in the fetch pipeline collapses
// to the domain.ErrorCount sentinel here.
type Estimator struct {
	owners kindSpec
	wants  kindSpec
	delay  time.Duration

	fetcher Fetcher
	log     *slog.Logger

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEstimator(cfg Config, fetcher Fetcher, log *slog.Logger) *Estimator {
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = DefaultConfig("").PageDelay
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	return &Estimator{
		owners: kindSpec{
			name: "owners",
			path: func(id domain.CardID) string {
				return fmt.Sprintf("%s/cards/%s/users", base, id)
			},
			rowClasses:           []string{"card-show__owner"},
			perPage:              cfg.OwnersPerPage,
			lastPageEstimate:     cfg.OwnersLastPageEstimate,
			approximateThreshold: cfg.OwnersThreshold,
		},
		wants: kindSpec{
			name: "wants",
			path: func(id domain.CardID) string {
				return fmt.Sprintf("%s/cards/%s/offers/want", base, id)
			},
			rowClasses:           []string{"profile__friends-item", "users-list__item", "user-card"},
			perPage:              cfg.WantsPerPage,
			lastPageEstimate:     cfg.WantsLastPageEstimate,
			approximateThreshold: cfg.WantsThreshold,
		},
		delay:   cfg.PageDelay,
		fetcher: fetcher,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Owners counts distinct holders of the card, or domain.ErrorCount.
func (e *Estimator) Owners(ctx context.Context, id domain.CardID, forceAccurate, skipRateLimit bool) int {
	return e.count(ctx, e.owners, id, forceAccurate, skipRateLimit)
}

// Wants counts distinct users wanting the card, or domain.ErrorCount.
func (e *Estimator) Wants(ctx context.Context, id domain.CardID, forceAccurate, skipRateLimit bool) int {
	return e.count(ctx, e.wants, id, forceAccurate, skipRateLimit)
}

func (e *Estimator) count(ctx context.Context, spec kindSpec, id domain.CardID, forceAccurate, skipRateLimit bool) int {
	url := spec.path(id)
	opts := fetch.Options{SkipRateLimit: skipRateLimit}

	doc, err := e.fetcher.Fetch(ctx, url, opts)
	if err != nil {
		e.log.Error("count failed", "kind", spec.name, "card", id, "error", err)
		return domain.ErrorCount
	}

	maxPage := maxPageNumber(doc)
	if maxPage == 1 {
		n := countByClass(doc, spec.rowClasses...)
		e.log.Debug("counted single page", "kind", spec.name, "card", id, "count", n)
		return n
	}

	if maxPage >= spec.approximateThreshold && !forceAccurate {
		// Popular card: extrapolate instead of paying for the last page.
		n := (maxPage-1)*spec.perPage + spec.lastPageEstimate
		e.log.Debug("approximated count",
			"kind", spec.name, "card", id, "pages", maxPage, "count", n)
		return n
	}

	// Space the two page fetches for this card.
	if err := e.sleep(ctx, e.delay); err != nil {
		e.log.Error("count cancelled", "kind", spec.name, "card", id, "error", err)
		return domain.ErrorCount
	}

	lastDoc, err := e.fetcher.Fetch(ctx, pageURL(url, maxPage), opts)
	if err != nil {
		e.log.Error("last-page fetch failed", "kind", spec.name, "card", id, "error", err)
		return domain.ErrorCount
	}
	n := (maxPage-1)*spec.perPage + countByClass(lastDoc, spec.rowClasses...)
	e.log.Debug("counted exact", "kind", spec.name, "card", id, "pages", maxPage, "count", n)
	return n
}

func pageURL(url string, page int) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", url, sep, page)
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
