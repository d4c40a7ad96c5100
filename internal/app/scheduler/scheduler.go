package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cardbuff/cardstats/internal/app/cache"
	"github.com/cardbuff/cardstats/internal/app/state"
	"github.com/cardbuff/cardstats/internal/domain"
	"github.com/cardbuff/cardstats/internal/ports/out/badge"
	"github.com/cardbuff/cardstats/internal/ports/out/cardsource"
)

// Counter produces popularity counts for a card. Implementations absorb
// their own failures into the error sentinel.
type Counter interface {
	Owners(ctx context.Context, id domain.CardID, forceAccurate, skipRateLimit bool) int
	Wants(ctx context.Context, id domain.CardID, forceAccurate, skipRateLimit bool) int
}

// RefResolver maps card references to card IDs.
type RefResolver interface {
	Resolve(ctx context.Context, ref domain.CardRef) (domain.CardID, error)
}

// Config tunes batch processing.
type Config struct {
	// BatchSize is how many cards fetch concurrently.
	BatchSize int
	// BatchPause is the idle gap between consecutive batches.
	BatchPause time.Duration
}

// errNavigated stops a run when the source moved to another page mid-pass.
var errNavigated = errors.New("source location changed")

func DefaultConfig() Config {
	return Config{
		BatchSize:  4,
		BatchPause: 4200 * time.Millisecond,
	}
}

// Scheduler reconciles the visible card set against the cache. Cards with a
// live cached entry only get a display update; the rest are fetched in
// priority tiers: cached failures first, never-seen cards second, expired
// entries last. Within a tier, cards go out in fixed-size batches with a
// pause in between. A run stops at a batch boundary when it is cancelled or
// when the source has navigated elsewhere.
type Scheduler struct {
	cfg      Config
	counter  Counter
	resolver RefResolver
	cache    *cache.Service
	state    *state.Service
	source   cardsource.Source
	badge    badge.Sink
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	runCancel context.CancelFunc
	pending   map[domain.CardID]*pendingFetch
}

type pendingFetch struct {
	done          chan struct{}
	owners, wants int
}

func New(cfg Config, counter Counter, resolver RefResolver, cards *cache.Service, st *state.Service, source cardsource.Source, sink badge.Sink, log *slog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = DefaultConfig().BatchPause
	}
	return &Scheduler{
		cfg:      cfg,
		counter:  counter,
		resolver: resolver,
		cache:    cards,
		state:    st,
		source:   source,
		badge:    sink,
		log:      log,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
		pending: make(map[domain.CardID]*pendingFetch),
	}
}

// ProcessAll runs one reconciliation pass over the source's visible cards.
// Starting a new pass cancels any pass still in flight.
func (s *Scheduler) ProcessAll(ctx context.Context) error {
	if !s.state.Enabled() {
		s.log.Info("processing disabled, skipping run")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	s.runCancel = cancel
	s.mu.Unlock()
	defer cancel()

	runID := domain.RunID(uuid.NewString())
	location := s.source.Location()
	log := s.log.With("run", string(runID), "location", location)

	refs, err := s.source.VisibleCards(runCtx)
	if err != nil {
		return err
	}
	log.Info("run started", "cards", len(refs))

	var failed, uncached, expired []domain.CardID
	seen := make(map[domain.CardID]struct{})
	for _, ref := range refs {
		id, err := s.resolver.Resolve(runCtx, ref)
		if err != nil {
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			log.Warn("reference skipped", "ref", ref.Key(), "error", err)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		entry, ok := s.cache.Get(id)
		if !ok {
			uncached = append(uncached, id)
			continue
		}
		isExpired := s.cache.IsExpired(entry)
		manual := s.cache.IsRecentlyManuallyUpdated(entry)
		s.badge.Update(id, domain.DisplayCount(entry.Owners), domain.DisplayCount(entry.Wants), isExpired, manual)
		if !isExpired {
			continue
		}
		if entry.HasError() {
			failed = append(failed, id)
		} else {
			expired = append(expired, id)
		}
	}

	if len(failed)+len(uncached)+len(expired) > 0 {
		log.Info("run plan", "failed", len(failed), "new", len(uncached), "expired", len(expired))
	}

	for _, tier := range []struct {
		name      string
		ids       []domain.CardID
		isRefresh bool
	}{
		{"failed", failed, true},
		{"new", uncached, false},
		{"expired", expired, true},
	} {
		if len(tier.ids) == 0 {
			continue
		}
		if err := s.processBatches(runCtx, log, location, tier.ids, tier.isRefresh); err != nil {
			log.Info("run stopped", "tier", tier.name, "reason", err)
			return nil
		}
	}

	log.Info("run finished")
	return nil
}

// CancelRun aborts the pass in flight, if any. Cards already mid-fetch
// finish; no new batch starts.
func (s *Scheduler) CancelRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		s.log.Info("run cancelled")
		s.runCancel()
		s.runCancel = nil
	}
}

// ManualUpdate refreshes a single card immediately: accurate counts, no
// rate limiting, and the result carries the manual marker.
func (s *Scheduler) ManualUpdate(ctx context.Context, ref domain.CardRef) error {
	if !s.state.Enabled() {
		return nil
	}
	id, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	s.log.Info("manual update", "cardId", id)
	s.badge.Update(id, domain.DisplayPending(), domain.DisplayPending(), false, true)

	owners, wants := s.countBoth(ctx, id, true, true)
	s.cache.Set(id, owners, wants, true)
	s.badge.Update(id, domain.DisplayCount(owners), domain.DisplayCount(wants), false, true)
	return nil
}

func (s *Scheduler) processBatches(ctx context.Context, log *slog.Logger, location string, ids []domain.CardID, isRefresh bool) error {
	for i := 0; i < len(ids); i += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.source.Location() != location {
			return errNavigated
		}

		end := i + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		// Fetches already dispatched run to completion and commit their
		// results even when the run is cancelled mid-batch; cancellation
		// only stops the next batch from starting.
		fetchCtx := context.WithoutCancel(ctx)
		var g errgroup.Group
		for _, id := range ids[i:end] {
			id := id
			g.Go(func() error {
				s.processCard(fetchCtx, id, isRefresh)
				return nil
			})
		}
		_ = g.Wait()
		log.Info("batch done", "from", i, "to", end, "total", len(ids))

		if end < len(ids) {
			s.sleep(ctx, s.cfg.BatchPause)
		}
	}
	return nil
}

func (s *Scheduler) processCard(ctx context.Context, id domain.CardID, isRefresh bool) {
	s.mu.Lock()
	if pf, ok := s.pending[id]; ok {
		s.mu.Unlock()
		select {
		case <-pf.done:
			entry, cached := s.cache.Get(id)
			manual := cached && s.cache.IsRecentlyManuallyUpdated(entry)
			s.badge.Update(id, domain.DisplayCount(pf.owners), domain.DisplayCount(pf.wants), false, manual)
		case <-ctx.Done():
		}
		return
	}
	pf := &pendingFetch{done: make(chan struct{})}
	s.pending[id] = pf
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		close(pf.done)
	}()

	if !isRefresh {
		s.badge.Update(id, domain.DisplayPending(), domain.DisplayPending(), false, false)
	}

	owners, wants := s.countBoth(ctx, id, false, false)
	pf.owners, pf.wants = owners, wants
	s.cache.Set(id, owners, wants, false)

	entry, cached := s.cache.Get(id)
	manual := cached && s.cache.IsRecentlyManuallyUpdated(entry)
	s.badge.Update(id, domain.DisplayCount(owners), domain.DisplayCount(wants), false, manual)
}

// countBoth fetches owners and wants concurrently, the way two tabs of the
// listing would load side by side.
func (s *Scheduler) countBoth(ctx context.Context, id domain.CardID, forceAccurate, skipRateLimit bool) (int, int) {
	var owners, wants int
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		owners = s.counter.Owners(ctx, id, forceAccurate, skipRateLimit)
	}()
	go func() {
		defer wg.Done()
		wants = s.counter.Wants(ctx, id, forceAccurate, skipRateLimit)
	}()
	wg.Wait()
	return owners, wants
}
