package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/cardbuff/cardstats/internal/domain"
	clockport "github.com/cardbuff/cardstats/internal/ports/out/clock"
	"github.com/cardbuff/cardstats/internal/ports/out/kvstore"
)

// TTLBucket maps an owners-count ceiling to a lifetime. Buckets are checked
// in order; the first one whose MaxOwners is >= the count wins.
type TTLBucket struct {
	MaxOwners int
	TTL       time.Duration
}

// Config tunes the cache. Constants mirror the current product calibration;
// they are configuration, not invariants.
type Config struct {
	// Buckets is the owners-dependent TTL table, ascending by MaxOwners.
	Buckets []TTLBucket
	// DefaultTTL applies above the last bucket.
	DefaultTTL time.Duration
	// ManualFreshness is how long a manual update keeps its marker.
	ManualFreshness time.Duration
	// MaxEntries soft-caps the store; the oldest entry is evicted on insert.
	MaxEntries int
	// SaveDebounce coalesces persistence after writes.
	SaveDebounce time.Duration
	// StorageKey is the kvstore key holding the snapshot blob.
	StorageKey string
}

func DefaultConfig() Config {
	return Config{
		Buckets: []TTLBucket{
			{MaxOwners: 60, TTL: 2 * time.Hour},
			{MaxOwners: 110, TTL: 6 * time.Hour},
			{MaxOwners: 240, TTL: 24 * time.Hour},
			{MaxOwners: 600, TTL: 96 * time.Hour},
			{MaxOwners: 1200, TTL: 192 * time.Hour},
		},
		DefaultTTL:      336 * time.Hour,
		ManualFreshness: time.Hour,
		MaxEntries:      10000,
		SaveDebounce:    2 * time.Second,
		StorageKey:      "cache_v3",
	}
}

// Stats summarizes the cache contents.
type Stats struct {
	Total   int `json:"total"`
	Expired int `json:"expired"`
	Errors  int `json:"errors"`
}

// SnapshotEntry is the wire form of one entry, shared by persistence and the
// export/import API. Timestamps are unix milliseconds; ManualUpdate is null
// (or absent) when the entry was never manually refreshed.
type SnapshotEntry struct {
	Owners       int                      `json:"owners"`
	Wants        int                      `json:"wants"`
	TS           int64                    `json:"ts"`
	ManualUpdate nullable.Nullable[int64] `json:"manualUpdate,omitempty"`
}

// Snapshot is the full cache blob keyed by card ID.
type Snapshot map[string]SnapshotEntry

// Service is the TTL card-stats cache. Writes are persisted asynchronously
// through a debounced snapshot save; Flush forces a final write on shutdown.
// It is safe for concurrent use.
type Service struct {
	cfg   Config
	store kvstore.Store
	clk   clockport.Clock
	log   *slog.Logger

	mu      sync.Mutex
	entries map[domain.CardID]domain.Entry
	dirty   bool
	timer   *time.Timer
	closed  bool
}

func NewService(cfg Config, store kvstore.Store, clk clockport.Clock, log *slog.Logger) *Service {
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = DefaultConfig().Buckets
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.ManualFreshness <= 0 {
		cfg.ManualFreshness = DefaultConfig().ManualFreshness
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = DefaultConfig().SaveDebounce
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultConfig().StorageKey
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		clk:     clk,
		log:     log,
		entries: make(map[domain.CardID]domain.Entry),
	}
}

// Load restores the persisted snapshot. A corrupt snapshot resets the cache
// rather than failing startup.
func (s *Service) Load(ctx context.Context) error {
	raw, ok, err := s.store.Get(ctx, s.cfg.StorageKey)
	if err != nil {
		return fmt.Errorf("load cache snapshot: %w", err)
	}

	s.mu.Lock()
	s.entries = make(map[domain.CardID]domain.Entry)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.mu.Unlock()
		s.log.Warn("cache snapshot unreadable, resetting", "error", err)
		return nil
	}
	for id, se := range snap {
		s.entries[domain.CardID(id)] = fromSnapshot(se)
	}
	total := len(s.entries)
	s.mu.Unlock()

	// A snapshot from a run with a larger cap shrinks back to this one's.
	if evicted := s.PruneToMaxSize(s.cfg.MaxEntries); evicted > 0 {
		total -= evicted
		s.log.Warn("oversized cache snapshot trimmed", "evicted", evicted)
	}
	s.log.Info("cache loaded", "entries", total)
	return nil
}

// Get returns the cached entry for id.
func (s *Service) Get(id domain.CardID) (domain.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Set stores an observation for id and schedules a snapshot save. A
// non-manual write preserves an existing manual marker (the marker is
// monotonic within its freshness window); a manual write refreshes it.
func (s *Service) Set(id domain.CardID, owners, wants int, manual bool) {
	now := s.clk.Now()

	s.mu.Lock()
	prev, existed := s.entries[id]

	e := domain.Entry{Owners: owners, Wants: wants, ObservedAt: now}
	if manual {
		t := now
		e.ManualUpdateAt = &t
	} else if existed {
		e.ManualUpdateAt = prev.ManualUpdateAt
	}

	if !existed && len(s.entries) >= s.cfg.MaxEntries {
		s.evictOldestLocked()
	}
	s.entries[id] = e
	s.scheduleSaveLocked()
	s.mu.Unlock()
}

// TTL returns the lifetime for an owners count. Error sentinels get zero:
// a cached failure is never trusted.
func (s *Service) TTL(owners int) time.Duration {
	if owners == domain.ErrorCount {
		return 0
	}
	for _, b := range s.cfg.Buckets {
		if owners <= b.MaxOwners {
			return b.TTL
		}
	}
	return s.cfg.DefaultTTL
}

// IsExpired reports whether the entry outlived its TTL. Entries recording a
// failed fetch are always expired.
func (s *Service) IsExpired(e domain.Entry) bool {
	if e.HasError() {
		return true
	}
	return s.clk.Now().Sub(e.ObservedAt) >= s.TTL(e.Owners)
}

// IsRecentlyManuallyUpdated reports whether a manual refresh happened within
// the freshness window. Purely a presentation/priority signal; it does not
// extend validity.
func (s *Service) IsRecentlyManuallyUpdated(e domain.Entry) bool {
	if e.ManualUpdateAt == nil {
		return false
	}
	return s.clk.Now().Sub(*e.ManualUpdateAt) < s.cfg.ManualFreshness
}

// Stats counts totals over the live entries.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	entries := make([]domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	st := Stats{Total: len(entries)}
	for _, e := range entries {
		if s.IsExpired(e) {
			st.Expired++
		}
		if e.HasError() {
			st.Errors++
		}
	}
	return st
}

// Export returns the full snapshot in wire form.
func (s *Service) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Import merges an external snapshot. An incoming entry wins only when its
// observation timestamp is strictly newer, which makes repeated imports
// idempotent. Returns the number of entries that actually changed, and
// persists immediately when anything did.
func (s *Service) Import(ctx context.Context, snap Snapshot) (int, error) {
	s.mu.Lock()
	imported := 0
	for id, se := range snap {
		incoming := fromSnapshot(se)
		existing, ok := s.entries[domain.CardID(id)]
		if ok && !incoming.ObservedAt.After(existing.ObservedAt) {
			continue
		}
		if !ok && len(s.entries) >= s.cfg.MaxEntries {
			s.evictOldestLocked()
		}
		s.entries[domain.CardID(id)] = incoming
		imported++
	}
	s.mu.Unlock()

	if imported > 0 {
		if err := s.persist(ctx); err != nil {
			return imported, err
		}
	}
	s.log.Info("cache import finished", "imported", imported)
	return imported, nil
}

// Clear drops every entry and persists the empty snapshot.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[domain.CardID]domain.Entry)
	s.mu.Unlock()
	return s.persist(ctx)
}

// PruneToMaxSize evicts oldest-first down to n entries and reports how many
// were evicted.
func (s *Service) PruneToMaxSize(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	evicted := 0
	for len(s.entries) > n {
		s.evictOldestLocked()
		evicted++
	}
	if evicted > 0 {
		s.scheduleSaveLocked()
	}
	return evicted
}

// Flush writes any pending snapshot immediately. Call on shutdown.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.persist(ctx)
}

// Close flushes and stops the debounce timer for good.
func (s *Service) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

func (s *Service) evictOldestLocked() {
	var oldest domain.CardID
	var oldestAt time.Time
	first := true
	for id, e := range s.entries {
		if first || e.ObservedAt.Before(oldestAt) {
			oldest = id
			oldestAt = e.ObservedAt
			first = false
		}
	}
	if !first {
		delete(s.entries, oldest)
	}
}

func (s *Service) scheduleSaveLocked() {
	s.dirty = true
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.SaveDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.persist(ctx); err != nil {
			s.log.Warn("cache persist failed", "error", err)
		}
	})
}

func (s *Service) persist(ctx context.Context) error {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	if err := s.store.Set(ctx, s.cfg.StorageKey, raw); err != nil {
		return fmt.Errorf("persist cache snapshot: %w", err)
	}
	return nil
}

func (s *Service) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(s.entries))
	for id, e := range s.entries {
		snap[string(id)] = toSnapshot(e)
	}
	return snap
}

// OldestFirst returns the IDs ordered by observation time, oldest first.
// Exposed for diagnostics.
func (s *Service) OldestFirst() []domain.CardID {
	s.mu.Lock()
	type pair struct {
		id domain.CardID
		at time.Time
	}
	pairs := make([]pair, 0, len(s.entries))
	for id, e := range s.entries {
		pairs = append(pairs, pair{id: id, at: e.ObservedAt})
	}
	s.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].at.Equal(pairs[j].at) {
			return pairs[i].id < pairs[j].id
		}
		return pairs[i].at.Before(pairs[j].at)
	})
	out := make([]domain.CardID, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

func toSnapshot(e domain.Entry) SnapshotEntry {
	se := SnapshotEntry{
		Owners: e.Owners,
		Wants:  e.Wants,
		TS:     e.ObservedAt.UnixMilli(),
	}
	if e.ManualUpdateAt != nil {
		se.ManualUpdate = nullable.NewNullableWithValue(e.ManualUpdateAt.UnixMilli())
	}
	return se
}

func fromSnapshot(se SnapshotEntry) domain.Entry {
	e := domain.Entry{
		Owners:     se.Owners,
		Wants:      se.Wants,
		ObservedAt: time.UnixMilli(se.TS).UTC(),
	}
	if v, err := se.ManualUpdate.Get(); err == nil {
		t := time.UnixMilli(v).UTC()
		e.ManualUpdateAt = &t
	}
	return e
}
