package cardsource

import (
	"context"
	"sync"

	"github.com/cardbuff/cardstats/internal/domain"
)

// Source is an in-memory implementation of cardsource.Source. The current
// card set and location are pushed in by a client (e.g. the ingest endpoint);
// the scheduler reads them back.
type Source struct {
	mu       sync.RWMutex
	refs     []domain.CardRef
	location string
}

func NewSource() *Source { return &Source{} }

// SetPage replaces the visible card set and the location it belongs to.
// Refs are deduplicated by key, preserving first occurrence order.
func (s *Source) SetPage(location string, refs []domain.CardRef) {
	seen := make(map[string]struct{}, len(refs))
	deduped := make([]domain.CardRef, 0, len(refs))
	for _, r := range refs {
		if r == nil {
			continue
		}
		if _, ok := seen[r.Key()]; ok {
			continue
		}
		seen[r.Key()] = struct{}{}
		deduped = append(deduped, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = location
	s.refs = deduped
}

func (s *Source) VisibleCards(ctx context.Context) ([]domain.CardRef, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CardRef, len(s.refs))
	copy(out, s.refs)
	return out, nil
}

func (s *Source) Location() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}
