package cardsource

import (
	"context"

	"github.com/cardbuff/cardstats/internal/domain"
)

// Source supplies the set of card references currently visible to the user,
// e.g. as reported by a page observer.
type Source interface {
	// VisibleCards returns the card references on the current page, in page
	// order, deduplicated by reference key.
	VisibleCards(ctx context.Context) ([]domain.CardRef, error)

	// Location identifies the page the visible cards belong to. A scheduler
	// run compares it across batch boundaries and stops when it changes.
	Location() string
}
