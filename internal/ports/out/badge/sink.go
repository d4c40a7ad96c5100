package badge

import "github.com/cardbuff/cardstats/internal/domain"

// Sink receives display updates for a card's badge. Rendering is an external
// concern; the pipeline only pushes values.
type Sink interface {
	// Update pushes the current display values for the card. expired marks a
	// stale-but-shown value, manual marks a recent user-forced refresh.
	Update(cardID domain.CardID, owners, wants domain.Display, expired, manual bool)
}
