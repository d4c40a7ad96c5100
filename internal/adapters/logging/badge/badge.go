package badge

import (
	"log/slog"

	"github.com/cardbuff/cardstats/internal/domain"
)

// Sink writes display updates to the log. A browser client would paint a
// badge; the daemon records what would have been shown.
type Sink struct {
	log *slog.Logger
}

func NewSink(log *slog.Logger) *Sink { return &Sink{log: log} }

func (s *Sink) Update(cardID domain.CardID, owners, wants domain.Display, expired, manual bool) {
	s.log.Debug("display update",
		"cardId", cardID,
		"owners", owners.String(),
		"wants", wants.String(),
		"expired", expired,
		"manual", manual,
	)
}
