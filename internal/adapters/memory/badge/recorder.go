package badge

import (
	"sync"

	"github.com/cardbuff/cardstats/internal/domain"
)

// Update records one badge.Sink.Update call.
type Update struct {
	CardID  domain.CardID
	Owners  domain.Display
	Wants   domain.Display
	Expired bool
	Manual  bool
}

// Recorder is an in-memory Sink that records updates for assertions.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Update(cardID domain.CardID, owners, wants domain.Display, expired, manual bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{
		CardID:  cardID,
		Owners:  owners,
		Wants:   wants,
		Expired: expired,
		Manual:  manual,
	})
}

func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

// Last returns the most recent update for the card, if any.
func (r *Recorder) Last(cardID domain.CardID) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].CardID == cardID {
			return r.updates[i], true
		}
	}
	return Update{}, false
}
