package domain

import "fmt"

// CardRef is a reference to a card as it appears on a page. Most references
// carry the card ID directly; market lots and market requests only reference
// a card transitively and need a secondary lookup to obtain the real CardID.
//
// CardRef is a closed sum: DirectRef, MarketLotRef, MarketRequestRef.
type CardRef interface {
	// Key is a stable string form used as a resolution-cache key.
	Key() string

	isCardRef()
}

// DirectRef references a card by its own ID; no resolution needed.
type DirectRef struct {
	CardID CardID
}

// MarketLotRef references a card through a marketplace lot.
type MarketLotRef struct {
	LotID string
}

// MarketRequestRef references a card through a marketplace buy request.
type MarketRequestRef struct {
	RequestID string
}

func (r DirectRef) Key() string        { return string(r.CardID) }
func (r MarketLotRef) Key() string     { return fmt.Sprintf("market:%s", r.LotID) }
func (r MarketRequestRef) Key() string { return fmt.Sprintf("request:%s", r.RequestID) }

func (DirectRef) isCardRef()        {}
func (MarketLotRef) isCardRef()     {}
func (MarketRequestRef) isCardRef() {}
