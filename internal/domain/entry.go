package domain

import "time"

// ErrorCount is the sentinel stored when a count fetch failed. It is never a
// valid count; an entry carrying it is treated as expired regardless of age.
const ErrorCount = -1

// Entry is one cached observation of a card's popularity.
type Entry struct {
	// Owners is the number of distinct users holding the card, or ErrorCount.
	Owners int
	// Wants is the number of distinct users wanting the card, or ErrorCount.
	Wants int
	// ObservedAt is when the counts were fetched.
	ObservedAt time.Time
	// ManualUpdateAt is set when the entry was last force-refreshed by an
	// explicit user action; nil means never.
	ManualUpdateAt *time.Time
}

// HasError reports whether the entry records a failed fetch.
func (e Entry) HasError() bool { return e.Owners == ErrorCount }
