package domain

// CardID uniquely identifies a card on the source site.
// We model it as an opaque identifier: its format is controlled by the site
// (currently a decimal string extracted from card links).
type CardID string

// RunID identifies one scheduler pass, used for log correlation.
type RunID string
