package domain

import "strconv"

// Display is a badge-facing count value: a non-negative number, an error
// marker, or a pending marker shown before the first fetch completes.
type Display struct {
	count   int
	pending bool
	failed  bool
}

func DisplayCount(n int) Display {
	if n == ErrorCount {
		return DisplayError()
	}
	return Display{count: n}
}

func DisplayPending() Display { return Display{pending: true} }
func DisplayError() Display   { return Display{failed: true} }

func (d Display) IsPending() bool { return d.pending }
func (d Display) IsError() bool   { return d.failed }

// Count returns the numeric value; only meaningful when neither pending nor error.
func (d Display) Count() int { return d.count }

func (d Display) String() string {
	switch {
	case d.pending:
		return "pending"
	case d.failed:
		return "error"
	default:
		return strconv.Itoa(d.count)
	}
}
