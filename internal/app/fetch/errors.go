package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindNetwork covers transport failures and retryable non-2xx statuses.
	KindNetwork Kind = iota
	// KindTimeout means the request exceeded its deadline.
	KindTimeout
	// KindRateLimit means the site answered 429 and the dedicated retry
	// budget was exhausted.
	KindRateLimit
	// KindNotFound means a 404-class response; never retried.
	KindNotFound
	// KindParse means the response body could not be parsed as HTML.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the terminal error crossing the fetch layer's boundary.
type Error struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s: HTTP %d", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err when it is a fetch error.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
