package board

import "time"

const (
	// DefaultCap bounds the number of notes retained per board.
	DefaultCap = 200
	// DefaultExpiry bounds how long an inactive board survives.
	DefaultExpiry = 24 * time.Hour
	// DefaultMaxTextLength bounds the note body.
	DefaultMaxTextLength = 300
)

// Policy carries the retention numbers applied after every mutation and sweep.
type Policy struct {
	Cap           int
	Expiry        time.Duration
	MaxTextLength int
}

// DefaultPolicy returns the product retention numbers.
func DefaultPolicy() Policy {
	return Policy{
		Cap:           DefaultCap,
		Expiry:        DefaultExpiry,
		MaxTextLength: DefaultMaxTextLength,
	}
}

func (p Policy) normalized() Policy {
	result := p
	if result.Cap <= 0 {
		result.Cap = DefaultCap
	}
	if result.Expiry <= 0 {
		result.Expiry = DefaultExpiry
	}
	if result.MaxTextLength <= 0 {
		result.MaxTextLength = DefaultMaxTextLength
	}
	return result
}

// Expired reports whether a board whose newest note was created at latest has
// fallen outside the retention window relative to now.
func Expired(latest, now time.Time, window time.Duration) bool {
	return now.Sub(latest) > window
}
