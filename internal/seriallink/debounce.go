package seriallink

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Debouncer suppresses repeat reads of a tag inside a window. UHF readers
// report a parked tag many times a second. A nil Debouncer allows everything.
type Debouncer struct {
	seen *cache.Cache
	ttl  time.Duration
}

// NewDebouncer returns nil when window is not positive.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		return nil
	}
	return &Debouncer{seen: cache.New(window, 2*window), ttl: window}
}

// Allow reports whether tag has not been seen within the window, and starts
// a new window for it if so.
func (d *Debouncer) Allow(tag string) bool {
	if d == nil {
		return true
	}
	return d.seen.Add(tag, struct{}{}, d.ttl) == nil
}
