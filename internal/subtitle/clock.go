package subtitle

import "sync/atomic"

// PresentationClock tracks the latest audio playback position in milliseconds.
// Writes are monotonic: a smaller position never replaces a larger one.
type PresentationClock struct {
	compensationMs int64
	value          atomic.Int64
}

// NewPresentationClock creates a clock that adds compensationMs to every
// reported position to account for pipeline buffering.
func NewPresentationClock(compensationMs int64) *PresentationClock {
	return &PresentationClock{compensationMs: compensationMs}
}

// Advance records a playback position reported by the audio collaborator
func (c *PresentationClock) Advance(positionMs int64) {
	next := positionMs + c.compensationMs
	for {
		cur := c.value.Load()
		if next <= cur {
			return
		}
		if c.value.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Now returns the current presentation timestamp
func (c *PresentationClock) Now() int64 {
	return c.value.Load()
}

// Reset clears the clock back to zero
func (c *PresentationClock) Reset() {
	c.value.Store(0)
}
