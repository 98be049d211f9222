package subtitle

import (
	"sync"
	"testing"
)

func TestPresentationClock_Compensation(t *testing.T) {
	c := NewPresentationClock(20)
	c.Advance(100)

	if got := c.Now(); got != 120 {
		t.Errorf("Expected 120, got %d", got)
	}
}

func TestPresentationClock_Monotonic(t *testing.T) {
	c := NewPresentationClock(0)
	c.Advance(500)
	c.Advance(300)

	if got := c.Now(); got != 500 {
		t.Errorf("Expected clock to stay at 500, got %d", got)
	}

	c.Reset()
	if got := c.Now(); got != 0 {
		t.Errorf("Expected 0 after reset, got %d", got)
	}
}

func TestPresentationClock_ConcurrentAdvance(t *testing.T) {
	c := NewPresentationClock(0)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(pos int64) {
			defer wg.Done()
			c.Advance(pos)
		}(int64(i * 10))
	}
	wg.Wait()

	if got := c.Now(); got != 500 {
		t.Errorf("Expected the largest position 500, got %d", got)
	}
}
