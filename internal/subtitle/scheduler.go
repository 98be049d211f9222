package subtitle

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultTickInterval is the reconciliation period in word mode
const DefaultTickInterval = 200 * time.Millisecond

type boundary int

const (
	boundaryClock boundary = iota
	boundaryInterrupt
	boundaryEnd
)

// Scheduler periodically reconciles buffered turns against the presentation
// clock. It owns its ticker goroutine and the "currently displayed" turn.
type Scheduler struct {
	interval time.Duration

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	// Guarded by the engine lock, like the store it reconciles
	displayed *Transcription
}

// NewScheduler creates a stopped scheduler
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{interval: interval}
}

// Start launches the ticker, replacing any previous run. fn receives the
// generation the tick belongs to; callers must drop ticks whose generation
// is no longer current.
func (s *Scheduler) Start(fn func(generation uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn(gen)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the ticker without waiting for an in-flight tick.
// Safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Wait blocks until the most recent ticker goroutine has exited
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running reports whether the ticker is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// current reports whether a tick of the given generation may still emit
func (s *Scheduler) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil && s.generation == generation
}

// clearDisplayed forgets the currently displayed turn
func (s *Scheduler) clearDisplayed() {
	s.displayed = nil
}

type candidate struct {
	turn     *turnBuffer
	prefix   []*word
	boundary boundary
}

// reconcile computes the transcriptions due at presentation time now and
// evicts the turns they close. The caller must hold the engine lock.
func (s *Scheduler) reconcile(store *turnStore, now int64) []Transcription {
	if now <= 0 {
		return nil
	}

	var out []Transcription

	// The displayed turn was evicted behind our back (capacity)
	if d := s.displayed; d != nil && store.find(d.TurnID) == nil {
		out = append(out, closeOut(*d))
		s.displayed = nil
	}

	var candidates []candidate
	for _, t := range store.turns {
		prefix, b := visiblePrefix(t.words, now)
		if len(prefix) == 0 {
			continue
		}
		candidates = append(candidates, candidate{turn: t, prefix: prefix, boundary: b})
	}
	if len(candidates) == 0 {
		return out
	}

	active := candidates[len(candidates)-1]

	// A later turn starting to play interrupts every earlier one
	for _, c := range candidates[:len(candidates)-1] {
		tr := Transcription{
			TurnID:    c.turn.turnID,
			SpeakerID: c.turn.speakerID,
			Text:      joinWords(c.prefix),
			Type:      TypeAgent,
		}
		if d := s.displayed; d != nil && d.TurnID == c.turn.turnID {
			tr.Text = d.Text
			s.displayed = nil
		}
		out = append(out, closeOut(tr))
		store.remove(c.turn.turnID, EvictSuperseded)
	}
	if d := s.displayed; d != nil && d.TurnID != active.turn.turnID {
		out = append(out, closeOut(*d))
		store.remove(d.TurnID, EvictSuperseded)
		s.displayed = nil
	}

	t := active.turn
	tr := Transcription{
		TurnID:    t.turnID,
		SpeakerID: t.speakerID,
		Type:      TypeAgent,
	}
	switch {
	case active.boundary == boundaryInterrupt:
		tr.Text = joinWords(active.prefix)
		tr.Status = StatusInterrupted
		store.remove(t.turnID, EvictInterrupted)
		s.displayed = nil

	case active.boundary == boundaryEnd && t.status == StatusEnd:
		tr.Text = t.fullText
		tr.Status = StatusEnd
		store.remove(t.turnID, EvictEnd)
		s.displayed = nil

	default:
		tr.Text = joinWords(active.prefix)
		tr.Status = StatusInProgress
		if d := s.displayed; d != nil && *d == tr {
			return out
		}
		shown := tr
		s.displayed = &shown
	}

	return append(out, tr)
}

// visiblePrefix returns the words due at now, stopping after the first
// interrupted or end word, whichever comes first.
func visiblePrefix(words []*word, now int64) ([]*word, boundary) {
	for i, w := range words {
		if w.startMs > now {
			return words[:i], boundaryClock
		}
		switch w.status {
		case StatusInterrupted:
			return words[:i+1], boundaryInterrupt
		case StatusEnd:
			return words[:i+1], boundaryEnd
		}
	}
	return words, boundaryClock
}

func joinWords(words []*word) string {
	var b strings.Builder
	for _, w := range words {
		b.WriteString(w.text)
	}
	return b.String()
}

func closeOut(tr Transcription) Transcription {
	tr.Status = StatusInterrupted
	return tr
}
