package subtitle

import (
	"sort"

	"github.com/lexiqai/caption-sync/internal/message"
)

// DefaultCapacity is the number of agent turns kept resident
const DefaultCapacity = 5

// Eviction causes, also used as metric labels
const (
	EvictCapacity    = "capacity"
	EvictEnd         = "end"
	EvictInterrupted = "interrupted"
	EvictSuperseded  = "superseded"
)

// turnStore holds in-flight agent turns ordered by turn id.
// It is not safe for concurrent use; the engine serializes all access.
type turnStore struct {
	capacity int
	turns    []*turnBuffer

	lastEvicted int64
	hasEvicted  bool

	onEvict func(turnID int64, cause string)
}

func newTurnStore(capacity int) *turnStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &turnStore{capacity: capacity}
}

// accepts reports whether a fragment for turnID may enter the store.
// Turns at or below the last evicted id are finished; turns below the
// newest resident one are stale.
func (s *turnStore) accepts(turnID int64) bool {
	if s.hasEvicted && turnID <= s.lastEvicted {
		return false
	}
	if n := len(s.turns); n > 0 && turnID < s.turns[n-1].turnID {
		return false
	}
	return true
}

// ingest merges an agent transcript fragment into its turn
func (s *turnStore) ingest(f message.AgentTranscript) bool {
	if !s.accepts(f.TurnID) {
		return false
	}

	status := StatusInProgress
	if f.TurnStatus == message.TurnEnd {
		status = StatusEnd
	}

	t := s.find(f.TurnID)
	if t == nil {
		t = &turnBuffer{
			turnID:    f.TurnID,
			speakerID: f.SpeakerID,
			startMs:   f.StartOffsetMs,
			fullText:  f.Text,
			status:    status,
		}
		t.words = mergeWords(nil, f.Words)
		s.turns = append(s.turns, t)
	} else {
		// Last writer by audio time wins, not by arrival order. A partial
		// arriving after the End fragment only contributes words; turn
		// status never moves back.
		final := t.status != StatusInProgress && status == StatusInProgress
		if f.StartOffsetMs >= t.startMs && !final {
			t.startMs = f.StartOffsetMs
			t.fullText = f.Text
		}
		if status == StatusEnd && t.status != StatusInterrupted {
			t.status = StatusEnd
		}
		t.words = mergeWords(t.words, f.Words)
	}

	propagateInterrupt(t.words)
	if t.status == StatusEnd {
		markLastEnd(t.words)
	}

	s.enforceCapacity()
	return true
}

// interrupt truncates a resident turn at the signal's audio offset. Every
// word at or after the offset is interrupted, and so is the last word that
// started before it, since that word was playing when the interrupt hit.
func (s *turnStore) interrupt(sig message.InterruptSignal) bool {
	if !s.accepts(sig.TurnID) {
		return false
	}
	t := s.find(sig.TurnID)
	if t == nil {
		return false
	}

	var lastBefore *word
	for _, w := range t.words {
		if w.startMs < sig.StartOffsetMs {
			lastBefore = w
			continue
		}
		w.status = StatusInterrupted
	}
	if lastBefore != nil {
		lastBefore.status = StatusInterrupted
	}
	t.status = StatusInterrupted
	propagateInterrupt(t.words)
	return true
}

func (s *turnStore) find(turnID int64) *turnBuffer {
	for _, t := range s.turns {
		if t.turnID == turnID {
			return t
		}
	}
	return nil
}

// remove evicts a turn and records it as the last evicted id
func (s *turnStore) remove(turnID int64, cause string) {
	for i, t := range s.turns {
		if t.turnID != turnID {
			continue
		}
		s.turns = append(s.turns[:i], s.turns[i+1:]...)
		s.markEvicted(turnID)
		if s.onEvict != nil {
			s.onEvict(turnID, cause)
		}
		return
	}
}

func (s *turnStore) markEvicted(turnID int64) {
	if !s.hasEvicted || turnID > s.lastEvicted {
		s.lastEvicted = turnID
		s.hasEvicted = true
	}
}

// enforceCapacity evicts the oldest turns until the bound holds
func (s *turnStore) enforceCapacity() {
	for len(s.turns) > s.capacity {
		s.remove(s.turns[0].turnID, EvictCapacity)
	}
}

func (s *turnStore) len() int {
	return len(s.turns)
}

func (s *turnStore) clear() {
	s.turns = nil
	s.lastEvicted = 0
	s.hasEvicted = false
}

// mergeWords adds incoming words whose offsets are not yet present and
// returns the list sorted by offset. A trailing End word is reopened when
// new words arrive after a premature end.
func mergeWords(existing []*word, incoming []message.Word) []*word {
	seen := make(map[int64]struct{}, len(existing)+len(incoming))
	for _, w := range existing {
		seen[w.startMs] = struct{}{}
	}

	added := false
	for _, in := range incoming {
		if _, dup := seen[in.StartOffsetMs]; dup {
			continue
		}
		seen[in.StartOffsetMs] = struct{}{}
		if !added {
			if n := len(existing); n > 0 && existing[n-1].status == StatusEnd {
				existing[n-1].status = StatusInProgress
			}
			added = true
		}
		existing = append(existing, &word{text: in.Text, startMs: in.StartOffsetMs, status: StatusInProgress})
	}

	if added {
		sort.SliceStable(existing, func(i, j int) bool {
			return existing[i].startMs < existing[j].startMs
		})
	}
	return existing
}

// propagateInterrupt marks every word after the first interrupted one
func propagateInterrupt(words []*word) {
	interrupted := false
	for _, w := range words {
		if w.status == StatusInterrupted {
			interrupted = true
			continue
		}
		if interrupted {
			w.status = StatusInterrupted
		}
	}
}

func markLastEnd(words []*word) {
	if n := len(words); n > 0 && words[n-1].status != StatusInterrupted {
		words[n-1].status = StatusEnd
	}
}
