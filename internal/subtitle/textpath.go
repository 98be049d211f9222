package subtitle

import (
	"sort"

	"github.com/lexiqai/caption-sync/internal/message"
)

type textTurn struct {
	speakerID string
	text      string
	closed    bool
}

// textPath maps fragments straight to transcriptions when no word timings
// drive the display. It keeps the last text per turn so an interrupt can
// close the caption with what was shown.
type textPath struct {
	capacity int
	turns    map[int64]*textTurn

	// Turns at or below floor were forgotten and stay closed
	floor    int64
	hasFloor bool
}

func newTextPath(capacity int) *textPath {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &textPath{capacity: capacity, turns: make(map[int64]*textTurn)}
}

// agent returns the transcription for an agent fragment, or false when the
// turn has already been closed
func (p *textPath) agent(f message.AgentTranscript) (Transcription, bool) {
	if p.hasFloor && f.TurnID <= p.floor {
		return Transcription{}, false
	}
	t := p.turns[f.TurnID]
	if t != nil && t.closed {
		return Transcription{}, false
	}
	if t == nil {
		t = &textTurn{}
		p.turns[f.TurnID] = t
		p.trim()
		if _, ok := p.turns[f.TurnID]; !ok {
			return Transcription{}, false
		}
	}
	t.speakerID = f.SpeakerID
	t.text = f.Text

	status := StatusInProgress
	if f.TurnStatus == message.TurnEnd {
		status = StatusEnd
		t.closed = true
	}
	return Transcription{
		TurnID:    f.TurnID,
		SpeakerID: f.SpeakerID,
		Text:      f.Text,
		Status:    status,
		Type:      TypeAgent,
	}, true
}

// interrupt closes an open turn with its last known text
func (p *textPath) interrupt(sig message.InterruptSignal) (Transcription, bool) {
	t := p.turns[sig.TurnID]
	if t == nil || t.closed {
		return Transcription{}, false
	}
	t.closed = true
	return Transcription{
		TurnID:    sig.TurnID,
		SpeakerID: t.speakerID,
		Text:      t.text,
		Status:    StatusInterrupted,
		Type:      TypeAgent,
	}, true
}

// trim forgets the oldest turns beyond capacity
func (p *textPath) trim() {
	if len(p.turns) <= p.capacity {
		return
	}
	ids := make([]int64, 0, len(p.turns))
	for id := range p.turns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids[:len(ids)-p.capacity] {
		delete(p.turns, id)
		if !p.hasFloor || id > p.floor {
			p.floor = id
			p.hasFloor = true
		}
	}
}

func (p *textPath) len() int {
	return len(p.turns)
}

func (p *textPath) clear() {
	p.turns = make(map[int64]*textTurn)
	p.floor = 0
	p.hasFloor = false
}

// userTranscription maps a user fragment; these bypass every buffer
func userTranscription(u message.UserTranscript) Transcription {
	status := StatusInProgress
	if u.Final {
		status = StatusEnd
	}
	return Transcription{
		TurnID:    u.TurnID,
		SpeakerID: u.SpeakerID,
		Text:      u.Text,
		Status:    status,
		Type:      TypeUser,
	}
}
