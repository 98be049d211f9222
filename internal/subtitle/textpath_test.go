package subtitle

import (
	"testing"

	"github.com/lexiqai/caption-sync/internal/message"
)

func TestTextPath_AgentStatuses(t *testing.T) {
	p := newTextPath(5)

	tr, ok := p.agent(agentFragment(1, message.TurnInProgress, "hel"))
	if !ok || tr.Status != StatusInProgress || tr.Text != "hel" {
		t.Errorf("Unexpected transcription: %+v", tr)
	}

	tr, ok = p.agent(agentFragment(1, message.TurnEnd, "hello"))
	if !ok || tr.Status != StatusEnd || tr.Text != "hello" {
		t.Errorf("Unexpected transcription: %+v", tr)
	}

	if _, ok := p.agent(agentFragment(1, message.TurnInProgress, "hello again")); ok {
		t.Error("Expected fragment for closed turn to be dropped")
	}
}

func TestTextPath_Interrupt(t *testing.T) {
	p := newTextPath(5)
	p.agent(agentFragment(2, message.TurnInProgress, "so the"))

	tr, ok := p.interrupt(message.InterruptSignal{TurnID: 2})
	if !ok || tr.Status != StatusInterrupted || tr.Text != "so the" {
		t.Errorf("Unexpected transcription: %+v", tr)
	}
	if _, ok := p.interrupt(message.InterruptSignal{TurnID: 2}); ok {
		t.Error("Expected second interrupt to be dropped")
	}
	if _, ok := p.interrupt(message.InterruptSignal{TurnID: 7}); ok {
		t.Error("Expected interrupt for unknown turn to be dropped")
	}
}

func TestTextPath_Bounded(t *testing.T) {
	p := newTextPath(3)
	for id := int64(1); id <= 5; id++ {
		p.agent(agentFragment(id, message.TurnInProgress, "x"))
	}

	if p.len() != 3 {
		t.Errorf("Expected 3 tracked turns, got %d", p.len())
	}
	if _, ok := p.agent(agentFragment(1, message.TurnInProgress, "late")); ok {
		t.Error("Expected forgotten turn to stay closed")
	}

	p.clear()
	if _, ok := p.agent(agentFragment(1, message.TurnInProgress, "fresh")); !ok {
		t.Error("Expected cleared path to accept any turn")
	}
}

func TestUserTranscription(t *testing.T) {
	tr := userTranscription(message.UserTranscript{TurnID: 3, SpeakerID: "9", Text: "hey", Final: false})
	if tr.Type != TypeUser || tr.Status != StatusInProgress {
		t.Errorf("Unexpected transcription: %+v", tr)
	}
}
