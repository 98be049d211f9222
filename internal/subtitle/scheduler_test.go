package subtitle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/caption-sync/internal/message"
)

func TestReconcile_ProgressivePrefix(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(5)
	store.ingest(agentFragment(1, message.TurnInProgress, "hi there", w("hi", 0), w(" there", 300)))

	out := s.reconcile(store, 250)
	if len(out) != 1 {
		t.Fatalf("Expected 1 emission, got %d: %+v", len(out), out)
	}
	if out[0].Text != "hi" || out[0].Status != StatusInProgress || out[0].Type != TypeAgent {
		t.Errorf("Unexpected emission: %+v", out[0])
	}

	// Same prefix again is not re-emitted
	if out := s.reconcile(store, 280); len(out) != 0 {
		t.Errorf("Expected duplicate suppressed, got %+v", out)
	}

	out = s.reconcile(store, 320)
	if len(out) != 1 || out[0].Text != "hi there" || out[0].Status != StatusInProgress {
		t.Errorf("Unexpected emission: %+v", out)
	}
}

func TestReconcile_NothingBeforeClockStarts(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(5)
	store.ingest(agentFragment(1, message.TurnInProgress, "hi", w("hi", 0)))

	if out := s.reconcile(store, 0); len(out) != 0 {
		t.Errorf("Expected no emissions at clock 0, got %+v", out)
	}
}

func TestReconcile_EndEmitsFullText(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(5)
	store.ingest(agentFragment(1, message.TurnEnd, "Hi there.", w("hi", 0), w(" there", 300)))

	out := s.reconcile(store, 200)
	if len(out) != 1 || out[0].Status != StatusInProgress {
		t.Fatalf("Expected in-progress before the last word, got %+v", out)
	}

	out = s.reconcile(store, 300)
	if len(out) != 1 {
		t.Fatalf("Expected 1 emission, got %+v", out)
	}
	if out[0].Status != StatusEnd || out[0].Text != "Hi there." {
		t.Errorf("Expected End with full text, got %+v", out[0])
	}
	if store.len() != 0 {
		t.Errorf("Expected turn evicted after End")
	}
	if s.displayed != nil {
		t.Errorf("Expected displayed turn cleared")
	}
}

func TestReconcile_InterruptBoundary(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(5)
	store.ingest(agentFragment(1, message.TurnInProgress, "a b c", w("a", 0), w(" b", 100), w(" c", 200)))
	store.interrupt(message.InterruptSignal{TurnID: 1, StartOffsetMs: 150})

	out := s.reconcile(store, 1000)
	if len(out) != 1 {
		t.Fatalf("Expected 1 emission, got %+v", out)
	}
	if out[0].Status != StatusInterrupted || out[0].Text != "a b" {
		t.Errorf("Expected interrupted 'a b', got %+v", out[0])
	}
	if store.len() != 0 {
		t.Error("Expected interrupted turn evicted")
	}
}

func TestReconcile_LaterTurnSupersedes(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(5)
	store.ingest(agentFragment(1, message.TurnInProgress, "a b", w("a", 0), w(" b", 1000)))

	out := s.reconcile(store, 100)
	if len(out) != 1 || out[0].TurnID != 1 || out[0].Text != "a" {
		t.Fatalf("Unexpected emission: %+v", out)
	}

	store.ingest(agentFragment(2, message.TurnInProgress, "c", w("c", 500)))
	out = s.reconcile(store, 600)
	if len(out) != 2 {
		t.Fatalf("Expected 2 emissions, got %+v", out)
	}
	if out[0].TurnID != 1 || out[0].Status != StatusInterrupted || out[0].Text != "a" {
		t.Errorf("Expected turn 1 interrupted with displayed text first, got %+v", out[0])
	}
	if out[1].TurnID != 2 || out[1].Status != StatusInProgress || out[1].Text != "c" {
		t.Errorf("Expected turn 2 in progress, got %+v", out[1])
	}
	if store.find(1) != nil {
		t.Error("Expected superseded turn evicted")
	}
}

func TestReconcile_DisplayedTurnEvictedByCapacity(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(1)
	store.ingest(agentFragment(1, message.TurnInProgress, "a", w("a", 0)))
	s.reconcile(store, 10)

	// Turn 2 has not started playing yet but pushes turn 1 out
	store.ingest(agentFragment(2, message.TurnInProgress, "b", w("b", 5000)))

	out := s.reconcile(store, 20)
	if len(out) != 1 || out[0].TurnID != 1 || out[0].Status != StatusInterrupted {
		t.Errorf("Expected displayed turn closed out, got %+v", out)
	}
}

func TestReconcile_StatusSequencePerTurn(t *testing.T) {
	s := NewScheduler(time.Hour)
	store := newTurnStore(5)
	store.ingest(agentFragment(1, message.TurnEnd, "one two three", w("one", 0), w(" two", 100), w(" three", 200)))

	var statuses []Status
	for now := int64(0); now <= 400; now += 50 {
		for _, tr := range s.reconcile(store, now) {
			statuses = append(statuses, tr.Status)
		}
	}

	if len(statuses) == 0 {
		t.Fatal("Expected emissions")
	}
	for i, st := range statuses[:len(statuses)-1] {
		if st != StatusInProgress {
			t.Errorf("Emission %d: expected in-progress before terminal, got %s", i, st)
		}
	}
	if last := statuses[len(statuses)-1]; last != StatusEnd {
		t.Errorf("Expected final End, got %s", last)
	}

	// No emission for the turn after its terminal status
	if out := s.reconcile(store, 1000); len(out) != 0 {
		t.Errorf("Expected nothing after End, got %+v", out)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(5 * time.Millisecond)

	var ticks atomic.Int64
	var gen atomic.Uint64
	s.Start(func(g uint64) {
		gen.Store(g)
		ticks.Add(1)
	})
	if !s.Running() {
		t.Fatal("Expected scheduler running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ticks.Load() < 2 {
		t.Fatal("Expected ticks to fire")
	}
	if !s.current(gen.Load()) {
		t.Error("Expected tick generation to be current while running")
	}

	s.Stop()
	s.Wait()
	if s.Running() {
		t.Error("Expected scheduler stopped")
	}
	if s.current(gen.Load()) {
		t.Error("Expected stale generation after Stop")
	}

	stopped := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if ticks.Load() != stopped {
		t.Error("Expected no ticks after Stop")
	}

	// Stop is idempotent
	s.Stop()
}

func TestVisiblePrefix(t *testing.T) {
	words := []*word{
		{text: "a", startMs: 0},
		{text: "b", startMs: 100, status: StatusEnd},
		{text: "c", startMs: 200},
	}

	prefix, b := visiblePrefix(words, 50)
	if len(prefix) != 1 || b != boundaryClock {
		t.Errorf("Expected clock-bounded prefix of 1, got %d (%d)", len(prefix), b)
	}

	prefix, b = visiblePrefix(words, 500)
	if len(prefix) != 2 || b != boundaryEnd {
		t.Errorf("Expected end-bounded prefix of 2, got %d (%d)", len(prefix), b)
	}
}
