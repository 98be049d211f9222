package subtitle

import (
	"sync"
	"time"

	"github.com/lexiqai/caption-sync/internal/message"
	"github.com/lexiqai/caption-sync/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultCompensationMs is added to every playback position to account for
// audio pipeline buffering
const DefaultCompensationMs = 20

// Drop reasons for messages that normalize fine but cannot be applied
const (
	dropDisabled    = "disabled"
	dropStaleTurn   = "stale_turn"
	dropClosedTurn  = "closed_turn"
	dropUnknownTurn = "unknown_turn"
	dropModeUnset   = "mode_unset"
)

// Options configures an Engine
type Options struct {
	// PreferredMode is the render mode requested by the UI. Word mode is
	// only used when agent fragments carry word timings.
	PreferredMode RenderMode

	Capacity       int
	TickInterval   time.Duration
	CompensationMs int64

	// Handler receives every transcription on the dispatcher goroutine
	Handler Handler

	// OnInterrupt is notified of every agent interrupt message
	OnInterrupt InterruptHandler

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

// DefaultOptions returns word-mode options with the standard timings
func DefaultOptions() Options {
	return Options{
		PreferredMode:  ModeWord,
		Capacity:       DefaultCapacity,
		TickInterval:   DefaultTickInterval,
		CompensationMs: DefaultCompensationMs,
	}
}

// Engine turns channel messages and playback positions into subtitle
// updates. All message handling and reconciliation happen under one lock;
// the presentation clock is updated without it.
type Engine struct {
	preferred   RenderMode
	handler     Handler
	onInterrupt InterruptHandler
	logger      zerolog.Logger
	metrics     *observability.Metrics

	clock      *PresentationClock
	scheduler  *Scheduler
	dispatcher *Dispatcher

	mu      sync.Mutex
	enabled bool
	closed  bool
	mode    RenderMode
	store   *turnStore
	text    *textPath
	detach  []func()
}

// New creates an engine. Its dispatcher goroutine runs until Close.
func New(opts Options) *Engine {
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "subtitle").Logger()

	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics()
	}
	if opts.PreferredMode == ModeUnset {
		opts.PreferredMode = ModeWord
	}
	if opts.CompensationMs < 0 {
		opts.CompensationMs = 0
	}

	e := &Engine{
		preferred:   opts.PreferredMode,
		handler:     opts.Handler,
		onInterrupt: opts.OnInterrupt,
		logger:      logger,
		metrics:     metrics,
		clock:       NewPresentationClock(opts.CompensationMs),
		scheduler:   NewScheduler(opts.TickInterval),
		dispatcher:  NewDispatcher(logger),
		enabled:     true,
		store:       newTurnStore(opts.Capacity),
		text:        newTextPath(opts.Capacity),
	}
	e.store.onEvict = e.onEvict

	return e
}

// HandleMessage processes a decoded channel message. publisherID identifies
// the sender on the transport. Rejected messages are logged, counted and
// returned as errors; they never affect engine state.
func (e *Engine) HandleMessage(raw map[string]any, publisherID string) error {
	msg, err := message.Normalize(raw, publisherID)
	if err != nil {
		e.reject(err)
		return err
	}
	e.Dispatch(msg)
	return nil
}

// HandlePayload decodes a JSON channel message and processes it
func (e *Engine) HandlePayload(payload []byte, publisherID string) error {
	msg, err := message.NormalizePayload(payload, publisherID)
	if err != nil {
		e.reject(err)
		return err
	}
	e.Dispatch(msg)
	return nil
}

// Dispatch applies a normalized message
func (e *Engine) Dispatch(msg message.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if !e.enabled {
		e.metrics.RecordDrop(dropDisabled)
		return
	}

	switch m := msg.(type) {
	case message.UserTranscript:
		e.metrics.RecordFragment(m.Kind().String())
		e.emit(userTranscription(m))
	case message.AgentTranscript:
		e.handleAgent(m)
	case message.InterruptSignal:
		e.handleInterrupt(m)
	}
}

// OnPlaybackPosition reports the audio position currently being played
func (e *Engine) OnPlaybackPosition(positionMs int64) {
	e.clock.Advance(positionMs)
}

// Enable toggles message processing. While disabled, inbound messages are
// dropped; buffered turns keep being reconciled.
func (e *Engine) Enable(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enabled = enabled
	e.logger.Info().Bool("enabled", enabled).Msg("Subtitle processing toggled")
}

// Mode returns the render mode selected for the session
func (e *Engine) Mode() RenderMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Reset drops every buffered turn and returns the engine to its initial
// state. Transcriptions already handed to the dispatcher are still delivered.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.resetLocked()
	e.logger.Debug().Msg("Subtitle engine reset")
}

// AddDetach registers a function run once on Close, typically unsubscribing
// from the transport or the audio source. Functions run in reverse order.
func (e *Engine) AddDetach(fn func()) {
	e.mu.Lock()
	if !e.closed {
		e.detach = append(e.detach, fn)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn()
}

// Close resets the engine, runs detach functions and waits for pending
// transcriptions to be delivered. Further calls are no-ops. Must not be
// called from a Handler.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.resetLocked()
	e.closed = true
	detach := e.detach
	e.detach = nil
	e.mu.Unlock()

	for i := len(detach) - 1; i >= 0; i-- {
		detach[i]()
	}

	e.scheduler.Wait()
	e.dispatcher.Close()
	e.logger.Debug().Msg("Subtitle engine closed")
}

func (e *Engine) handleAgent(m message.AgentTranscript) {
	if e.mode == ModeUnset {
		e.selectMode(detectMode(e.preferred, m))
	}

	switch e.mode {
	case ModeText:
		tr, ok := e.text.agent(m)
		if !ok {
			e.drop(dropClosedTurn, m)
			return
		}
		e.metrics.RecordFragment(m.Kind().String())
		e.emit(tr)

	case ModeWord:
		if !e.store.ingest(m) {
			e.drop(dropStaleTurn, m)
			return
		}
		e.metrics.RecordFragment(m.Kind().String())
		e.metrics.SetResidentTurns(e.store.len())
	}
}

func (e *Engine) handleInterrupt(m message.InterruptSignal) {
	if e.onInterrupt != nil {
		notify := e.onInterrupt
		event := InterruptEvent{TurnID: m.TurnID, StartOffsetMs: m.StartOffsetMs}
		speakerID := m.SpeakerID
		e.dispatcher.Post(func() { notify(speakerID, event) })
	}
	e.logger.Debug().
		Int64("turn_id", m.TurnID).
		Int64("start_ms", m.StartOffsetMs).
		Msg("Agent interrupted")

	switch e.mode {
	case ModeUnset:
		e.drop(dropModeUnset, m)

	case ModeText:
		tr, ok := e.text.interrupt(m)
		if !ok {
			e.drop(dropUnknownTurn, m)
			return
		}
		e.metrics.RecordFragment(m.Kind().String())
		e.emit(tr)

	case ModeWord:
		if !e.store.interrupt(m) {
			e.drop(dropUnknownTurn, m)
			return
		}
		e.metrics.RecordFragment(m.Kind().String())
	}
}

func (e *Engine) selectMode(mode RenderMode) {
	e.mode = mode
	e.logger.Info().
		Str("preferred", e.preferred.String()).
		Str("mode", mode.String()).
		Msg("Render mode selected")

	if mode == ModeWord {
		e.scheduler.Start(e.tick)
	}
}

func (e *Engine) tick(generation uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if e.closed || e.mode != ModeWord || !e.scheduler.current(generation) {
		return
	}
	e.reconcile()
	e.metrics.ObserveTick(time.Since(start))
}

// reconcile emits what is due at the current presentation time.
// Caller holds e.mu.
func (e *Engine) reconcile() {
	for _, tr := range e.scheduler.reconcile(e.store, e.clock.Now()) {
		e.emit(tr)
	}
	e.metrics.SetResidentTurns(e.store.len())
}

func (e *Engine) resetLocked() {
	e.scheduler.Stop()
	e.scheduler.clearDisplayed()
	e.store.clear()
	e.text.clear()
	e.mode = ModeUnset
	e.clock.Reset()
	e.metrics.SetResidentTurns(0)
}

// emit hands a transcription to the dispatcher. Caller holds e.mu, which
// keeps dispatch order identical to emission order.
func (e *Engine) emit(tr Transcription) {
	e.metrics.RecordEmission(tr.Status.String(), tr.Type.String())
	e.logger.Debug().
		Int64("pts", e.clock.Now()).
		Int64("turn_id", tr.TurnID).
		Str("status", tr.Status.String()).
		Str("type", tr.Type.String()).
		Str("text", tr.Text).
		Msg("Transcription updated")

	if e.handler == nil {
		return
	}
	handler := e.handler
	e.dispatcher.Post(func() { handler(tr) })
}

func (e *Engine) onEvict(turnID int64, cause string) {
	e.metrics.RecordEviction(cause)
	e.logger.Debug().
		Int64("turn_id", turnID).
		Str("cause", cause).
		Msg("Turn evicted")
}

func (e *Engine) drop(reason string, m message.Message) {
	e.metrics.RecordDrop(reason)
	e.logger.Debug().
		Str("reason", reason).
		Str("kind", m.Kind().String()).
		Int64("turn_id", m.Turn()).
		Msg("Discarding message")
}

func (e *Engine) reject(err error) {
	e.metrics.RecordDrop(message.Reason(err))
	if message.IsDiagnostic(err) {
		e.logger.Warn().Err(err).Msg("Rejected channel message")
		return
	}
	e.logger.Debug().Err(err).Msg("Ignored channel message")
}
