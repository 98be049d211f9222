// Package gateway serves caption sessions over WebSocket. Each connection
// owns one subtitle engine fed by the frames the client sends.
package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/caption-sync/internal/archive"
	"github.com/lexiqai/caption-sync/internal/message"
	"github.com/lexiqai/caption-sync/internal/observability"
	"github.com/lexiqai/caption-sync/internal/subtitle"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to read the next pong from the client
	pongWait = 60 * time.Second

	// Send pings at this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024
)

// Archiver stores finished captions. *archive.Publisher implements it.
type Archiver interface {
	Submit(rec archive.Record) bool
}

// CaptionSession holds the state of a single captioning client
type CaptionSession struct {
	// Connection
	conn *websocket.Conn

	// Session identifiers
	sessionID   string
	publisherID string

	engine   *subtitle.Engine
	archiver Archiver

	// Frames waiting for the writer goroutine
	outbound     chan any
	writeTimeout time.Duration

	// State management
	mu       sync.RWMutex
	isActive bool

	// Observability
	metrics *observability.Metrics
	logger  zerolog.Logger

	// Control channels
	writerDone chan struct{}
	closeOnce  sync.Once
}

// NewCaptionSession creates a session around an upgraded connection. The
// Handler, OnInterrupt, Logger and Metrics fields of opts are replaced.
func NewCaptionSession(conn *websocket.Conn, opts subtitle.Options, publisherID string, queueSize int, writeTimeout time.Duration, archiver Archiver) *CaptionSession {
	sessionID := observability.NewSessionID()
	logger := observability.WithSession(sessionID).
		With().
		Str("publisher_id", publisherID).
		Logger()

	metrics := observability.NewSessionMetrics()
	metrics.RecordSessionStart()

	if queueSize <= 0 {
		queueSize = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	s := &CaptionSession{
		conn:         conn,
		sessionID:    sessionID,
		publisherID:  publisherID,
		archiver:     archiver,
		outbound:     make(chan any, queueSize),
		writeTimeout: writeTimeout,
		isActive:     true,
		metrics:      metrics,
		logger:       logger,
		writerDone:   make(chan struct{}),
	}

	opts.Handler = s.onTranscription
	opts.OnInterrupt = s.onInterrupt
	opts.Logger = &logger
	opts.Metrics = metrics
	s.engine = subtitle.New(opts)
	s.engine.AddDetach(func() { s.setActive(false) })

	return s
}

// Run serves the connection until the client leaves, sends session.stop or
// the session is stopped. The connection is closed on return.
func (s *CaptionSession) Run() {
	s.logger.Info().Msg("Caption session started")

	go s.writeLoop()
	s.readLoop()
	s.close()

	s.logger.Info().Msg("Caption session ended")
}

// Stop asks the client to go away and unblocks Run
func (s *CaptionSession) Stop() {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	_ = s.conn.Close()
}

// close tears down the engine first so every pending transcription reaches
// the outbound queue before the writer drains it
func (s *CaptionSession) close() {
	s.closeOnce.Do(func() {
		s.engine.Close()
		close(s.outbound)
		<-s.writerDone
		_ = s.conn.Close()
		s.metrics.RecordSessionEnd()
	})
}

func (s *CaptionSession) readLoop() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if stop := s.handleFrame(payload); stop {
			return
		}
	}
}

// handleFrame applies one client frame and reports whether the client
// asked to end the session
func (s *CaptionSession) handleFrame(payload []byte) bool {
	raw, err := message.DecodePayload(payload)
	if err != nil {
		s.metrics.RecordDrop(message.Reason(err))
		s.logger.Warn().Err(err).Msg("Failed to parse client frame")
		return false
	}

	object, _ := raw["object"].(string)
	if !isControlObject(object) {
		// Rejections are logged and counted by the engine
		_ = s.engine.HandleMessage(raw, s.publisherID)
		return false
	}

	frame, err := decodeControl(raw)
	if err != nil {
		s.metrics.RecordError("malformed_control", "gateway")
		s.logger.Warn().Err(err).Msg("Invalid control frame")
		return false
	}

	switch frame.Object {
	case ObjectPlaybackPosition:
		s.engine.OnPlaybackPosition(frame.PresentationMs)
	case ObjectSessionReset:
		s.engine.Reset()
	case ObjectSessionEnable:
		s.engine.Enable(*frame.Enabled)
	case ObjectSessionStop:
		s.logger.Info().Msg("Client stopped caption session")
		return true
	}
	return false
}

// onTranscription runs on the engine's dispatcher goroutine
func (s *CaptionSession) onTranscription(tr subtitle.Transcription) {
	if tr.Status.Terminal() && s.archiver != nil {
		s.archiver.Submit(archive.NewRecord(s.sessionID, tr))
	}
	s.enqueue(newSubtitleUpdate(tr))
}

func (s *CaptionSession) onInterrupt(speakerID string, ev subtitle.InterruptEvent) {
	s.enqueue(newAgentInterrupted(speakerID, ev))
}

// enqueue never blocks the dispatcher; a client that stops reading loses
// frames rather than stalling the engine
func (s *CaptionSession) enqueue(frame any) {
	select {
	case s.outbound <- frame:
	default:
		s.metrics.RecordError("outbound_full", "gateway")
		s.logger.Warn().Msg("Outbound queue full, dropping frame")
	}
}

func (s *CaptionSession) writeLoop() {
	defer close(s.writerDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	failed := false
	for {
		select {
		case frame, ok := <-s.outbound:
			if !ok {
				if !failed {
					_ = s.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(s.writeTimeout))
				}
				return
			}
			if failed {
				continue
			}
			if err := s.writeJSON(frame); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write frame, closing connection")
				s.metrics.RecordError("write_failed", "gateway")
				failed = true
				s.setActive(false)
				// Unblocks the reader so the session winds down
				_ = s.conn.Close()
			}

		case <-ticker.C:
			if failed {
				continue
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
			}
		}
	}
}

func (s *CaptionSession) writeJSON(frame any) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

func (s *CaptionSession) setActive(active bool) {
	s.mu.Lock()
	s.isActive = active
	s.mu.Unlock()
}

// SessionID returns the session identifier used in logs and archive records
func (s *CaptionSession) SessionID() string {
	return s.sessionID
}

// IsActive reports whether the session is still serving its client
func (s *CaptionSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive
}
