package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/caption-sync/internal/config"
	"github.com/lexiqai/caption-sync/internal/observability"
	"github.com/rs/zerolog"
)

// Server accepts caption WebSocket connections and tracks live sessions so
// they can be closed on shutdown
type Server struct {
	cfg      *config.Config
	archiver Archiver
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[*CaptionSession]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewServer creates a Server. archiver may be nil.
func NewServer(cfg *config.Config, archiver Archiver) *Server {
	s := &Server{
		cfg:      cfg,
		archiver: archiver,
		logger:   observability.WithContext(map[string]interface{}{"component": "gateway"}),
		sessions: make(map[*CaptionSession]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

// checkOrigin allows any origin unless WS_ALLOWED_ORIGINS lists some
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := false
	for _, o := range s.cfg.AllowedOrigins {
		if o == "" {
			continue
		}
		allowed = true
		if o == "*" || o == origin {
			return true
		}
	}
	return !allowed
}

// HandleCaptionsWS is the entry point for caption WebSocket connections.
// The optional render_mode query parameter overrides RENDER_MODE and
// publisher_id names the speaker for messages without a user_id.
func (s *Server) HandleCaptionsWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts, err := s.cfg.SubtitleOptions(query.Get("render_mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if closing {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	session := NewCaptionSession(
		conn,
		opts,
		query.Get("publisher_id"),
		s.cfg.OutboundQueueSize,
		time.Duration(s.cfg.WriteTimeout)*time.Second,
		s.archiver,
	)
	if !s.track(session) {
		// Shutdown began after the upgrade; Run winds down immediately
		session.Stop()
	}
	defer s.untrack(session)

	s.logger.Info().
		Str("session_id", session.SessionID()).
		Str("render_mode", opts.PreferredMode.String()).
		Str("remote_addr", r.RemoteAddr).
		Msg("New caption WebSocket connection established")

	session.Run()
}

func (s *Server) track(session *CaptionSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.sessions[session] = struct{}{}
	return true
}

func (s *Server) untrack(session *CaptionSession) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// ActiveSessions returns the number of connected clients
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting sessions, closes the live ones and waits for
// them to finish or ctx to expire. http.Server.Shutdown does not track
// hijacked connections, so this must be called alongside it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := make([]*CaptionSession, 0, len(s.sessions))
	for session := range s.sessions {
		live = append(live, session)
	}
	s.mu.Unlock()

	s.logger.Info().Int("sessions", len(live)).Msg("Closing caption sessions")
	for _, session := range live {
		session.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
