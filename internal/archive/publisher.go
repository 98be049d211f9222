// Package archive publishes finished captions to Kafka for later retrieval.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/caption-sync/internal/observability"
	"github.com/lexiqai/caption-sync/internal/resilience"
	"github.com/lexiqai/caption-sync/internal/subtitle"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Record is the archived form of a terminal transcription
type Record struct {
	SessionID string    `json:"session_id"`
	TurnID    int64     `json:"turn_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord builds a Record for a transcription emitted in a session
func NewRecord(sessionID string, tr subtitle.Transcription) Record {
	return Record{
		SessionID: sessionID,
		TurnID:    tr.TurnID,
		UserID:    tr.SpeakerID,
		Text:      tr.Text,
		Status:    tr.Status.String(),
		Type:      tr.Type.String(),
		Timestamp: time.Now().UTC(),
	}
}

// Key partitions records by session so a session's captions stay ordered
func (r Record) Key() string {
	return r.SessionID
}

// messageWriter is the subset of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	Topic        string
	Enabled      bool
	WriteTimeout time.Duration
	QueueSize    int

	Breaker   *resilience.CircuitBreaker
	Retry     *resilience.RetryConfig
	Reconnect *resilience.ReconnectConfig
}

// Publisher archives terminal transcriptions. Submit never blocks; a single
// worker writes records in submission order.
type Publisher struct {
	writer    messageWriter
	brokers   []string
	topic     string
	enabled   bool
	timeout   time.Duration
	breaker   *resilience.CircuitBreaker
	retry     *resilience.RetryConfig
	reconnect *resilience.ReconnectConfig
	logger    zerolog.Logger

	// dialCheck checks broker reachability; replaced in tests
	dialCheck func(ctx context.Context) error

	mu        sync.RWMutex
	closed    bool
	queue     chan Record
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates a publisher. With archiving disabled or no brokers it runs in
// log-only mode.
func New(cfg *Config, logger zerolog.Logger) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	logger = logger.With().Str("component", "archive").Logger()

	p := &Publisher{
		brokers:   cfg.Brokers,
		topic:     cfg.Topic,
		timeout:   cfg.WriteTimeout,
		breaker:   cfg.Breaker,
		retry:     cfg.Retry,
		reconnect: cfg.Reconnect,
		logger:    logger,
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	if p.breaker == nil {
		p.breaker = resilience.NewCircuitBreaker("kafka", 5, 30*time.Second)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	p.queue = make(chan Record, queueSize)
	p.dialCheck = p.ping

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Transcript archive disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: p.timeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Transcript archive initialized")

	return p
}

// Enabled reports whether records are written to Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Connect waits until a broker accepts connections, backing off between
// attempts. A reachable broker closes the circuit breaker, so writes resume
// without waiting out the reset timeout.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if err := resilience.Reconnect(ctx, p.dialCheck, p.reconnect, p.logger); err != nil {
		return err
	}
	if p.breaker.GetState() != resilience.StateClosed {
		p.logBreaker(p.logger.Info(), "Kafka reachable, closing archive circuit breaker")
		p.breaker.Reset()
	}
	return nil
}

// HealthCheck reports whether the archive can currently accept writes
func (p *Publisher) HealthCheck(ctx context.Context) (bool, error) {
	if !p.enabled {
		return true, nil
	}
	if state, _, failures, rate := p.breaker.GetStats(); state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %d failed writes (%.1f%%)", resilience.ErrCircuitOpen, failures, rate)
	}
	if err := p.dialCheck(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Publisher) ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Start launches the background writer. It stops once Close drains the queue.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
}

// Submit enqueues a record for archiving. Records are dropped with a
// warning when the queue is full or the publisher is closed.
func (p *Publisher) Submit(rec Record) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- rec:
		return true
	default:
		p.logger.Warn().
			Str("session_id", rec.SessionID).
			Int64("turn_id", rec.TurnID).
			Msg("Archive queue full, dropping record")
		observability.RecordArchiveWrite(false)
		return false
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	for rec := range p.queue {
		if err := p.Publish(ctx, rec); err != nil {
			p.logBreaker(p.logger.Error().
				Err(err).
				Str("session_id", rec.SessionID).
				Int64("turn_id", rec.TurnID), "Failed to archive transcription")
		}
	}
}

// Publish writes one record, retrying transient failures behind the
// circuit breaker
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("key", rec.Key()).
		RawJSON("payload", payload).
		Msg("Publishing transcription")

	// If Kafka is disabled, just log
	if !p.enabled || p.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(rec.Key()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(rec.Status)},
			{Key: "type", Value: []byte(rec.Type)},
		},
	}

	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return p.breaker.Execute(ctx, func(ctx context.Context) error {
			writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			return classifyWriteError(p.writer.WriteMessages(writeCtx, msg))
		})
	}, p.retry, resilience.IsRetryableNetworkError)

	observability.RecordArchiveWrite(err == nil)
	if err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}
	return nil
}

// classifyWriteError marks errors kafka-go reports as temporary so the
// retry loop does not depend on message matching for them
func classifyWriteError(err error) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) && kerr.Temporary() {
		return resilience.NewRetryableError(err)
	}
	return err
}

func (p *Publisher) logBreaker(ev *zerolog.Event, msg string) {
	state, requests, failures, rate := p.breaker.GetStats()
	ev.Str("breaker_state", state.String()).
		Int64("breaker_requests", requests).
		Int64("breaker_failures", failures).
		Float64("breaker_failure_rate", rate).
		Msg(msg)
}

// Close stops accepting records, flushes the queue and closes the writer
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Error closing archive writer")
			return err
		}
	}
	return nil
}
