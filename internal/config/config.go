package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lexiqai/caption-sync/internal/subtitle"
)

// Config holds all configuration for the caption sync service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only for logging the WebSocket endpoint.
	// Optional; if unset, logs ws://localhost:PORT/streams/captions.
	PublicURL string `envconfig:"CAPTION_SYNC_URL" default:""`

	// Allowed WebSocket origins; empty allows any origin
	AllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`

	// Subtitle engine configuration
	RenderMode           string `envconfig:"RENDER_MODE" default:"word"`          // word or text
	TurnCapacity         int    `envconfig:"TURN_CAPACITY" default:"5"`           // Agent turns kept in the buffer
	TickIntervalMs       int    `envconfig:"TICK_INTERVAL_MS" default:"200"`      // Word mode reconciliation period
	PresentationOffsetMs int    `envconfig:"PRESENTATION_OFFSET_MS" default:"20"` // Added to every playback position

	// Outbound WebSocket configuration
	OutboundQueueSize int `envconfig:"OUTBOUND_QUEUE_SIZE" default:"256"` // Frames buffered per client
	WriteTimeout      int `envconfig:"WS_WRITE_TIMEOUT" default:"10"`     // seconds

	// Transcript archive (Kafka) configuration
	ArchiveEnabled    bool     `envconfig:"ARCHIVE_ENABLED" default:"false"`
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic        string   `envconfig:"KAFKA_TOPIC" default:"caption-transcripts"`
	KafkaWriteTimeout int      `envconfig:"KAFKA_WRITE_TIMEOUT" default:"5"` // seconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges that struct tags cannot express
func (c *Config) Validate() error {
	if _, err := subtitle.ParseRenderMode(c.RenderMode); err != nil {
		return fmt.Errorf("RENDER_MODE: %w", err)
	}
	if c.TurnCapacity <= 0 {
		return fmt.Errorf("TURN_CAPACITY must be positive, got %d", c.TurnCapacity)
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive, got %d", c.TickIntervalMs)
	}
	if c.PresentationOffsetMs < 0 {
		return fmt.Errorf("PRESENTATION_OFFSET_MS must not be negative, got %d", c.PresentationOffsetMs)
	}
	if c.OutboundQueueSize <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE_SIZE must be positive, got %d", c.OutboundQueueSize)
	}
	if c.ArchiveEnabled && (len(c.KafkaBrokers) == 0 || c.KafkaTopic == "") {
		return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when ARCHIVE_ENABLED is set")
	}
	return nil
}

// SubtitleOptions projects the engine settings into subtitle options.
// An explicit mode overrides RENDER_MODE when non-empty.
func (c *Config) SubtitleOptions(mode string) (subtitle.Options, error) {
	if mode == "" {
		mode = c.RenderMode
	}
	preferred, err := subtitle.ParseRenderMode(mode)
	if err != nil {
		return subtitle.Options{}, err
	}

	return subtitle.Options{
		PreferredMode:  preferred,
		Capacity:       c.TurnCapacity,
		TickInterval:   time.Duration(c.TickIntervalMs) * time.Millisecond,
		CompensationMs: int64(c.PresentationOffsetMs),
	}, nil
}
