package config

import (
	"os"
	"testing"
	"time"

	"github.com/lexiqai/caption-sync/internal/subtitle"
)

func TestLoad(t *testing.T) {
	os.Setenv("RENDER_MODE", "text")
	os.Setenv("TURN_CAPACITY", "8")
	defer os.Unsetenv("RENDER_MODE")
	defer os.Unsetenv("TURN_CAPACITY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RenderMode != "text" {
		t.Errorf("Expected RenderMode 'text', got '%s'", cfg.RenderMode)
	}

	if cfg.TurnCapacity != 8 {
		t.Errorf("Expected TurnCapacity 8, got %d", cfg.TurnCapacity)
	}
}

func TestLoad_InvalidRenderMode(t *testing.T) {
	os.Setenv("RENDER_MODE", "karaoke")
	defer os.Unsetenv("RENDER_MODE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unknown render mode")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("RENDER_MODE")
	os.Unsetenv("TURN_CAPACITY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.RenderMode != "word" {
		t.Errorf("Expected default RenderMode 'word', got '%s'", cfg.RenderMode)
	}

	if cfg.TurnCapacity != 5 {
		t.Errorf("Expected default TurnCapacity 5, got %d", cfg.TurnCapacity)
	}

	if cfg.TickIntervalMs != 200 {
		t.Errorf("Expected default TickIntervalMs 200, got %d", cfg.TickIntervalMs)
	}

	if cfg.PresentationOffsetMs != 20 {
		t.Errorf("Expected default PresentationOffsetMs 20, got %d", cfg.PresentationOffsetMs)
	}

	if cfg.OutboundQueueSize != 256 {
		t.Errorf("Expected default OutboundQueueSize 256, got %d", cfg.OutboundQueueSize)
	}

	if cfg.ArchiveEnabled {
		t.Error("Expected archive disabled by default")
	}

	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("Expected default KafkaBrokers [localhost:9092], got %v", cfg.KafkaBrokers)
	}

	if cfg.KafkaTopic != "caption-transcripts" {
		t.Errorf("Expected default KafkaTopic 'caption-transcripts', got '%s'", cfg.KafkaTopic)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	os.Setenv("ARCHIVE_ENABLED", "true")
	defer os.Unsetenv("KAFKA_BROKERS")
	defer os.Unsetenv("ARCHIVE_ENABLED")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("Expected two brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			RenderMode:        "word",
			TurnCapacity:      5,
			TickIntervalMs:    200,
			OutboundQueueSize: 16,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero capacity", func(c *Config) { c.TurnCapacity = 0 }, true},
		{"zero tick", func(c *Config) { c.TickIntervalMs = 0 }, true},
		{"negative offset", func(c *Config) { c.PresentationOffsetMs = -1 }, true},
		{"zero queue", func(c *Config) { c.OutboundQueueSize = 0 }, true},
		{"bad mode", func(c *Config) { c.RenderMode = "" }, true},
		{"archive without topic", func(c *Config) {
			c.ArchiveEnabled = true
			c.KafkaBrokers = []string{"localhost:9092"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SubtitleOptions(t *testing.T) {
	cfg := Config{
		RenderMode:           "word",
		TurnCapacity:         7,
		TickIntervalMs:       100,
		PresentationOffsetMs: 35,
	}

	opts, err := cfg.SubtitleOptions("")
	if err != nil {
		t.Fatalf("SubtitleOptions() failed: %v", err)
	}
	if opts.PreferredMode != subtitle.ModeWord {
		t.Errorf("Expected word mode, got %s", opts.PreferredMode)
	}
	if opts.Capacity != 7 || opts.TickInterval != 100*time.Millisecond || opts.CompensationMs != 35 {
		t.Errorf("Unexpected options: %+v", opts)
	}

	opts, err = cfg.SubtitleOptions("text")
	if err != nil {
		t.Fatalf("SubtitleOptions() failed: %v", err)
	}
	if opts.PreferredMode != subtitle.ModeText {
		t.Errorf("Expected override to text mode, got %s", opts.PreferredMode)
	}

	if _, err := cfg.SubtitleOptions("bogus"); err == nil {
		t.Error("Expected error for unknown mode override")
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
