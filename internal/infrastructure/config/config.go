package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the process-level settings of a run.
type Config struct {
	Run     RunConfig
	World   WorldConfig
	Logging LogConfig
	Timing  TimingConfig
	Status  StatusConfig
}

// RunConfig holds pipeline run settings.
type RunConfig struct {
	// GroupSize is the number of processes per group; 0 means the whole world.
	GroupSize        int      `envconfig:"TELESIM_GROUP_SIZE" default:"0"`
	FocalplanePixels int      `envconfig:"TELESIM_FOCALPLANE_PIXELS" default:"1"`
	ConfigFiles      []string `envconfig:"TELESIM_CONFIG"`
	ConfigOut        string   `envconfig:"TELESIM_CONFIG_OUT" default:"telesim_config_log.toml"`
	MetricsFile      string   `envconfig:"TELESIM_METRICS_FILE"`
}

// WorldConfig selects how the processes of a run find each other.
type WorldConfig struct {
	Mode         string        `envconfig:"TELESIM_WORLD_MODE" default:"single"`
	Size         int           `envconfig:"TELESIM_WORLD_SIZE" default:"1"`
	Rank         int           `envconfig:"TELESIM_WORLD_RANK" default:"0"`
	Coordinator  string        `envconfig:"TELESIM_COORDINATOR_ADDR" default:"localhost:50061"`
	JobID        string        `envconfig:"TELESIM_JOB_ID"`
	JoinTimeout  time.Duration `envconfig:"TELESIM_JOIN_TIMEOUT" default:"30s"`
	JoinAttempts int           `envconfig:"TELESIM_JOIN_ATTEMPTS" default:"50"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"TELESIM_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"TELESIM_LOG_DEV" default:"false"`
}

// TimingConfig controls the timing report written by world rank 0.
type TimingConfig struct {
	Out         string `envconfig:"TELESIM_TIMING_OUT" default:"telesim_timing"`
	Compression string `envconfig:"TELESIM_TIMING_COMPRESSION" default:"none"`
}

// StatusConfig holds the optional status server settings.
type StatusConfig struct {
	Addr        string   `envconfig:"TELESIM_STATUS_ADDR"`
	CORSOrigins []string `envconfig:"TELESIM_STATUS_CORS_ORIGINS" default:"*"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit      float64       `envconfig:"TELESIM_STATUS_RATE_LIMIT" default:"50"`
	MaxConns       int           `envconfig:"TELESIM_STATUS_MAX_CONNS" default:"64"`
	StreamInterval time.Duration `envconfig:"TELESIM_STATUS_STREAM_INTERVAL" default:"1s"`
}

// World modes.
const (
	ModeSingle = "single"
	ModeLocal  = "local"
	ModeGRPC   = "grpc"
)

// LoadEnv loads configuration from environment variables.
func LoadEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := LoadEnv()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			FocalplanePixels: 1,
			ConfigOut:        "telesim_config_log.toml",
		},
		World: WorldConfig{
			Mode:         ModeSingle,
			Size:         1,
			Coordinator:  "localhost:50061",
			JoinTimeout:  30 * time.Second,
			JoinAttempts: 50,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Timing: TimingConfig{
			Out:         "telesim_timing",
			Compression: "none",
		},
		Status: StatusConfig{
			CORSOrigins:    []string{"*"},
			RateLimit:      50,
			MaxConns:       64,
			StreamInterval: time.Second,
		},
	}
}

// Validate checks the settings that can be checked without a world.
func (c *Config) Validate() error {
	switch c.World.Mode {
	case ModeSingle, ModeLocal, ModeGRPC:
	default:
		return fmt.Errorf("unknown world mode %q", c.World.Mode)
	}
	if c.World.Size < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", c.World.Size)
	}
	if c.World.Rank < 0 || c.World.Rank >= c.World.Size {
		return fmt.Errorf("world rank %d out of range [0, %d)", c.World.Rank, c.World.Size)
	}
	if c.Status.RateLimit < 0 {
		return fmt.Errorf("status rate limit must not be negative, got %g", c.Status.RateLimit)
	}
	if c.Run.GroupSize < 0 {
		return fmt.Errorf("group size must not be negative, got %d", c.Run.GroupSize)
	}
	return nil
}
