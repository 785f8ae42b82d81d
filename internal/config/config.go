// Package config loads and validates servicegraph configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/servicegraph/internal/registrar"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Registrar RegistrarConfig `mapstructure:"registrar"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig controls the introspection HTTP server.
type ServerConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RegistrarConfig governs orchestration behavior.
type RegistrarConfig struct {
	Parallel          bool          `mapstructure:"parallel"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	GroupByPriority   bool          `mapstructure:"group_by_priority"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	ContinueOnError   bool          `mapstructure:"continue_on_error"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout"`
}

// EventsConfig governs the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SERVICEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enabled", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("registrar.parallel", false)
	v.SetDefault("registrar.chunk_size", 4)
	v.SetDefault("registrar.group_by_priority", false)
	v.SetDefault("registrar.max_retries", 3)
	v.SetDefault("registrar.backoff_base", "100ms")
	v.SetDefault("registrar.backoff_multiplier", 2.0)
	v.SetDefault("registrar.backoff_max", "5s")
	v.SetDefault("registrar.continue_on_error", false)
	v.SetDefault("registrar.default_timeout", "30s")
	v.SetDefault("registrar.health_timeout", "5s")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.flush_interval", "250ms")
	v.SetDefault("events.sink_timeout", "5s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Registrar.ChunkSize <= 0 {
		return fmt.Errorf("registrar.chunk_size must be > 0")
	}
	if c.Registrar.MaxRetries <= 0 {
		return fmt.Errorf("registrar.max_retries must be > 0")
	}
	if c.Registrar.BackoffMultiplier <= 1 {
		return fmt.Errorf("registrar.backoff_multiplier must be > 1")
	}
	if c.Registrar.BackoffMax < c.Registrar.BackoffBase {
		return fmt.Errorf("registrar.backoff_max must be >= registrar.backoff_base")
	}
	if c.Registrar.DefaultTimeout <= 0 {
		return fmt.Errorf("registrar.default_timeout must be > 0")
	}
	return nil
}

// Options converts the registrar section into registrar.Options.
func (c Config) Options() registrar.Options {
	return registrar.Options{
		Parallel:          c.Registrar.Parallel,
		ChunkSize:         c.Registrar.ChunkSize,
		GroupByPriority:   c.Registrar.GroupByPriority,
		MaxRetries:        c.Registrar.MaxRetries,
		BackoffBase:       c.Registrar.BackoffBase,
		BackoffMultiplier: c.Registrar.BackoffMultiplier,
		BackoffMax:        c.Registrar.BackoffMax,
		ContinueOnError:   c.Registrar.ContinueOnError,
		DefaultTimeout:    c.Registrar.DefaultTimeout,
		HealthTimeout:     c.Registrar.HealthTimeout,
	}
}
