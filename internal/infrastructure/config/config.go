package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/logging"
	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/shared/paths"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline" toml:"pipeline"`
	Logging  LogConfig      `yaml:"logging" toml:"logging"`
	Admin    AdminConfig    `yaml:"admin" toml:"admin"`
}

// PipelineConfig holds the topology and transport settings.
type PipelineConfig struct {
	Name               string `envconfig:"PIPELINE_NAME" yaml:"name" toml:"name"`
	SourceProcesses    int    `envconfig:"PIPELINE_SOURCE_PROCESSES" yaml:"source_processes" toml:"source_processes"`
	TransformProcesses int    `envconfig:"PIPELINE_TRANSFORM_PROCESSES" yaml:"transform_processes" toml:"transform_processes"`
	SinkProcesses      int    `envconfig:"PIPELINE_SINK_PROCESSES" yaml:"sink_processes" toml:"sink_processes"`

	MaxExecutions          int  `envconfig:"PIPELINE_MAX_EXECUTIONS" yaml:"max_executions" toml:"max_executions"`
	TransformMaxExecutions *int `envconfig:"PIPELINE_TRANSFORM_MAX_EXECUTIONS" yaml:"transform_max_executions" toml:"transform_max_executions"`
	SinkMaxExecutions      *int `envconfig:"PIPELINE_SINK_MAX_EXECUTIONS" yaml:"sink_max_executions" toml:"sink_max_executions"`

	QueueCapacity   int    `envconfig:"PIPELINE_QUEUE_CAPACITY" yaml:"queue_capacity" toml:"queue_capacity"`
	OverflowDir     string `envconfig:"PIPELINE_OVERFLOW_DIR" yaml:"overflow_dir" toml:"overflow_dir"`
	InlineThreshold int    `envconfig:"PIPELINE_INLINE_THRESHOLD" yaml:"inline_threshold" toml:"inline_threshold"`
	Compression     string `envconfig:"PIPELINE_COMPRESSION" yaml:"compression" toml:"compression"`

	SourceRate        float64  `envconfig:"PIPELINE_SOURCE_RATE" yaml:"source_rate" toml:"source_rate"`
	DrainTimeout      Duration `envconfig:"PIPELINE_DRAIN_TIMEOUT" yaml:"drain_timeout" toml:"drain_timeout"`
	RestartBackoff    Duration `envconfig:"PIPELINE_RESTART_BACKOFF" yaml:"restart_backoff" toml:"restart_backoff"`
	MaxRestartBackoff Duration `envconfig:"PIPELINE_MAX_RESTART_BACKOFF" yaml:"max_restart_backoff" toml:"max_restart_backoff"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// AdminConfig holds the admin HTTP server configuration.
type AdminConfig struct {
	Enabled        bool     `envconfig:"ADMIN_ENABLED" yaml:"enabled" toml:"enabled"`
	Addr           string   `envconfig:"ADMIN_ADDR" yaml:"addr" toml:"addr"`
	RateLimitRPS   int      `envconfig:"ADMIN_RATE_LIMIT_RPS" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst int      `envconfig:"ADMIN_RATE_LIMIT_BURST" yaml:"rate_limit_burst" toml:"rate_limit_burst"`
	AllowedOrigins []string `envconfig:"ADMIN_ALLOWED_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins"`
}

// Duration is a time.Duration read from strings such as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Name:               pipeline.DefaultQueueName,
			SourceProcesses:    1,
			TransformProcesses: 5,
			SinkProcesses:      1,
			MaxExecutions:      pipeline.DefaultMaxExecutions,
			QueueCapacity:      pipeline.DefaultQueueCapacity,
			OverflowDir:        paths.OverflowRoot(),
			InlineThreshold:    transport.DefaultInlineThreshold,
			Compression:        string(transport.CompressionNone),
			DrainTimeout:       Duration(pipeline.DefaultDrainTimeout),
			RestartBackoff:     Duration(pipeline.DefaultRestartBackoff),
			MaxRestartBackoff:  Duration(pipeline.DefaultMaxRestartBackoff),
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Admin: AdminConfig{
			Enabled:        false,
			Addr:           ":9090",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads defaults, then the YAML or TOML file at path (if any), then
// environment variables. Variables that are unset leave earlier values alone.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file type %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// PipelineConfig converts the settings into a validated pipeline.Config.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	p := c.Pipeline

	compression, err := transport.ParseCompression(p.Compression)
	if err != nil {
		return pipeline.Config{}, &pipeline.ConfigurationError{Field: "compression", Reason: "unsupported", Err: err}
	}

	pool := func(processes, maxExecutions int) pipeline.PoolConfig {
		return pipeline.PoolConfig{
			Processes:         processes,
			MaxExecutions:     maxExecutions,
			QueueCapacity:     p.QueueCapacity,
			RestartBackoff:    p.RestartBackoff.Std(),
			MaxRestartBackoff: p.MaxRestartBackoff.Std(),
		}
	}

	transformMax, sinkMax := p.MaxExecutions, p.MaxExecutions
	if p.TransformMaxExecutions != nil {
		transformMax = *p.TransformMaxExecutions
	}
	if p.SinkMaxExecutions != nil {
		sinkMax = *p.SinkMaxExecutions
	}

	cfg := pipeline.Config{
		QueueName:       p.Name,
		Source:          pool(p.SourceProcesses, 0),
		Transform:       pool(p.TransformProcesses, transformMax),
		Sink:            pool(p.SinkProcesses, sinkMax),
		OverflowDir:     p.OverflowDir,
		InlineThreshold: p.InlineThreshold,
		Compression:     compression,
		SourceRateLimit: p.SourceRate,
		DrainTimeout:    p.DrainTimeout.Std(),
	}

	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// LoggerConfig converts the logging settings.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Development {
		cfg = logging.DevelopmentConfig()
	}
	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	return cfg
}
