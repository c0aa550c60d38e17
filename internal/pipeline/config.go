package pipeline

import (
	"time"

	"github.com/GriffinCanCode/assemblyline/internal/shared/paths"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// Defaults
const (
	DefaultQueueName         = "assemblyline"
	DefaultQueueCapacity     = 1024
	DefaultMaxExecutions     = 16000
	DefaultRestartBackoff    = 100 * time.Millisecond
	DefaultMaxRestartBackoff = 10 * time.Second
	DefaultDrainTimeout      = 30 * time.Second
)

// PoolConfig configures the pool of one role
type PoolConfig struct {
	Processes int
	// MaxExecutions retires a worker after this many messages; 0 is unlimited
	MaxExecutions int
	// QueueCapacity bounds the pool's inbound channel
	QueueCapacity     int
	RestartBackoff    time.Duration
	MaxRestartBackoff time.Duration
}

// Config configures a pipeline run. It is copied by New and immutable after.
type Config struct {
	// QueueName namespaces the overflow directory so pipelines don't collide
	QueueName string

	Source    PoolConfig
	Transform PoolConfig
	Sink      PoolConfig

	OverflowDir     string
	InlineThreshold int
	Compression     transport.Compression

	// SourceRateLimit caps source sends per second across the pool; 0 is unlimited
	SourceRateLimit float64
	DrainTimeout    time.Duration
}

// DefaultPoolConfig returns a pool config with the given process count
func DefaultPoolConfig(processes int) PoolConfig {
	return PoolConfig{
		Processes:         processes,
		MaxExecutions:     DefaultMaxExecutions,
		QueueCapacity:     DefaultQueueCapacity,
		RestartBackoff:    DefaultRestartBackoff,
		MaxRestartBackoff: DefaultMaxRestartBackoff,
	}
}

// DefaultConfig returns the 1/5/1 topology
func DefaultConfig() Config {
	return Config{
		QueueName:       DefaultQueueName,
		Source:          DefaultPoolConfig(1),
		Transform:       DefaultPoolConfig(5),
		Sink:            DefaultPoolConfig(1),
		OverflowDir:     paths.OverflowRoot(),
		InlineThreshold: transport.DefaultInlineThreshold,
		Compression:     transport.CompressionNone,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// Pool returns the pool config of role
func (c Config) Pool(role Role) PoolConfig {
	switch role {
	case RoleSource:
		return c.Source
	case RoleTransform:
		return c.Transform
	default:
		return c.Sink
	}
}

// Validate checks the topology
func (c Config) Validate() error {
	if !paths.IsSafeName(c.QueueName) {
		return configErr("queue_name", "%q is not a safe directory name", c.QueueName)
	}

	for _, role := range Roles {
		pc := c.Pool(role)
		field := role.String()

		if pc.Processes < 1 {
			return configErr(field+".processes", "must be at least 1, got %d", pc.Processes)
		}
		if pc.MaxExecutions < 0 {
			return configErr(field+".max_executions", "must not be negative, got %d", pc.MaxExecutions)
		}
		if role != RoleSource && pc.QueueCapacity < 1 {
			return configErr(field+".queue_capacity", "must be at least 1, got %d", pc.QueueCapacity)
		}
		if pc.RestartBackoff < 0 || pc.MaxRestartBackoff < 0 {
			return configErr(field+".restart_backoff", "must not be negative")
		}
		if pc.MaxRestartBackoff > 0 && pc.RestartBackoff > pc.MaxRestartBackoff {
			return configErr(field+".restart_backoff", "%s exceeds max %s", pc.RestartBackoff, pc.MaxRestartBackoff)
		}
	}

	if c.OverflowDir == "" {
		return configErr("overflow_dir", "must be set")
	}
	if c.InlineThreshold < 0 {
		return configErr("inline_threshold", "must not be negative, got %d", c.InlineThreshold)
	}
	if _, err := transport.ParseCompression(string(c.Compression)); err != nil {
		return &ConfigurationError{Field: "compression", Reason: "unsupported", Err: err}
	}
	if c.SourceRateLimit < 0 {
		return configErr("source_rate_limit", "must not be negative, got %g", c.SourceRateLimit)
	}
	if c.DrainTimeout < 0 {
		return configErr("drain_timeout", "must not be negative, got %s", c.DrainTimeout)
	}

	return nil
}
