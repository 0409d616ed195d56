package queue

import (
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config groups the executor tunables. LoadConfig reads them from
// SWITCHBOARD_QUEUE_* variables, e.g. SWITCHBOARD_QUEUE_SHARDS=32.
//
// Shards partitions the lane table and labels the metrics. QueueSize bounds
// each key's lane.
type Config struct {
	Shards         int           `envconfig:"SHARDS"          default:"16"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"128"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"5s"`

	// ErrorHandler is called after a job finally fails or is skipped
	// because its context ended. Optional.
	ErrorHandler func(error) `envconfig:"-"`
	Logger       *slog.Logger `envconfig:"-"`
}

// EnvPrefix is the environment prefix LoadConfig uses.
const EnvPrefix = "SWITCHBOARD_QUEUE"

// LoadConfig populates Config from the environment.
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process(EnvPrefix, &c)
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 16
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
