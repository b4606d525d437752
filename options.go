package sagastore

import "time"

const (
	defaultMarkInitialInterval = 100 * time.Millisecond
	defaultMarkMaxInterval     = 5 * time.Second
	defaultMarkMaxElapsed      = time.Minute
)

// ProcessorConfig defines how the Processor runs units of work.
type ProcessorConfig struct {
	Logger         Logger
	Metrics        Metrics
	HandlerTimeout time.Duration
	// MarkInitialInterval, MarkMaxInterval and MarkMaxElapsed shape the exponential backoff
	// used when marking a record as dispatched.
	MarkInitialInterval time.Duration
	MarkMaxInterval     time.Duration
	MarkMaxElapsed      time.Duration
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.MarkInitialInterval <= 0 {
		c.MarkInitialInterval = defaultMarkInitialInterval
	}
	if c.MarkMaxInterval <= 0 {
		c.MarkMaxInterval = defaultMarkMaxInterval
	}
	if c.MarkMaxInterval < c.MarkInitialInterval {
		c.MarkMaxInterval = c.MarkInitialInterval
	}
	if c.MarkMaxElapsed <= 0 {
		c.MarkMaxElapsed = defaultMarkMaxElapsed
	}

	return c
}

// ProcessorOption configures Processor behavior.
type ProcessorOption func(*ProcessorConfig)

// WithLogger sets the processor logger.
func WithLogger(logger Logger) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the processor metrics recorder.
func WithMetrics(metrics Metrics) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Metrics = metrics
	}
}

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(timeout time.Duration) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithMarkBackoff sets the retry policy for marking records as dispatched.
// maxElapsed caps the total time spent retrying.
func WithMarkBackoff(initial, maxInterval, maxElapsed time.Duration) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.MarkInitialInterval = initial
		c.MarkMaxInterval = maxInterval
		c.MarkMaxElapsed = maxElapsed
	}
}
