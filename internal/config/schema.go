package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version"`
	Server    ServerConf    `yaml:"server"`
	Store     StoreConf     `yaml:"store"`
	Delivery  DeliveryConf  `yaml:"delivery"`
	Scheduler SchedulerConf `yaml:"scheduler"`
	Sink      SinkConf      `yaml:"sink"`
	Hooks     HooksConf     `yaml:"hooks"`
	Limits    LimitsConf    `yaml:"limits"`
}

// ServerConf configures the operational HTTP surface.
type ServerConf struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConf picks the event store backend. Driver is "sqlite" or "postgres".
type StoreConf struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DeliveryConf tunes the coordinator. Batch sizes hot-reload.
type DeliveryConf struct {
	FlushBatch     int           `yaml:"flush_batch"`
	RetryBatch     int           `yaml:"retry_batch"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	// StaleAfter is how long an event may sit in_flight before startup or a
	// retry hands it back to the retry path.
	StaleAfter     time.Duration `yaml:"stale_after"`
}

// SchedulerConf drives automatic flush and retry. Off unless Enabled.
type SchedulerConf struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
}

// SinkConf points at the recommendation service.
type SinkConf struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// HooksConf configures cold-start notifications. With no NATSURL they are
// written to the log.
type HooksConf struct {
	Enabled   bool          `yaml:"enabled"`
	NATSURL   string        `yaml:"nats_url"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Rules     []HookRule    `yaml:"rules"`
}

// HookRule is a named match expression.
type HookRule struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`
}

// LimitsConf bounds the create endpoint.
type LimitsConf struct {
	MaxBatch        int   `yaml:"max_batch"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
	CreatePerMinute int   `yaml:"create_per_minute"`
}
