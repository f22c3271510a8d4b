package config

import "time"

// Config is the root configuration for a feedsync instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Feed     FeedConfig     `yaml:"feed"`
	Trades   TradesConfig   `yaml:"trades"`
	Clock    ClockConfig    `yaml:"clock"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Writers  WritersConfig  `yaml:"writers"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this collector.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ExchangeConfig holds exchange endpoints and the tracked symbols.
type ExchangeConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"` // Optional, sent as X-MEXC-APIKEY
	Symbols    []string      `yaml:"symbols"`
	DepthLimit int           `yaml:"depth_limit"` // REST snapshot depth
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"` // Default 3; 0 disables retries
}

// Retries returns the configured retry count for REST requests.
func (e ExchangeConfig) Retries() int {
	if e.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *e.MaxRetries
}

// FeedConfig holds session and synchronization settings.
type FeedConfig struct {
	Interval               string        `yaml:"interval"`    // Push aggregation interval, e.g. "100ms"
	LimitDepth             int           `yaml:"limit_depth"` // 5, 10 or 20 to also subscribe to top-N snapshots; 0 disables
	PingInterval           time.Duration `yaml:"ping_interval"`
	SubscribeTimeout       time.Duration `yaml:"subscribe_timeout"`
	ReadTimeout            time.Duration `yaml:"read_timeout"`
	ReconnectBaseDelay     time.Duration `yaml:"reconnect_base_delay"`
	ReconnectCapMultiplier int           `yaml:"reconnect_cap_multiplier"`
	ReconnectJitter        float64       `yaml:"reconnect_jitter"`
	SustainedSession       time.Duration `yaml:"sustained_session"`
	FastForwardTolerance   *uint64       `yaml:"fast_forward_tolerance"` // Default 5; 0 faults on any gap
	ResyncBaseDelay        time.Duration `yaml:"resync_base_delay"`
	ResyncCapMultiplier    int           `yaml:"resync_cap_multiplier"`
	BufferSize             int           `yaml:"buffer_size"` // Inbound frame buffer per session
}

// Tolerance returns the largest gap accepted right after a snapshot.
func (f FeedConfig) Tolerance() uint64 {
	if f.FastForwardTolerance == nil {
		return DefaultFastForwardTolerance
	}
	return *f.FastForwardTolerance
}

// TradesConfig holds REST trade polling settings.
type TradesConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Limit         int           `yaml:"limit"`
	DedupCapacity int           `yaml:"dedup_capacity"`
	TrustIDs      *bool         `yaml:"trust_ids"` // Default true
}

// TrustExchangeIDs reports whether exchange trade IDs identify trades.
func (t TradesConfig) TrustExchangeIDs() bool {
	return t.TrustIDs == nil || *t.TrustIDs
}

// ClockConfig holds clock-skew sampler settings.
type ClockConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// StoreConfig holds the local event store settings.
type StoreConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Dir              string        `yaml:"dir"`
	CompressionLevel int           `yaml:"compression_level"`
	QueueSize        int           `yaml:"queue_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
}

// DatabaseConfig holds the TimescaleDB connection for time-series data.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// KafkaConfig holds event publisher settings.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus and telemetry sampling settings.
type MetricsConfig struct {
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level           string `yaml:"level"`  // debug, info, warn, error
	Format          string `yaml:"format"` // text or json
	SaveLogs        bool   `yaml:"save_logs"`
	File            string `yaml:"file"`
	RewriteLastLogs bool   `yaml:"rewrite_last_logs"`
}
