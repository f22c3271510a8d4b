package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL                = "https://api.mexc.com"
	DefaultWSURL                  = "wss://wbs-api.mexc.com/ws"
	DefaultDepthLimit             = 1000
	DefaultAPITimeout             = 10 * time.Second
	DefaultMaxRetries             = 3
	DefaultInterval               = "100ms"
	DefaultPingInterval           = 30 * time.Second
	DefaultSubscribeTimeout       = 10 * time.Second
	DefaultReadTimeout            = 90 * time.Second
	DefaultReconnectBaseDelay     = 1 * time.Second
	DefaultReconnectCapMultiplier = 32
	DefaultSustainedSession       = 60 * time.Second
	DefaultFastForwardTolerance   = 5
	DefaultResyncBaseDelay        = 500 * time.Millisecond
	DefaultResyncCapMultiplier    = 16
	DefaultFeedBufferSize         = 10000
	DefaultTradePollInterval      = 5 * time.Second
	DefaultTradeLimit             = 500
	DefaultDedupCapacity          = 50000
	DefaultClockInterval          = 60 * time.Second
	DefaultStoreDir               = "data"
	DefaultCompressionLevel       = 3
	DefaultStoreQueueSize         = 100000
	DefaultStoreFlushInterval     = 1 * time.Second
	DefaultDBPort                 = 5432
	DefaultDBSSLMode              = "prefer"
	DefaultMaxConns               = 10
	DefaultMinConns               = 2
	DefaultKafkaTopic             = "feedsync.events"
	DefaultKafkaBatchSize         = 500
	DefaultKafkaBatchTimeout      = 50 * time.Millisecond
	DefaultBatchSize              = 1000
	DefaultFlushInterval          = 1 * time.Second
	DefaultBufferSize             = 100000
	DefaultMetricsPort            = 9090
	DefaultMetricsPath            = "/metrics"
	DefaultSampleInterval         = 60 * time.Second
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultLogFile                = "logs/feedsync.log"
)

func (c *Config) applyDefaults() {
	// Exchange defaults
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.WSURL == "" {
		c.Exchange.WSURL = DefaultWSURL
	}
	if c.Exchange.DepthLimit == 0 {
		c.Exchange.DepthLimit = DefaultDepthLimit
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.Exchange.MaxRetries = &retries
	}

	// Feed defaults
	if c.Feed.Interval == "" {
		c.Feed.Interval = DefaultInterval
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.SubscribeTimeout == 0 {
		c.Feed.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectCapMultiplier == 0 {
		c.Feed.ReconnectCapMultiplier = DefaultReconnectCapMultiplier
	}
	if c.Feed.SustainedSession == 0 {
		c.Feed.SustainedSession = DefaultSustainedSession
	}
	if c.Feed.FastForwardTolerance == nil {
		tolerance := uint64(DefaultFastForwardTolerance)
		c.Feed.FastForwardTolerance = &tolerance
	}
	if c.Feed.ResyncBaseDelay == 0 {
		c.Feed.ResyncBaseDelay = DefaultResyncBaseDelay
	}
	if c.Feed.ResyncCapMultiplier == 0 {
		c.Feed.ResyncCapMultiplier = DefaultResyncCapMultiplier
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Trades defaults
	if c.Trades.PollInterval == 0 {
		c.Trades.PollInterval = DefaultTradePollInterval
	}
	if c.Trades.Limit == 0 {
		c.Trades.Limit = DefaultTradeLimit
	}
	if c.Trades.DedupCapacity == 0 {
		c.Trades.DedupCapacity = DefaultDedupCapacity
	}

	// Clock defaults
	if c.Clock.Interval == 0 {
		c.Clock.Interval = DefaultClockInterval
	}

	// Store defaults
	if c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}
	if c.Store.CompressionLevel == 0 {
		c.Store.CompressionLevel = DefaultCompressionLevel
	}
	if c.Store.QueueSize == 0 {
		c.Store.QueueSize = DefaultStoreQueueSize
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = DefaultStoreFlushInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Kafka defaults
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = DefaultKafkaBatchSize
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.SampleInterval == 0 {
		c.Metrics.SampleInterval = DefaultSampleInterval
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.File == "" {
		c.Logging.File = DefaultLogFile
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
