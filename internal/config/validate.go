package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Exchange.Symbols) == 0 {
		return errors.New("exchange.symbols must list at least one symbol")
	}
	seen := make(map[string]bool, len(c.Exchange.Symbols))
	for _, s := range c.Exchange.Symbols {
		if strings.TrimSpace(s) == "" {
			return errors.New("exchange.symbols contains an empty symbol")
		}
		if seen[s] {
			return fmt.Errorf("exchange.symbols contains %q twice", s)
		}
		seen[s] = true
	}
	if c.Exchange.DepthLimit < 1 || c.Exchange.DepthLimit > 5000 {
		return fmt.Errorf("exchange.depth_limit must be between 1 and 5000, got %d", c.Exchange.DepthLimit)
	}
	if c.Exchange.Retries() < 0 {
		return errors.New("exchange.max_retries must be >= 0")
	}

	switch c.Feed.LimitDepth {
	case 0, 5, 10, 20:
	default:
		return fmt.Errorf("feed.limit_depth must be 0, 5, 10 or 20, got %d", c.Feed.LimitDepth)
	}
	if c.Feed.ReadTimeout <= c.Feed.PingInterval {
		return fmt.Errorf("feed.read_timeout (%s) must exceed feed.ping_interval (%s)", c.Feed.ReadTimeout, c.Feed.PingInterval)
	}
	if c.Feed.ReconnectCapMultiplier < 1 {
		return errors.New("feed.reconnect_cap_multiplier must be >= 1")
	}
	if c.Feed.ResyncCapMultiplier < 1 {
		return errors.New("feed.resync_cap_multiplier must be >= 1")
	}
	if c.Feed.ReconnectJitter < 0 || c.Feed.ReconnectJitter >= 1 {
		return fmt.Errorf("feed.reconnect_jitter must be in [0, 1), got %v", c.Feed.ReconnectJitter)
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if c.Trades.Enabled {
		if c.Trades.Limit < 1 || c.Trades.Limit > 1000 {
			return fmt.Errorf("trades.limit must be between 1 and 1000, got %d", c.Trades.Limit)
		}
		if c.Trades.DedupCapacity < 1 {
			return errors.New("trades.dedup_capacity must be >= 1")
		}
	}

	if c.Store.Enabled {
		if c.Store.CompressionLevel < 1 || c.Store.CompressionLevel > 22 {
			return fmt.Errorf("store.compression_level must be between 1 and 22, got %d", c.Store.CompressionLevel)
		}
		if c.Store.QueueSize < 1 {
			return errors.New("store.queue_size must be >= 1")
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic is required when kafka is enabled")
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
