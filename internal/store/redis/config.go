package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// DisconnectTTL is how long a disconnect-guarded record survives
	// past its last write before expiring. Heartbeat refreshes keep a
	// connected client's records alive indefinitely.
	DisconnectTTL time.Duration

	// TransactRetries bounds the optimistic retry loop for Update and
	// Transact under contention
	TransactRetries int
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:             "redis://localhost:6379",
		PoolSize:        10,
		MinIdleConns:    2,
		DisconnectTTL:   60 * time.Second,
		TransactRetries: 16,
	}
}
