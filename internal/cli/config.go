package cli

import "os"

// Config holds CLI configuration
type Config struct {
	StoreType string
	RedisURL  string
	Name      string
	Output    string
	Verbose   bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		StoreType: getEnvOrDefault("LOBBYSYNC_STORE", "memory"),
		RedisURL:  getEnvOrDefault("LOBBYSYNC_REDIS_URL", "redis://localhost:6379"),
		Name:      os.Getenv("LOBBYSYNC_NAME"),
		Output:    "text",
		Verbose:   false,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
