package tilelink

import (
	"errors"
	"time"
)

// DefaultMaxMessageSize fits a batch of several events of tilelog.MaxEventSize
// after base64 encoding of their payloads
const DefaultMaxMessageSize = 16 << 20

// Config holds configuration for the TileLink gRPC service
type Config struct {
	// ListenAddress is the gRPC listening address, e.g. "localhost:9090"
	ListenAddress  string
	MaxMessageSize int
	// ShutdownTimeout bounds the graceful stop before the server is stopped hard
	ShutdownTimeout time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
