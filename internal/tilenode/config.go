package tilenode

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilelink"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidListenAddress is returned when listen address is invalid
	ErrInvalidListenAddress = errors.New("listen address cannot be empty")
	// ErrInvalidSeedTiles is returned when the seed tile count is negative or above MaxSeedTiles
	ErrInvalidSeedTiles = errors.New("seed tile count out of range")
	// ErrInvalidTickRate is returned when the tick rate is negative or above MaxTickRate
	ErrInvalidTickRate = errors.New("tick rate out of range")
	// ErrInvalidPolicy is returned for an unknown compaction policy
	ErrInvalidPolicy = errors.New("unknown compaction policy")
)

// MaxSeedTiles bounds the tiles created at startup, a 256x256 square around the origin
const MaxSeedTiles = 256 * 256

// MaxTickRate bounds the clock's updates per second
const MaxTickRate = 120

// Config represents configuration for a TileNode
type Config struct {
	// NodeID identifies this node in health and stats output
	NodeID string

	// ListenAddress is the address players connect to
	// Format: "host:port" (e.g., "localhost:8080")
	ListenAddress string

	// CompactionPolicy is handed to every tile the node creates
	CompactionPolicy tilelog.CompactionPolicy

	// SeedTiles is the number of tiles created around the origin at startup
	SeedTiles int

	// TickRate is the clock's updates per second, 0 disables the clock
	TickRate int

	// TileLink configuration, nil disables the gRPC service
	TileLinkConfig *tilelink.Config
}

// NewConfig creates a new TileNode configuration with safe defaults
func NewConfig(nodeID, listenAddress string) *Config {
	return &Config{
		NodeID:           nodeID,
		ListenAddress:    listenAddress,
		CompactionPolicy: tilelog.CompactMinCursor,
		SeedTiles:        0,
		TileLinkConfig:   nil,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ListenAddress == "" {
		return ErrInvalidListenAddress
	}
	if c.SeedTiles < 0 || c.SeedTiles > MaxSeedTiles {
		return fmt.Errorf("%w: %d (want 0 to %d)", ErrInvalidSeedTiles, c.SeedTiles, MaxSeedTiles)
	}
	if c.TickRate < 0 || c.TickRate > MaxTickRate {
		return fmt.Errorf("%w: %d (want 0 to %d)", ErrInvalidTickRate, c.TickRate, MaxTickRate)
	}
	if c.CompactionPolicy < tilelog.CompactMinCursor || c.CompactionPolicy > tilelog.CompactNone {
		return fmt.Errorf("%w: %d", ErrInvalidPolicy, int(c.CompactionPolicy))
	}

	// Validate TileLink config if provided
	if c.TileLinkConfig != nil {
		if err := c.TileLinkConfig.Validate(); err != nil {
			return fmt.Errorf("invalid TileLink config: %w", err)
		}
	}

	return nil
}

// WithCompactionPolicy sets the compaction policy for new tiles
func (c *Config) WithCompactionPolicy(policy tilelog.CompactionPolicy) *Config {
	c.CompactionPolicy = policy
	return c
}

// WithSeedTiles sets the number of tiles created at startup
func (c *Config) WithSeedTiles(n int) *Config {
	c.SeedTiles = n
	return c
}

// WithTickRate sets the clock's updates per second
func (c *Config) WithTickRate(updatesPerSecond int) *Config {
	c.TickRate = updatesPerSecond
	return c
}

// WithTileLinkConfig sets the TileLink configuration
func (c *Config) WithTileLinkConfig(config *tilelink.Config) *Config {
	c.TileLinkConfig = config
	return c
}
