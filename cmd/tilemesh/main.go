package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rmacdonaldsmith/tilemesh-go/internal/httpapi"
	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilelink"
	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilenode"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

const (
	// Application info
	appName    = "TileMesh"
	appVersion = "0.1.0"
)

// serverConfig holds the server settings. Environment variables set the
// defaults and command-line flags override them.
type serverConfig struct {
	NodeID           string `env:"TILEMESH_NODE_ID"`
	ListenAddress    string `env:"TILEMESH_LISTEN" envDefault:":8080"`
	HTTPPort         string `env:"TILEMESH_HTTP_PORT" envDefault:"8081"`
	HTTPSecret       string `env:"TILEMESH_HTTP_SECRET"`
	NoAuth           bool   `env:"TILEMESH_NO_AUTH"`
	CompactionPolicy string `env:"TILEMESH_COMPACTION_POLICY" envDefault:"min-cursor"`
	SeedTiles        int    `env:"TILEMESH_SEED_TILES" envDefault:"9"`
	TickRate         int    `env:"TILEMESH_TICK_RATE"`
	// Empty disables the TileLink gRPC service
	TileLinkListen string        `env:"TILEMESH_TILELINK_LISTEN"`
	TokenTTL       time.Duration `env:"TILEMESH_TOKEN_TTL" envDefault:"24h"`

	ShowVersion bool
	ShowHealth  bool
}

// parseConfig loads defaults from the environment and then parses flags.
func parseConfig(fs *flag.FlagSet, args []string) (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = getDefaultNodeID()
	}

	fs.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "Unique node identifier")
	fs.StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "Listen address advertised to players")
	fs.StringVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP API port")
	fs.StringVar(&cfg.HTTPSecret, "http-secret", cfg.HTTPSecret, "JWT signing secret (development default if empty)")
	fs.BoolVar(&cfg.NoAuth, "no-auth", cfg.NoAuth, "Disable JWT checks on player endpoints (development only)")
	fs.StringVar(&cfg.CompactionPolicy, "compaction", cfg.CompactionPolicy, "Compaction policy: min-cursor, service-order or none")
	fs.IntVar(&cfg.SeedTiles, "seed-tiles", cfg.SeedTiles, fmt.Sprintf("Number of tiles created around the origin at startup (at most %d)", tilenode.MaxSeedTiles))
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, fmt.Sprintf("World clock updates per second, 0 disables (at most %d)", tilenode.MaxTickRate))
	fs.StringVar(&cfg.TileLinkListen, "tilelink-listen", cfg.TileLinkListen, "TileLink gRPC listen address (disabled if empty)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Lifetime of issued JWT tokens")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")
	fs.BoolVar(&cfg.ShowHealth, "health", false, "Show health status and exit")

	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

// nodeConfig builds the tile node configuration
func (c serverConfig) nodeConfig() (*tilenode.Config, error) {
	policy, err := tilelog.ParseCompactionPolicy(c.CompactionPolicy)
	if err != nil {
		return nil, err
	}

	config := tilenode.NewConfig(c.NodeID, c.ListenAddress).
		WithCompactionPolicy(policy).
		WithSeedTiles(c.SeedTiles).
		WithTickRate(c.TickRate)

	if c.TileLinkListen != "" {
		tileLinkConfig := &tilelink.Config{ListenAddress: c.TileLinkListen}
		tileLinkConfig.SetDefaults()
		config = config.WithTileLinkConfig(tileLinkConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// httpConfig builds the HTTP API configuration
func (c serverConfig) httpConfig() httpapi.Config {
	return httpapi.Config{
		Port:      c.HTTPPort,
		SecretKey: c.HTTPSecret,
		NoAuth:    c.NoAuth,
		TokenTTL:  c.TokenTTL,
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// Handle version flag
	if cfg.ShowVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	// Configure logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("🚀 Starting %s v%s", appName, appVersion)
	log.Printf("📋 Node ID: %s", cfg.NodeID)
	log.Printf("🗺️  Compaction policy: %s, seed tiles: %d", cfg.CompactionPolicy, cfg.SeedTiles)
	if cfg.TickRate > 0 {
		log.Printf("⏱️  World clock: %d ticks per second", cfg.TickRate)
	}

	config, err := cfg.nodeConfig()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// Create tile node
	log.Printf("🔧 Creating tile node...")
	node, err := tilenode.NewTileNode(config)
	if err != nil {
		log.Fatalf("❌ Failed to create tile node: %v", err)
	}
	defer func() {
		log.Printf("🛑 Closing tile node...")
		if err := node.Close(); err != nil {
			log.Printf("⚠️  Error closing node: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("▶️  Starting tile node...")
	if err := node.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start tile node: %v", err)
	}

	// Handle health check flag
	if cfg.ShowHealth {
		showHealthStatus(node)
		return
	}

	if address := node.GetTileLinkAddress(); address != "" {
		log.Printf("🔗 TileLink listening on %s", address)
	}

	// Start HTTP API
	if cfg.NoAuth {
		log.Printf("⚠️  Authentication disabled (--no-auth), do not use in production")
	}
	if cfg.HTTPSecret == "" {
		log.Printf("⚠️  Using the development JWT secret, set --http-secret or TILEMESH_HTTP_SECRET")
	}
	httpServer := httpapi.NewServer(node, cfg.httpConfig())
	go func() {
		log.Printf("🌐 HTTP API listening on :%s", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			log.Printf("❌ HTTP API failed: %v", err)
			cancel()
		}
	}()

	// Show startup success and health
	showStartupInfo(node)

	// Set up graceful shutdown
	setupGracefulShutdown(ctx, cancel, node, httpServer)

	log.Printf("✅ %s node %s started successfully!", appName, cfg.NodeID)
	log.Printf("💡 Use Ctrl+C to shutdown gracefully")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Printf("👋 %s node %s stopped", appName, cfg.NodeID)
}

// getDefaultNodeID generates a default node ID based on hostname
func getDefaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "tilemesh-node-1"
	}
	return fmt.Sprintf("tilemesh-%s", hostname)
}

// setupGracefulShutdown configures signal handling for graceful shutdown
func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, node *tilenode.TileNode, httpServer *httpapi.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)
		case <-ctx.Done():
			return
		}

		// Create shutdown timeout context
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Open SSE streams end when their request context is cancelled
		if err := httpServer.Stop(shutdownCtx); err != nil {
			log.Printf("⚠️  Error stopping HTTP API: %v", err)
		}
		if err := node.Stop(shutdownCtx); err != nil {
			log.Printf("⚠️  Error during graceful stop: %v", err)
		}

		// Cancel main context to exit
		cancel()
	}()
}

// showStartupInfo displays node information after successful startup
func showStartupInfo(node *tilenode.TileNode) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := node.GetHealth(ctx)
	if err != nil {
		log.Printf("⚠️  Could not get health status: %v", err)
		return
	}

	log.Printf("🏥 Health Status:")
	log.Printf("   Overall: %s", healthStatus(health.Healthy))
	log.Printf("   Directory: %s", healthStatus(health.DirectoryHealthy))
	log.Printf("   TileLink: %s", healthStatus(health.TileLinkHealthy))
	log.Printf("   Tiles: %d", health.Tiles)
	log.Printf("   Players: %d", health.Players)

	if !health.Healthy {
		log.Printf("⚠️  Health issues: %s", health.Message)
	}
}

// showHealthStatus shows health and exits (for --health flag)
func showHealthStatus(node *tilenode.TileNode) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := node.GetHealth(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to get health status: %v", err)
	}

	fmt.Printf("TileMesh Node Health Status:\n")
	fmt.Printf("  Overall: %s\n", healthStatus(health.Healthy))
	fmt.Printf("  Directory: %s\n", healthStatus(health.DirectoryHealthy))
	fmt.Printf("  TileLink: %s\n", healthStatus(health.TileLinkHealthy))
	fmt.Printf("  Tiles: %d\n", health.Tiles)
	fmt.Printf("  Players: %d\n", health.Players)
	fmt.Printf("  Message: %s\n", health.Message)

	if !health.Healthy {
		_ = node.Close()
		os.Exit(1)
	}
}

// healthStatus returns a colored health status string
func healthStatus(healthy bool) string {
	if healthy {
		return "✅ Healthy"
	}
	return "❌ Unhealthy"
}
