package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// cliEnv holds flag defaults read from the environment
type cliEnv struct {
	Server   string `env:"TILEMESH_SERVER" envDefault:"http://localhost:8081"`
	PlayerID string `env:"TILEMESH_PLAYER_ID"`
	Token    string `env:"TILEMESH_TOKEN"`
}

var (
	// Global flags
	serverURL string
	playerID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	// Global client instance
	client *httpclient.Client
)

func main() {
	rootCmd, err := newRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree with global flags defaulted from the environment
func newRootCommand() (*cobra.Command, error) {
	var defaults cliEnv
	if err := env.Parse(&defaults); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	rootCmd := &cobra.Command{
		Use:   "tilemesh-cli",
		Short: "TileMesh HTTP API command line interface",
		Long: `tilemesh-cli is a command line interface for the TileMesh HTTP API.
It provides commands for authentication, publishing events on tiles, joining and
leaving tiles, fetching unseen events and streaming a tile in real time.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaults.Server, "TileMesh server URL (TILEMESH_SERVER)")
	rootCmd.PersistentFlags().StringVar(&playerID, "player-id", defaults.PlayerID, "Player ID for authentication (TILEMESH_PLAYER_ID)")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaults.Token, "JWT token if already authenticated (TILEMESH_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for development with --no-auth servers)")

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newJoinCommand())
	rootCmd.AddCommand(newLeaveCommand())
	rootCmd.AddCommand(newWatchingCommand())
	rootCmd.AddCommand(newFetchCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newAdminCommand())
	rootCmd.AddCommand(newHealthCommand())

	return rootCmd, nil
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	// In no-auth mode, player-id is not required
	if !noAuth && playerID == "" {
		return fmt.Errorf("player-id is required (unless using --no-auth)")
	}

	config := httpclient.Config{
		ServerURL: serverURL,
		PlayerID:  playerID,
		NoAuth:    noAuth,
		Timeout:   timeout,
	}

	var err error
	client, err = httpclient.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	}

	return nil
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}

	// Skip authentication check in no-auth mode
	if noAuth {
		return nil
	}

	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'tilemesh-cli auth' first or provide --token")
	}
	return nil
}

// addTileFlag registers the --tile flag shared by tile commands
func addTileFlag(cmd *cobra.Command, tile *string, required bool) {
	usage := "Tile position as x,y"
	if !required {
		usage += " (optional)"
	}
	cmd.Flags().StringVar(tile, "tile", "", usage)
	if required {
		if err := cmd.MarkFlagRequired("tile"); err != nil {
			panic(fmt.Sprintf("Failed to mark tile as required: %v", err))
		}
	}
}

// parseTile parses the --tile flag value
func parseTile(value string) (tilelog.Position, error) {
	pos, err := tilelog.ParsePosition(value)
	if err != nil {
		return tilelog.Position{}, fmt.Errorf("invalid --tile: %w", err)
	}
	return pos, nil
}
