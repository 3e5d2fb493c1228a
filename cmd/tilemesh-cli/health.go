package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check the health status of the TileMesh server",
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintf(out, "✅ Server is healthy!\n")
	} else {
		fmt.Fprintf(out, "❌ Server is not healthy!\n")
	}
	fmt.Fprintf(out, "Directory: %t\n", health.DirectoryHealthy)
	fmt.Fprintf(out, "TileLink: %t\n", health.TileLinkHealthy)
	if health.TileLinkAddress != "" {
		fmt.Fprintf(out, "TileLink Address: %s\n", health.TileLinkAddress)
	}
	fmt.Fprintf(out, "Tiles: %d\n", health.Tiles)
	fmt.Fprintf(out, "Players: %d\n", health.Players)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	return nil
}
