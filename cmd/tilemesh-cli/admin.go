package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Administrative commands for monitoring tiles and players",
	}

	cmd.AddCommand(newAdminTilesCommand())
	cmd.AddCommand(newAdminTileCommand())
	cmd.AddCommand(newAdminDropCommand())
	cmd.AddCommand(newAdminPlayersCommand())
	cmd.AddCommand(newAdminStatsCommand())

	return cmd
}

func newAdminTilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tiles",
		Short: "List every tile with its counters",
		RunE:  runAdminTiles,
	}
}

func newAdminTileCommand() *cobra.Command {
	var tile string

	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Show one tile and its players in service order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminTile(cmd, tile)
		},
	}

	addTileFlag(cmd, &tile, true)
	return cmd
}

func newAdminDropCommand() *cobra.Command {
	var tile string

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop a tile and its buffered events",
		Long:  "Drop a tile. Players watching it stop watching it and its buffered events are discarded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminDrop(cmd, tile)
		},
	}

	addTileFlag(cmd, &tile, true)
	return cmd
}

func newAdminPlayersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List all connected players",
		RunE:  runAdminPlayers,
	}
}

func newAdminStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show system statistics",
		Long:  "Display TileMesh system statistics and compaction counters",
		RunE:  runAdminStats,
	}
}

func runAdminTiles(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Fetching tiles...")

	response, err := client.AdminListTiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tiles: %w", err)
	}

	if len(response.Tiles) == 0 {
		fmt.Fprintln(out, "No tiles exist")
		return nil
	}

	fmt.Fprintf(out, "\nFound %d tile(s):\n\n", len(response.Tiles))
	for _, tile := range response.Tiles {
		fmt.Fprintf(out, "%-12s buffered=%d registered=%d discarded=%d consumers=%d compactions=%d lost=%d\n",
			tile.Tile, tile.Buffered, tile.Registered, tile.Discarded, tile.Consumers, tile.Compactions, tile.Lost)
	}

	return nil
}

func runAdminTile(cmd *cobra.Command, tile string) error {
	pos, err := parseTile(tile)
	if err != nil {
		return err
	}
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.AdminGetTile(ctx, pos)
	if err != nil {
		return fmt.Errorf("failed to get tile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🗺️  Tile %s\n", response.Tile)
	fmt.Fprintf(out, "Buffered: %d\n", response.Buffered)
	fmt.Fprintf(out, "Registered: %d\n", response.Registered)
	fmt.Fprintf(out, "Discarded: %d\n", response.Discarded)
	fmt.Fprintf(out, "Fetches: %d\n", response.Fetches)
	fmt.Fprintf(out, "Compactions: %d\n", response.Compactions)
	fmt.Fprintf(out, "Lost: %d\n", response.Lost)

	if len(response.ServiceOrder) == 0 {
		fmt.Fprintln(out, "No players on this tile")
		return nil
	}

	fmt.Fprintf(out, "\nPlayers, least recently served first:\n")
	for i, consumer := range response.ServiceOrder {
		fmt.Fprintf(out, "%d. %s last seq %d, %d pending\n", i+1, consumer.PlayerID, consumer.LastSeq, consumer.Pending)
	}

	return nil
}

func runAdminDrop(cmd *cobra.Command, tile string) error {
	pos, err := parseTile(tile)
	if err != nil {
		return err
	}
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.AdminDropTile(ctx, pos); err != nil {
		return fmt.Errorf("failed to drop tile: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Tile %s dropped\n", pos)
	return nil
}

func runAdminPlayers(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Fetching connected players...")

	response, err := client.AdminListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list players: %w", err)
	}

	if len(response.Players) == 0 {
		fmt.Fprintln(out, "No players currently connected")
		return nil
	}

	fmt.Fprintf(out, "\nFound %d connected player(s):\n\n", len(response.Players))
	for i, player := range response.Players {
		fmt.Fprintf(out, "%d. Player ID: %s\n", i+1, player.ID)
		fmt.Fprintf(out, "   Connected At: %s\n", player.ConnectedAt.Format("2006-01-02 15:04:05"))
		if player.LastFetch != nil {
			fmt.Fprintf(out, "   Last Fetch: %s\n", player.LastFetch.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(out, "   Watching: %d tile(s)\n", len(player.Watching))
		if len(player.Watching) > 0 {
			fmt.Fprintf(out, "   Tiles: %v\n", player.Watching)
		}
		if i < len(response.Players)-1 {
			fmt.Fprintln(out)
		}
	}

	return nil
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Fetching system statistics...")

	response, err := client.AdminGetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Fprintf(out, "\n📊 TileMesh System Statistics:\n\n")
	fmt.Fprintf(out, "Node ID: %s\n", response.NodeID)
	fmt.Fprintf(out, "Compaction Policy: %s\n", response.CompactionPolicy)
	fmt.Fprintf(out, "Tiles: %d\n", response.Tiles)
	fmt.Fprintf(out, "Players: %d\n", response.Players)
	fmt.Fprintf(out, "Consumers: %d\n", response.Consumers)
	fmt.Fprintf(out, "Buffered Events: %d\n", response.BufferedEvents)
	fmt.Fprintf(out, "Events Registered: %d\n", response.EventsRegistered)
	fmt.Fprintf(out, "Events Discarded: %d\n", response.EventsDiscarded)
	fmt.Fprintf(out, "Fetches: %d\n", response.Fetches)
	fmt.Fprintf(out, "Compactions: %d\n", response.Compactions)
	fmt.Fprintf(out, "Events Lost: %d\n", response.EventsLost)
	fmt.Fprintf(out, "Clock Ticks: %d\n", response.Ticks)

	return nil
}
