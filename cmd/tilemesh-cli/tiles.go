package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/httpclient"
)

func newJoinCommand() *cobra.Command {
	var tile string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Start watching a tile",
		Long: `Join a tile to receive the events published on it from now on.
Joining a tile you already watch skips the events you have not fetched yet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parseTile(tile)
			if err != nil {
				return err
			}
			if err := requireAuthentication(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			response, err := client.Join(ctx, pos)
			if err != nil {
				return fmt.Errorf("failed to join tile: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Joined tile %s\n", pos)
			printWatchList(cmd.OutOrStdout(), response)
			return nil
		},
	}

	addTileFlag(cmd, &tile, true)
	return cmd
}

func newLeaveCommand() *cobra.Command {
	var (
		tile string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Stop watching a tile",
		Long:  "Leave a tile, or every watched tile with --all. Unfetched events on those tiles are dropped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (tile != "") {
				return fmt.Errorf("specify either --tile or --all")
			}
			if err := requireAuthentication(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			if all {
				response, err := client.LeaveAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to leave tiles: %w", err)
				}
				fmt.Fprintf(out, "✅ Left every tile\n")
				printWatchList(out, response)
				return nil
			}

			pos, err := parseTile(tile)
			if err != nil {
				return err
			}
			response, err := client.Leave(ctx, pos)
			if err != nil {
				return fmt.Errorf("failed to leave tile: %w", err)
			}
			fmt.Fprintf(out, "✅ Left tile %s\n", pos)
			printWatchList(out, response)
			return nil
		},
	}

	addTileFlag(cmd, &tile, false)
	cmd.Flags().BoolVar(&all, "all", false, "Leave every watched tile")
	return cmd
}

func newWatchingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watching",
		Short: "List the tiles you watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			response, err := client.Watching(ctx)
			if err != nil {
				return fmt.Errorf("failed to list watched tiles: %w", err)
			}

			printWatchList(cmd.OutOrStdout(), response)
			return nil
		},
	}

	return cmd
}

func printWatchList(out io.Writer, response *httpclient.WatchResponse) {
	if len(response.Watching) == 0 {
		fmt.Fprintf(out, "Player %s is not watching any tile\n", response.PlayerID)
		return
	}

	fmt.Fprintf(out, "Player %s is watching %d tile(s):\n", response.PlayerID, len(response.Watching))
	for _, pos := range response.Watching {
		fmt.Fprintf(out, "  - %s\n", pos)
	}
}
