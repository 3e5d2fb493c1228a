package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/httpclient"
)

func newFetchCommand() *cobra.Command {
	var (
		tile         string
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch events you have not seen yet",
		Long: `Fetch the events published since your last fetch, from one tile with --tile
or from every watched tile. Fetched events are not returned again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, tile, prettyFormat)
		},
	}

	addTileFlag(cmd, &tile, false)
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print JSON payloads")

	return cmd
}

func runFetch(cmd *cobra.Command, tile string, pretty bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()

	var batches []httpclient.FetchResponse
	if tile != "" {
		pos, err := parseTile(tile)
		if err != nil {
			return err
		}
		response, err := client.Fetch(ctx, pos)
		if err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}
		batches = append(batches, *response)
	} else {
		response, err := client.FetchWatched(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}
		batches = response.Tiles
	}

	total := 0
	for _, batch := range batches {
		if batch.Count == 0 {
			continue
		}
		fmt.Fprintf(out, "🗺️  Tile %s: %d new event(s)\n", batch.Tile, batch.Count)
		for _, event := range batch.Events {
			total++
			printEvent(out, event, total, pretty)
		}
	}

	if total == 0 {
		fmt.Fprintf(out, "No new events\n")
	}
	return nil
}

func printEvent(out io.Writer, event httpclient.EventMessage, count int, pretty bool) {
	fmt.Fprintf(out, "📨 Event #%d:\n", count)
	fmt.Fprintf(out, "   ID: %s\n", event.EventID)
	fmt.Fprintf(out, "   Tile: %s\n", event.Tile)
	fmt.Fprintf(out, "   Seq: %d\n", event.Seq)
	fmt.Fprintf(out, "   Kind: %s\n", event.Kind)
	fmt.Fprintf(out, "   Time: %s\n", event.Timestamp.Format("2006-01-02 15:04:05.000"))
	keys := make([]string, 0, len(event.Headers))
	for key := range event.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(out, "   Header %s: %s\n", key, event.Headers[key])
	}

	if event.Payload != nil {
		fmt.Fprintf(out, "   Payload: ")
		if pretty {
			jsonBytes, err := json.MarshalIndent(event.Payload, "            ", "  ")
			if err != nil {
				fmt.Fprintf(out, "%v\n", event.Payload)
			} else {
				fmt.Fprintf(out, "\n            %s\n", string(jsonBytes))
			}
		} else {
			jsonBytes, err := json.Marshal(event.Payload)
			if err != nil {
				fmt.Fprintf(out, "%v\n", event.Payload)
			} else {
				fmt.Fprintf(out, "%s\n", string(jsonBytes))
			}
		}
	} else {
		fmt.Fprintf(out, "   Payload: null\n")
	}
	fmt.Fprintln(out)
}
