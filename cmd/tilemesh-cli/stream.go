package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		tile         string
		join         bool
		bufferSize   int
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream events from a tile in real-time",
		Long: `Stream events from a tile in real-time using Server-Sent Events.
You must have joined the tile, or pass --join. Streamed events count as fetched.
Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, tile, join, bufferSize, prettyFormat)
		},
	}

	addTileFlag(cmd, &tile, true)
	cmd.Flags().BoolVar(&join, "join", false, "Join the tile before streaming")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Event buffer size")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print JSON payloads")

	return cmd
}

func runStream(cmd *cobra.Command, tile string, join bool, bufferSize int, prettyFormat bool) error {
	pos, err := parseTile(tile)
	if err != nil {
		return err
	}
	if err := requireAuthentication(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	// Create context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(out, "\n🛑 Stopping stream...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if join {
		joinCtx, joinCancel := context.WithTimeout(ctx, timeout)
		_, err := client.Join(joinCtx, pos)
		joinCancel()
		if err != nil {
			return fmt.Errorf("failed to join tile: %w", err)
		}
		fmt.Fprintf(out, "✅ Joined tile %s\n", pos)
	}

	// Configure streaming
	config := httpclient.StreamConfig{
		Tile:                 pos,
		BufferSize:           bufferSize,
		MaxReconnectAttempts: 0, // Infinite retries
	}

	fmt.Fprintf(out, "🌊 Starting event stream from %s (tile %s)...\n", serverURL, pos)
	fmt.Fprintln(out, "Press Ctrl+C to stop streaming")

	// Start streaming
	streamClient, err := client.Stream(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer func() {
		if err := streamClient.Close(); err != nil {
			fmt.Fprintf(out, "Warning: failed to close stream client: %v\n", err)
		}
	}()

	// Process events and errors
	eventCount := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Stream stopped. Received %d events.\n", eventCount)
			return nil

		case event, ok := <-streamClient.Events():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Event stream closed. Received %d events.\n", eventCount)
				return nil
			}

			eventCount++
			printEvent(out, event, eventCount, prettyFormat)

		case err, ok := <-streamClient.Errors():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Error stream closed. Received %d events.\n", eventCount)
				return nil
			}

			var streamErr *httpclient.StreamError
			if errors.As(err, &streamErr) || httpclient.StatusCode(err) != 0 {
				// The server ended or refused the stream
				return fmt.Errorf("stream ended after %d events: %w", eventCount, err)
			}
			fmt.Fprintf(out, "❌ Stream error: %v\n", err)
			// Continue processing - the client reconnects

		case <-streamClient.Done():
			fmt.Fprintf(out, "\n🔌 Stream finished. Received %d events.\n", eventCount)
			return nil
		}
	}
}
