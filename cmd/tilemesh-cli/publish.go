package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	var (
		tile    string
		kind    string
		payload string
		headers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event on a tile",
		Long: `Publish an event on a tile. The payload should be valid JSON.
Players that joined the tile before the event receive it on their next fetch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, tile, kind, payload, headers)
		},
	}

	addTileFlag(cmd, &tile, true)
	cmd.Flags().StringVar(&kind, "kind", "", "Event kind, e.g. move or chat (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Event payload as JSON")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Event header as key=value (repeatable)")
	if err := cmd.MarkFlagRequired("kind"); err != nil {
		panic(fmt.Sprintf("Failed to mark kind as required: %v", err))
	}

	return cmd
}

func runPublish(cmd *cobra.Command, tile, kind, payloadStr string, headers map[string]string) error {
	pos, err := parseTile(tile)
	if err != nil {
		return err
	}

	// Parse payload JSON
	var payload interface{}
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Publishing %s event on tile %s...\n", kind, pos)

	response, err := client.Publish(ctx, pos, kind, payload, headers)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	fmt.Fprintf(out, "✅ Event published successfully!\n")
	fmt.Fprintf(out, "Event ID: %s\n", response.EventID)
	fmt.Fprintf(out, "Seq: %d\n", response.Seq)
	fmt.Fprintf(out, "Timestamp: %s\n", response.Timestamp.Format("2006-01-02 15:04:05"))

	return nil
}
