package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with TileMesh server",
		Long: `Authenticate with the TileMesh server using your player ID.
This will generate a JWT token that can be used for subsequent requests.
Log in as "admin" to use the admin commands.`,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if noAuth {
		fmt.Fprintf(out, "Server runs without authentication, nothing to do\n")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Fprintf(out, "Authenticating with server %s as player %s...\n", serverURL, playerID)

	err := client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	token := client.GetToken()
	fmt.Fprintf(out, "✅ Authentication successful!\n")
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "\nYou can now use other commands or save this token for future use:\n")
	fmt.Fprintf(out, "  export TILEMESH_TOKEN=\"%s\"\n", token)
	fmt.Fprintf(out, "  tilemesh-cli --player-id %s join --tile 0,0\n", playerID)

	return nil
}
