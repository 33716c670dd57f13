package commands

import (
	"bufio"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"bankbridge/internal/domain/connection"
)

func newConnectCommand() *cobra.Command {
	var login string

	cmd := &cobra.Command{
		Use:   "connect <institution-id>",
		Short: "Establish a bank connection for an institution",
		Long: `Submits credentials for an institution and follows the attempt until it
connects or fails. The password is read as a single line from stdin so it
never appears in the process argument list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if err := app.orchestrator.EnsureReady(ctx); err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			password, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			attempt, err := app.orchestrator.Submit(ctx, args[0], login, strings.TrimSpace(password))
			if err != nil {
				return err
			}

			for snap := range attempt.Updates() {
				fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", snap.Status)
			}

			final := attempt.Snapshot()
			if final.Status == connection.StatusConnected {
				fmt.Fprintf(cmd.OutOrStdout(), "connected: %s\n", final.ConnectionID)
				return nil
			}
			return attempt.Err()
		},
	}

	cmd.Flags().StringVar(&login, "login", "", "login id at the institution")
	_ = cmd.MarkFlagRequired("login")

	return cmd
}
