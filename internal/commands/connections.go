package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newConnectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List established bank connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if err := app.orchestrator.EnsureReady(ctx); err != nil {
				return err
			}

			conns, err := app.registry.Refresh(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONNECTION\tINSTITUTION\tESTABLISHED\tLAST SYNC")
			for _, conn := range conns {
				established := ""
				if !conn.EstablishedAt.IsZero() {
					established = conn.EstablishedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conn.ConnectionID, conn.InstitutionID, established, conn.LastSyncStatus)
			}
			return w.Flush()
		},
	}
}
