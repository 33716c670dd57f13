package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newInstitutionsCommand() *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "institutions",
		Short: "List institutions supported by the aggregator",
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

			results := app.catalog.Search(search)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tOPEN BANKING")
			for _, inst := range results {
				openBanking := "no"
				if inst.SupportsOpenBanking {
					openBanking = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inst.ID, inst.Name, inst.Type, openBanking)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "filter by name or short name (case-insensitive substring)")

	return cmd
}
