package cli

import (
	"github.com/spf13/cobra"

	"flowguard/db"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.Open(a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.TrainingRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}
