package cli

import (
	"github.com/spf13/cobra"

	"flowguard/db"
	"flowguard/pipeline"
)

func newExportSnapshotCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export-snapshot",
		Short: "Write the derived records to static JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Snapshot.Dir
			}
			store, err := db.Open(a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := pipeline.NewSnapshot(dir).Export(cmd.Context(), store)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Output directory (default snapshot.dir)")
	return cmd
}
