package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowguard/db"
	"flowguard/ml"
	"flowguard/pipeline"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		req         ml.TrainRequest
		seed        int64
		export      bool
		skipInspect bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model, publish the artifact and persist its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := db.Open(a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := pipeline.NewTrainingService(pipeline.TrainingDeps{
				Trainer:  a.trainer(a.artifactStore()),
				Store:    store,
				Defaults: a.trainDefaults(),
				Log:      a.log,
			})
			defer svc.Close()

			if req.DatasetPath == "" {
				req.DatasetPath = a.cfg.ML.DatasetPath
			}
			if cmd.Flags().Changed("random-state") {
				req.Seed = ml.Seed(seed)
			}
			if !skipInspect {
				if _, err := a.inspect(req.DatasetPath); err != nil {
					return err
				}
			}

			report, err := svc.Run(ctx, req)
			if err != nil {
				return err
			}

			if export {
				summary, err := pipeline.NewSnapshot(a.cfg.Snapshot.Dir).Export(ctx, store)
				if err != nil {
					return err
				}
				a.log.Info("snapshot exported", zap.String("dir", a.cfg.Snapshot.Dir), zap.Time("generated_at", summary.GeneratedAt))
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&req.DatasetPath, "dataset", "", "CSV dataset path (default ml.dataset_path)")
	cmd.Flags().IntVar(&req.NumTrees, "n-estimators", 0, "Number of trees (default ml.n_estimators)")
	cmd.Flags().Int64Var(&seed, "random-state", 0, "Random seed (default ml.random_state)")
	cmd.Flags().BoolVar(&skipInspect, "skip-inspect", false, "Do not log dataset quality issues before training")
	cmd.Flags().BoolVar(&export, "export-snapshot", false, "Also write the JSON snapshot after training")
	return cmd
}
