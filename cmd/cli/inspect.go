package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowguard/ml"
	"flowguard/pipeline"
)

func newInspectCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report data quality issues of a training dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = a.cfg.ML.DatasetPath
			}
			report, err := a.inspect(path)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&path, "dataset", "", "CSV dataset path (default ml.dataset_path)")
	return cmd
}

// inspect 加载数据集并逐条记录质量问题
func (a *app) inspect(path string) (*pipeline.QualityReport, error) {
	ds, err := ml.LoadDataset(path, ml.DatasetOptions{
		LabelColumn: a.cfg.ML.LabelColumn,
		Encoding:    a.cfg.ML.DatasetEncoding,
	})
	if err != nil {
		return nil, err
	}
	report := pipeline.NewDatasetInspector().Inspect(ds)
	for _, issue := range report.Issues {
		a.log.Warn("dataset quality issue",
			zap.String("dataset", path),
			zap.String("type", issue.Type),
			zap.String("severity", issue.Severity),
			zap.String("message", issue.Message))
	}
	return report, nil
}
