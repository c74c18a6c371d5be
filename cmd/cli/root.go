package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowguard/config"
	"flowguard/logger"
)

// app 各子命令共享的配置和日志
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		cfgPath  string
		logLevel string
	)

	root := &cobra.Command{
		Use:           "flowguard",
		Short:         "Network flow classifier",
		Long:          `Trains a Random Forest over network flow features and serves benign / adware / malware predictions`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log.With(zap.String("command", cmd.Name()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newTrainCmd(a),
		newPredictCmd(a),
		newExportSnapshotCmd(a),
		newInspectCmd(a),
		newRunsCmd(a),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
