package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowguard/db"
	qhttp "flowguard/http"
	"flowguard/ml"
	"flowguard/monitoring"
	"flowguard/pipeline"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Http.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override http.port")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := a.log
	metrics := monitoring.NewMetrics()

	// 数据库不可用时统计走快照，预测照常
	var (
		results  pipeline.ResultsStore
		source   pipeline.StatsSource
		analyses qhttp.AnalysisStore
		runs     qhttp.RunHistory
	)
	store, err := db.Open(a.cfg.Database.Path)
	if err != nil {
		log.Error("open database failed, serving snapshot data only", zap.String("path", a.cfg.Database.Path), zap.Error(err))
	} else {
		defer store.Close()
		results, source, analyses, runs = store, store, store, store
		log.Info("database opened", zap.String("path", a.cfg.Database.Path))
	}

	artifacts := a.artifactStore()
	handle, err := a.modelHandle(artifacts, metrics)
	if err != nil {
		return err
	}
	if version, err := handle.Reload(); err != nil {
		log.Warn("no model loaded at startup", zap.Error(err))
	} else {
		log.Info("model ready", zap.String("version", version))
	}

	if a.cfg.ML.WatchArtifacts {
		watcher, err := ml.WatchArtifacts(artifacts, handle, log.Named("watcher"))
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	hub := monitoring.NewWebSocketHub(log.Named("ws"), metrics)
	go hub.Start()
	defer hub.Stop()

	stats := pipeline.NewStatsReader(source, pipeline.NewSnapshot(a.cfg.Snapshot.Dir),
		a.cfg.Snapshot.CacheSize, a.cfg.Snapshot.CacheTTL, log.Named("stats"))

	training := pipeline.NewTrainingService(pipeline.TrainingDeps{
		Trainer:  a.trainer(artifacts),
		Store:    results,
		Handle:   handle,
		Caches:   []pipeline.Purger{stats},
		Metrics:  metrics,
		Notifier: hub,
		Defaults: a.trainDefaults(),
		Log:      log.Named("training"),
	})
	defer training.Close()

	handlers := qhttp.NewHandlers(qhttp.Deps{
		Model:    handle,
		Analyses: analyses,
		Training: training,
		Runs:     runs,
		Stats:    stats,
		Hub:      hub,
		Metrics:  metrics,
		Log:      log.Named("api"),
	})
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           a.cfg.Http.Port,
		Timeout:        a.cfg.Http.Timeout,
		MaxBodyBytes:   a.cfg.Http.MaxBodyBytes,
		AllowedOrigins: a.cfg.Http.AllowedOrigins,
	}, handlers, log.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
