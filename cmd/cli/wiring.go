package cli

import (
	"encoding/json"
	"io"

	"flowguard/ml"
	"flowguard/monitoring"
)

func (a *app) artifactStore() *ml.ArtifactStore {
	return ml.NewArtifactStore(ml.ArtifactConfig{
		Dir:          a.cfg.ML.ArtifactDir,
		ModelFile:    a.cfg.ML.ModelFile,
		MetadataFile: a.cfg.ML.MetadataFile,
		KeepVersions: a.cfg.ML.KeepVersions,
	}, a.log.Named("artifacts"))
}

func (a *app) trainer(saver ml.BundleSaver) *ml.Trainer {
	forest := ml.DefaultForestConfig()
	forest.NumTrees = a.cfg.ML.NEstimators
	forest.MaxDepth = a.cfg.ML.MaxDepth
	forest.Seed = a.cfg.ML.RandomState
	return ml.NewTrainer(saver, ml.TrainerConfig{
		Dataset: ml.DatasetOptions{
			LabelColumn: a.cfg.ML.LabelColumn,
			Encoding:    a.cfg.ML.DatasetEncoding,
		},
		Forest: forest,
		TopK:   a.cfg.ML.TopK,
	}, a.log.Named("trainer"))
}

func (a *app) trainDefaults() ml.TrainRequest {
	return ml.TrainRequest{
		DatasetPath: a.cfg.ML.DatasetPath,
		NumTrees:    a.cfg.ML.NEstimators,
		Seed:        ml.Seed(a.cfg.ML.RandomState),
	}
}

// modelHandle metrics 可以为 nil
func (a *app) modelHandle(loader ml.BundleLoader, metrics *monitoring.Metrics) (*ml.ModelHandle, error) {
	policy, err := ml.ParseMissingFeaturePolicy(a.cfg.ML.MissingFeatures)
	if err != nil {
		return nil, err
	}
	opts := []ml.HandleOption{
		ml.WithMissingFeaturePolicy(policy),
		ml.WithLogger(a.log.Named("model")),
	}
	if metrics != nil {
		opts = append(opts, ml.WithLoadHook(metrics.RecordModelLoad))
	}
	return ml.NewModelHandle(loader, opts...), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
