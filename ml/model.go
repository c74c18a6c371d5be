package ml

import "context"

// Classifier 已训练、可对单行特征打分的模型
type Classifier interface {
	PredictProba(features []float64) ([]float64, error)
	Predict(features []float64) (int, float64, error)
}

// BundleLoader resolves the currently published bundle.
type BundleLoader interface {
	Load() (*Bundle, error)
}

// BundleSaver publishes a bundle and returns its version id.
type BundleSaver interface {
	Save(b *Bundle) (string, error)
}

// ModelProvider 推理服务对外接口
type ModelProvider interface {
	Predict(features map[string]float64) (*PredictionResult, error)
	FeatureImportances() (map[string]float64, error)
	Reload() (string, error)
	Version() string
}

// ModelTrainer 训练流水线对外接口
type ModelTrainer interface {
	Train(ctx context.Context, req TrainRequest) (*TrainingReport, error)
}

var (
	_ Classifier    = (*RandomForest)(nil)
	_ Classifier    = (*DecisionTree)(nil)
	_ BundleLoader  = (*ArtifactStore)(nil)
	_ BundleSaver   = (*ArtifactStore)(nil)
	_ ModelProvider = (*ModelHandle)(nil)
	_ ModelTrainer  = (*Trainer)(nil)
)
