package ml

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TrainRequest 一次训练的输入；Seed 为空时使用 ForestConfig.Seed
type TrainRequest struct {
	DatasetPath string `json:"dataset_path"`
	NumTrees    int    `json:"n_estimators"`
	Seed        *int64 `json:"random_state,omitempty"`
}

// Seed returns a pointer to v for TrainRequest.Seed.
func Seed(v int64) *int64 { return &v }

// TrainingReport 训练结果摘要
type TrainingReport struct {
	Version            string             `json:"version"`
	F1                 float64            `json:"f1_score"`
	Precision          float64            `json:"precision"`
	Recall             float64            `json:"recall"`
	TopFeatures        []string           `json:"top_features"`
	FeatureImportances map[string]float64 `json:"feature_importances"`
	ClassLabels        []string           `json:"class_labels"`
	ClassCounts        map[string]int     `json:"class_counts"`
	NumFeatures        int                `json:"n_features"`
	TrainRows          int                `json:"train_rows"`
	ValidationRows     int                `json:"validation_rows"`
	TestRows           int                `json:"test_rows"`
	NumTrees           int                `json:"n_estimators"`
	Seed               int64              `json:"random_state"`
	Duration           time.Duration      `json:"duration"`
}

// TrainerConfig 训练流水线配置
type TrainerConfig struct {
	Dataset DatasetOptions
	Forest  ForestConfig
	TopK    int
}

// Trainer runs dataset → split → forest → scores → artifact.
type Trainer struct {
	saver BundleSaver
	cfg   TrainerConfig
	log   *zap.Logger
}

func NewTrainer(saver BundleSaver, cfg TrainerConfig, log *zap.Logger) *Trainer {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trainer{saver: saver, cfg: cfg, log: log}
}

// Train fits a forest and publishes it. Nothing is written unless every
// step before the artifact write succeeds.
func (t *Trainer) Train(ctx context.Context, req TrainRequest) (*TrainingReport, error) {
	start := time.Now()
	forestCfg := t.cfg.Forest
	if req.NumTrees > 0 {
		forestCfg.NumTrees = req.NumTrees
	}
	if forestCfg.NumTrees <= 0 {
		forestCfg.NumTrees = DefaultForestConfig().NumTrees
	}
	if req.Seed != nil {
		forestCfg.Seed = *req.Seed
	}
	seed := forestCfg.Seed
	log := t.log.With(zap.String("dataset", req.DatasetPath), zap.Int("n_estimators", forestCfg.NumTrees), zap.Int64("seed", seed))

	ds, err := LoadDataset(req.DatasetPath, t.cfg.Dataset)
	if err != nil {
		return nil, err
	}
	encoder, codes := FitLabelEncoder(ds.Labels)
	classes := encoder.Classes()
	log.Info("dataset loaded", zap.Int("rows", ds.Len()), zap.Int("features", len(ds.FeatureNames)), zap.Strings("classes", classes))

	part, err := TrainValTestSplit(codes, seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := subset(ds.Features, codes, part.Train)
	valX, valY := subset(ds.Features, codes, part.Validation)

	forest := NewRandomForest(forestCfg)
	if err := forest.Fit(ctx, trainX, trainY, len(classes)); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	if !forest.HasSplits() {
		return nil, fmt.Errorf("%w: no tree found an informative split", ErrDatasetMalformed)
	}

	importances := importanceMap(ds.FeatureNames, forest.Importances)
	top := TopFeatures(RankImportances(importances), t.cfg.TopK)

	preds, err := predictAll(forest, valX)
	if err != nil {
		return nil, fmt.Errorf("score validation: %w", err)
	}
	scores, err := WeightedScores(valY, preds)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Forest: forest,
		Metadata: Metadata{
			FeatureNames: ds.FeatureNames,
			TopFeatures:  top,
			ClassLabels:  classes,
			NumTrees:     forestCfg.NumTrees,
			Seed:         seed,
		},
	}
	version, err := t.saver.Save(bundle)
	if err != nil {
		return nil, err
	}

	report := &TrainingReport{
		Version:            version,
		F1:                 scores.F1,
		Precision:          scores.Precision,
		Recall:             scores.Recall,
		TopFeatures:        top,
		FeatureImportances: importances,
		ClassLabels:        classes,
		ClassCounts:        ds.ClassCounts(),
		NumFeatures:        len(ds.FeatureNames),
		TrainRows:          len(part.Train),
		ValidationRows:     len(part.Validation),
		TestRows:           len(part.Test),
		NumTrees:           forestCfg.NumTrees,
		Seed:               seed,
		Duration:           time.Since(start),
	}
	log.Info("training finished",
		zap.String("version", version),
		zap.Float64("f1", report.F1),
		zap.Float64("precision", report.Precision),
		zap.Float64("recall", report.Recall),
		zap.Strings("top_features", top),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// predictAll returns the predicted class of every row.
func predictAll(c Classifier, rows [][]float64) ([]int, error) {
	preds := make([]int, len(rows))
	for i, row := range rows {
		label, _, err := c.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		preds[i] = label
	}
	return preds, nil
}

func subset(features [][]float64, labels []int, rows []int) ([][]float64, []int) {
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, row := range rows {
		x[i] = features[row]
		y[i] = labels[row]
	}
	return x, y
}
