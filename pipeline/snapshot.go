package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flowguard/db"
)

const (
	featureImportancesFile = "feature_importances.json"
	modelMetricsFile       = "model_metrics.json"
	recentAnalysesFile     = "recent_analyses.json"
	summaryFile            = "summary.json"

	snapshotRecentAnalyses = 20
)

// StatsSource 可导出的派生记录来源
type StatsSource interface {
	FeatureImportances(ctx context.Context, limit int) ([]db.FeatureImportance, error)
	Metrics(ctx context.Context, modelType string) ([]db.ModelMetric, error)
	RecentAnalyses(ctx context.Context, limit int) ([]db.MalwareAnalysis, error)
	LatestTrainingRun(ctx context.Context) (*db.TrainingRun, error)
}

// Summary summary.json 内容
type Summary struct {
	ModelInfo struct {
		Name             string `json:"name"`
		Version          string `json:"version,omitempty"`
		NEstimators      int    `json:"n_estimators"`
		RandomState      int64  `json:"random_state"`
		FeaturesTotal    int    `json:"features_total"`
		FeaturesSelected int    `json:"features_selected"`
	} `json:"model_info"`
	DatasetInfo struct {
		TotalRows   int            `json:"total_rows"`
		ClassCounts map[string]int `json:"class_counts"`
	} `json:"dataset_info"`
	TrainingResults struct {
		F1Score   float64 `json:"f1_score"`
		Precision float64 `json:"precision"`
		Recall    float64 `json:"recall"`
	} `json:"training_results"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Snapshot 静态 JSON 快照目录，数据库不可用时作为只读来源
type Snapshot struct {
	dir string
}

func NewSnapshot(dir string) *Snapshot {
	return &Snapshot{dir: dir}
}

func (s *Snapshot) Dir() string { return s.dir }

// Export writes every snapshot file from src.
func (s *Snapshot) Export(ctx context.Context, src StatsSource) (*Summary, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	features, err := src.FeatureImportances(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read feature importances: %w", err)
	}
	metrics, err := src.Metrics(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	analyses, err := src.RecentAnalyses(ctx, snapshotRecentAnalyses)
	if err != nil {
		return nil, fmt.Errorf("read analyses: %w", err)
	}

	summary := &Summary{GeneratedAt: time.Now().UTC()}
	summary.ModelInfo.Name = "Random Forest Classifier"
	summary.DatasetInfo.ClassCounts = map[string]int{}
	run, err := src.LatestTrainingRun(ctx)
	switch {
	case err == nil:
		summary.ModelInfo.Version = run.Version
		summary.ModelInfo.NEstimators = run.NEstimators
		summary.ModelInfo.RandomState = run.RandomState
		summary.ModelInfo.FeaturesTotal = run.NFeatures
		summary.ModelInfo.FeaturesSelected = run.FeaturesSelected
		summary.DatasetInfo.TotalRows = run.TotalRows()
		summary.DatasetInfo.ClassCounts = run.ClassCounts()
		summary.TrainingResults.F1Score = run.F1Score
		summary.TrainingResults.Precision = run.Precision
		summary.TrainingResults.Recall = run.Recall
	case errors.Is(err, db.ErrNotFound):
		summary.ModelInfo.FeaturesTotal = len(features)
	default:
		return nil, fmt.Errorf("read latest training run: %w", err)
	}

	files := []struct {
		name string
		v    interface{}
	}{
		{featureImportancesFile, features},
		{modelMetricsFile, metrics},
		{recentAnalysesFile, analyses},
		{summaryFile, summary},
	}
	for _, f := range files {
		if err := writeJSONAtomic(filepath.Join(s.dir, f.name), f.v); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func (s *Snapshot) FeatureImportances() ([]db.FeatureImportance, error) {
	out := []db.FeatureImportance{}
	return out, s.read(featureImportancesFile, &out)
}

func (s *Snapshot) Metrics() ([]db.ModelMetric, error) {
	out := []db.ModelMetric{}
	return out, s.read(modelMetricsFile, &out)
}

func (s *Snapshot) RecentAnalyses() ([]db.MalwareAnalysis, error) {
	out := []db.MalwareAnalysis{}
	return out, s.read(recentAnalysesFile, &out)
}

func (s *Snapshot) Summary() (*Summary, error) {
	var out Summary
	if err := s.read(summaryFile, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// read leaves v untouched when the file does not exist.
func (s *Snapshot) read(name string, v interface{}) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
