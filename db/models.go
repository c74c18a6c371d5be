package db

import (
	"encoding/json"
	"time"
)

// ModelTypeRandomForest model_type of the metrics written by training
const ModelTypeRandomForest = "random_forest_classification"

// Metric names written for every training run
const (
	MetricF1        = "F1_Score"
	MetricPrecision = "Precision"
	MetricRecall    = "Recall"
)

type FeatureImportance struct {
	ID              int64   `db:"id" json:"id,omitempty"`
	FeatureName     string  `db:"feature_name" json:"feature_name"`
	ImportanceScore float64 `db:"importance_score" json:"importance_score"`
	Rank            int     `db:"rank" json:"rank"`
}

type ModelMetric struct {
	ID          int64     `db:"id" json:"id,omitempty"`
	ModelType   string    `db:"model_type" json:"model_type"`
	MetricName  string    `db:"metric_name" json:"metric_name"`
	MetricValue float64   `db:"metric_value" json:"metric_value"`
	WithScaler  bool      `db:"with_scaler" json:"with_scaler"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// MalwareAnalysis 一次预测的历史记录
type MalwareAnalysis struct {
	ID          int64     `db:"id" json:"id,omitempty"`
	MalwareType string    `db:"malware_type" json:"malware_type"`
	Confidence  float64   `db:"confidence" json:"confidence"`
	F1Score     *float64  `db:"f1_score" json:"f1_score"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TrainingRun 训练审计记录，每次训练追加一行
type TrainingRun struct {
	ID               int64     `db:"id" json:"id"`
	Version          string    `db:"version" json:"version"`
	DatasetPath      string    `db:"dataset_path" json:"dataset_path"`
	NEstimators      int       `db:"n_estimators" json:"n_estimators"`
	RandomState      int64     `db:"random_state" json:"random_state"`
	NFeatures        int       `db:"n_features" json:"n_features"`
	FeaturesSelected int       `db:"features_selected" json:"features_selected"`
	TrainRows        int       `db:"train_rows" json:"train_rows"`
	ValidationRows   int       `db:"validation_rows" json:"validation_rows"`
	TestRows         int       `db:"test_rows" json:"test_rows"`
	ClassCountsJSON  string    `db:"class_counts" json:"-"`
	F1Score          float64   `db:"f1_score" json:"f1_score"`
	Precision        float64   `db:"precision" json:"precision"`
	Recall           float64   `db:"recall" json:"recall"`
	DurationMS       int64     `db:"duration_ms" json:"duration_ms"`
	TrainedAt        time.Time `db:"trained_at" json:"trained_at"`
}

// ClassCounts decodes the per-label row counts of the training dataset.
func (r *TrainingRun) ClassCounts() map[string]int {
	counts := make(map[string]int)
	if r.ClassCountsJSON != "" {
		_ = json.Unmarshal([]byte(r.ClassCountsJSON), &counts)
	}
	return counts
}

func (r *TrainingRun) TotalRows() int {
	return r.TrainRows + r.ValidationRows + r.TestRows
}
