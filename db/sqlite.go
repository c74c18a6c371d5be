package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"flowguard/ml"
)

var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS feature_importances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feature_name TEXT NOT NULL UNIQUE,
    importance_score REAL NOT NULL,
    rank INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS model_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_type TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    metric_value REAL NOT NULL,
    with_scaler BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS malware_analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    malware_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    f1_score REAL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_malware_analyses_created ON malware_analyses(created_at);
CREATE TABLE IF NOT EXISTS training_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL,
    dataset_path TEXT NOT NULL,
    n_estimators INTEGER NOT NULL,
    random_state INTEGER NOT NULL,
    n_features INTEGER NOT NULL,
    features_selected INTEGER NOT NULL,
    train_rows INTEGER NOT NULL,
    validation_rows INTEGER NOT NULL,
    test_rows INTEGER NOT NULL,
    class_counts TEXT NOT NULL DEFAULT '{}',
    f1_score REAL NOT NULL,
    precision REAL NOT NULL,
    recall REAL NOT NULL,
    duration_ms INTEGER NOT NULL,
    trained_at DATETIME NOT NULL
);
`

// Store SQLite 结果库
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open creates the parent directory, opens the database in WAL mode and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReplaceTrainingResults swaps the current importances and random forest
// metrics for those of report and appends a training run, in one
// transaction.
func (s *Store) ReplaceTrainingResults(ctx context.Context, report *ml.TrainingReport, datasetPath string) error {
	classCounts, err := json.Marshal(report.ClassCounts)
	if err != nil {
		return fmt.Errorf("encode class counts: %w", err)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feature_importances`); err != nil {
		return fmt.Errorf("clear feature importances: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM model_metrics WHERE model_type = ?`, ModelTypeRandomForest); err != nil {
		return fmt.Errorf("clear metrics: %w", err)
	}

	for _, f := range ml.RankImportances(report.FeatureImportances) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO feature_importances (feature_name, importance_score, rank) VALUES (?, ?, ?)`,
			f.Name, f.Score, f.Rank)
		if err != nil {
			return fmt.Errorf("insert feature importance %q: %w", f.Name, err)
		}
	}

	metrics := []struct {
		name  string
		value float64
	}{
		{MetricF1, report.F1},
		{MetricPrecision, report.Precision},
		{MetricRecall, report.Recall},
	}
	for _, m := range metrics {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO model_metrics (model_type, metric_name, metric_value, with_scaler, created_at) VALUES (?, ?, ?, 0, ?)`,
			ModelTypeRandomForest, m.name, m.value, now)
		if err != nil {
			return fmt.Errorf("insert metric %s: %w", m.name, err)
		}
	}

	run := TrainingRun{
		Version:          report.Version,
		DatasetPath:      datasetPath,
		NEstimators:      report.NumTrees,
		RandomState:      report.Seed,
		NFeatures:        report.NumFeatures,
		FeaturesSelected: len(report.TopFeatures),
		TrainRows:        report.TrainRows,
		ValidationRows:   report.ValidationRows,
		TestRows:         report.TestRows,
		ClassCountsJSON:  string(classCounts),
		F1Score:          report.F1,
		Precision:        report.Precision,
		Recall:           report.Recall,
		DurationMS:       report.Duration.Milliseconds(),
		TrainedAt:        now,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO training_runs (
			version, dataset_path, n_estimators, random_state, n_features, features_selected,
			train_rows, validation_rows, test_rows, class_counts,
			f1_score, precision, recall, duration_ms, trained_at
		) VALUES (
			:version, :dataset_path, :n_estimators, :random_state, :n_features, :features_selected,
			:train_rows, :validation_rows, :test_rows, :class_counts,
			:f1_score, :precision, :recall, :duration_ms, :trained_at
		)`, run)
	if err != nil {
		return fmt.Errorf("insert training run: %w", err)
	}
	return tx.Commit()
}

// FeatureImportances returns importances by rank; limit <= 0 returns all.
func (s *Store) FeatureImportances(ctx context.Context, limit int) ([]FeatureImportance, error) {
	query := `SELECT id, feature_name, importance_score, rank FROM feature_importances ORDER BY rank, feature_name`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	out := []FeatureImportance{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics lists metrics of one model type, or all when modelType is empty.
func (s *Store) Metrics(ctx context.Context, modelType string) ([]ModelMetric, error) {
	query := `SELECT id, model_type, metric_name, metric_value, with_scaler, created_at FROM model_metrics`
	args := []interface{}{}
	if modelType != "" {
		query += ` WHERE model_type = ?`
		args = append(args, modelType)
	}
	query += ` ORDER BY model_type, metric_name`
	out := []ModelMetric{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAnalysis appends a prediction record and returns its id.
func (s *Store) SaveAnalysis(ctx context.Context, a *MalwareAnalysis) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO malware_analyses (malware_type, confidence, f1_score, created_at)
		VALUES (:malware_type, :confidence, :f1_score, :created_at)`, a)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// RecentAnalyses returns the newest prediction records first.
func (s *Store) RecentAnalyses(ctx context.Context, limit int) ([]MalwareAnalysis, error) {
	if limit <= 0 {
		limit = 20
	}
	out := []MalwareAnalysis{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, malware_type, confidence, f1_score, created_at
		FROM malware_analyses ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TrainingRuns returns the audit history, newest first.
func (s *Store) TrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	out := []TrainingRun{}
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM training_runs ORDER BY trained_at DESC, id DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LatestTrainingRun(ctx context.Context) (*TrainingRun, error) {
	var run TrainingRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM training_runs ORDER BY trained_at DESC, id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}
