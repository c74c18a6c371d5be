package ml

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainerEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeFlowCSV(t, dir, defaultFlowClasses)
	store := testArtifactStore(t)
	trainer := NewTrainer(store, TrainerConfig{}, nil)

	report, err := trainer.Train(context.Background(), TrainRequest{DatasetPath: path, NumTrees: 10, Seed: Seed(42)})
	require.NoError(t, err)

	assert.Equal(t, 1140, report.TrainRows)
	assert.Equal(t, 380, report.ValidationRows)
	assert.Equal(t, 380, report.TestRows)
	assert.Equal(t, []string{"benign", "adware", "malware"}, report.ClassLabels)
	assert.Equal(t, 10, report.NumTrees)
	assert.Greater(t, report.F1, 0.9)
	assert.Greater(t, report.Precision, 0.9)
	assert.Greater(t, report.Recall, 0.9)

	require.Len(t, report.TopFeatures, 10)
	assert.NotContains(t, report.TopFeatures, "Protocol")
	require.Len(t, report.FeatureImportances, len(flowFeatureNames))
	sum := 0.0
	for _, v := range report.FeatureImportances {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	handle := NewModelHandle(store)
	assert.NotEmpty(t, report.Version)
	features := make(map[string]float64)
	for j, name := range flowFeatureNames {
		features[name] = float64(3 * (j + 1) * 10)
	}
	features["Protocol"] = 6
	result, err := handle.Predict(features)
	require.NoError(t, err)
	assert.Equal(t, "malware", result.Prediction)
	assert.Equal(t, report.Version, result.ModelVersion)
}

func TestTrainerDeterministic(t *testing.T) {
	path := writeFlowCSV(t, t.TempDir(), defaultFlowClasses)
	req := TrainRequest{DatasetPath: path, NumTrees: 5, Seed: Seed(7)}

	a, err := NewTrainer(testArtifactStore(t), TrainerConfig{}, nil).Train(context.Background(), req)
	require.NoError(t, err)
	b, err := NewTrainer(testArtifactStore(t), TrainerConfig{}, nil).Train(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.FeatureImportances, b.FeatureImportances)
	assert.Equal(t, a.TopFeatures, b.TopFeatures)
	assert.Equal(t, a.F1, b.F1)
}

func TestTrainerFailuresLeaveNoArtifact(t *testing.T) {
	dir := t.TempDir()
	constant := filepath.Join(dir, "constant.csv")
	require.NoError(t, os.WriteFile(constant, []byte("a,b,calss\n"+
		"1,1,benign\n1,1,malware\n1,1,benign\n1,1,malware\n1,1,benign\n1,1,malware\n"+
		"1,1,benign\n1,1,malware\n1,1,benign\n1,1,malware\n"), 0o644))
	oneClass := filepath.Join(dir, "one.csv")
	require.NoError(t, os.WriteFile(oneClass, []byte("a,calss\n1,benign\n2,benign\n"), 0o644))

	cases := []struct {
		path string
		want error
	}{
		{filepath.Join(dir, "missing.csv"), ErrDatasetNotFound},
		{oneClass, ErrDatasetMalformed},
		{constant, ErrDatasetMalformed},
	}
	for _, tc := range cases {
		store := testArtifactStore(t)
		_, err := NewTrainer(store, TrainerConfig{}, nil).Train(context.Background(), TrainRequest{DatasetPath: tc.path, NumTrees: 3, Seed: Seed(1)})
		assert.ErrorIs(t, err, tc.want, tc.path)
		_, err = store.CurrentVersion()
		assert.ErrorIs(t, err, ErrModelNotReady, tc.path)
	}
}

func TestTrainerTopK(t *testing.T) {
	path := writeFlowCSV(t, t.TempDir(), defaultFlowClasses)
	report, err := NewTrainer(testArtifactStore(t), TrainerConfig{TopK: 3}, nil).
		Train(context.Background(), TrainRequest{DatasetPath: path, NumTrees: 3, Seed: Seed(1)})
	require.NoError(t, err)
	assert.Len(t, report.TopFeatures, 3)
}

func TestTrainerThreeFeatureFlows(t *testing.T) {
	type class struct {
		label    string
		count    int
		duration float64
		fwd      float64
		bwd      float64
	}
	classes := []class{
		{"benign", 1500, 2e5, 6, 5},
		{"adware", 250, 6e5, 14, 9},
		{"malware", 150, 1e6, 10, 8},
	}
	rng := rand.New(rand.NewSource(5))
	var b strings.Builder
	b.WriteString("Flow_Duration,Total_Fwd_Packets,Total_Backward_Packets,calss\n")
	for _, c := range classes {
		for i := 0; i < c.count; i++ {
			fmt.Fprintf(&b, "%.1f,%d,%d,%s\n",
				c.duration+rng.NormFloat64()*5e4,
				int(c.fwd)+rng.Intn(3),
				int(c.bwd)+rng.Intn(3),
				c.label)
		}
	}
	path := filepath.Join(t.TempDir(), "flows.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	store := testArtifactStore(t)
	report, err := NewTrainer(store, TrainerConfig{}, nil).
		Train(context.Background(), TrainRequest{DatasetPath: path, NumTrees: 20, Seed: Seed(42)})
	require.NoError(t, err)

	assert.Equal(t, 1140, report.TrainRows)
	assert.Equal(t, 380, report.ValidationRows)
	assert.Equal(t, 380, report.TestRows)
	for _, v := range []float64{report.F1, report.Precision, report.Recall} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	names := []string{"Flow_Duration", "Total_Fwd_Packets", "Total_Backward_Packets"}
	assert.LessOrEqual(t, len(report.TopFeatures), 10)
	assert.Subset(t, names, report.TopFeatures)
	for i := 1; i < len(report.TopFeatures); i++ {
		prev := report.FeatureImportances[report.TopFeatures[i-1]]
		assert.GreaterOrEqual(t, prev, report.FeatureImportances[report.TopFeatures[i]])
	}

	result, err := NewModelHandle(store).Predict(map[string]float64{
		"Flow_Duration":          1000000,
		"Total_Fwd_Packets":      10,
		"Total_Backward_Packets": 8,
	})
	require.NoError(t, err)
	assert.Contains(t, []string{"benign", "adware", "malware"}, result.Prediction)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	keys := make([]string, 0, len(result.Probabilities))
	sum := 0.0
	for k, p := range result.Probabilities {
		keys = append(keys, k)
		sum += p
	}
	assert.ElementsMatch(t, []string{"benign", "adware", "malware"}, keys)
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Empty(t, result.MissingFeatures)
}

func TestPredictAll(t *testing.T) {
	bundle := trainedBundle(t)
	rows := [][]float64{{0, 0}, {6, 6}}

	preds, err := predictAll(bundle.Forest, rows)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, preds)

	preds, err = predictAll(bundle.Forest.Trees[0], rows)
	require.NoError(t, err)
	assert.Len(t, preds, 2)

	_, err = predictAll(bundle.Forest, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrInputInvalid)
}
