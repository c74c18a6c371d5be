package ml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFlowData(t *testing.T) ([][]float64, []int, int) {
	t.Helper()
	ds, err := LoadDataset(writeFlowCSV(t, t.TempDir(), defaultFlowClasses), DatasetOptions{})
	require.NoError(t, err)
	enc, codes := FitLabelEncoder(ds.Labels)
	return ds.Features, codes, len(enc.Classes())
}

func TestRandomForestDeterministicAcrossWorkers(t *testing.T) {
	features, labels, classes := loadFlowData(t)

	serial := NewRandomForest(ForestConfig{NumTrees: 8, Seed: 42, Workers: 1})
	require.NoError(t, serial.Fit(context.Background(), features, labels, classes))
	parallel := NewRandomForest(ForestConfig{NumTrees: 8, Seed: 42, Workers: 4})
	require.NoError(t, parallel.Fit(context.Background(), features, labels, classes))

	assert.Equal(t, serial.Importances, parallel.Importances)
	for _, row := range features[:50] {
		a, err := serial.PredictProba(row)
		require.NoError(t, err)
		b, err := parallel.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestRandomForestProbabilities(t *testing.T) {
	features, labels, classes := loadFlowData(t)
	forest := NewRandomForest(ForestConfig{NumTrees: 10, Seed: 1})
	require.NoError(t, forest.Fit(context.Background(), features, labels, classes))

	correct := 0
	for i, row := range features {
		proba, err := forest.PredictProba(row)
		require.NoError(t, err)
		require.Len(t, proba, classes)
		sum := 0.0
		for _, p := range proba {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)

		label, confidence, err := forest.Predict(row)
		require.NoError(t, err)
		assert.Equal(t, proba[label], confidence)
		if label == labels[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(features)), 0.95)
}

func TestRandomForestImportances(t *testing.T) {
	features, labels, classes := loadFlowData(t)
	forest := NewRandomForest(ForestConfig{NumTrees: 10, Seed: 1})
	require.NoError(t, forest.Fit(context.Background(), features, labels, classes))

	require.Len(t, forest.Importances, len(flowFeatureNames))
	sum := 0.0
	for _, v := range forest.Importances {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// Protocol is constant and can never be chosen.
	assert.Zero(t, forest.Importances[len(flowFeatureNames)-1])
}

func TestRandomForestNoSplits(t *testing.T) {
	features := [][]float64{{1, 2}, {1, 2}, {1, 2}, {1, 2}}
	labels := []int{0, 1, 0, 1}
	forest := NewRandomForest(ForestConfig{NumTrees: 3, Seed: 1})
	require.NoError(t, forest.Fit(context.Background(), features, labels, 2))
	assert.False(t, forest.HasSplits())
	for _, v := range forest.Importances {
		assert.Zero(t, v)
	}
}

func TestRandomForestRejectsWrongWidth(t *testing.T) {
	b := trainedBundle(t)
	_, err := b.Forest.PredictProba([]float64{1})
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestRandomForestCancelled(t *testing.T) {
	features, labels, classes := loadFlowData(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	forest := NewRandomForest(ForestConfig{NumTrees: 4, Seed: 1})
	err := forest.Fit(ctx, features, labels, classes)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, forest.Trees)
}
