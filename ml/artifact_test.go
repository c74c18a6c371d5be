package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactStoreSaveLoad(t *testing.T) {
	store := testArtifactStore(t)
	bundle := trainedBundle(t)

	version, err := store.Save(bundle)
	require.NoError(t, err)
	require.NotEmpty(t, version)
	assert.Equal(t, version, bundle.Metadata.Version)
	assert.NotEmpty(t, bundle.Metadata.ModelDigest)

	current, err := store.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, version, current)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, bundle.Metadata.FeatureNames, loaded.Metadata.FeatureNames)
	assert.Equal(t, bundle.Metadata.ClassLabels, loaded.Metadata.ClassLabels)
	assert.Equal(t, bundle.Metadata.TopFeatures, loaded.Metadata.TopFeatures)
	assert.Equal(t, version, loaded.Metadata.Version)

	want, err := bundle.Forest.PredictProba([]float64{5, 5})
	require.NoError(t, err)
	got, err := loaded.Forest.PredictProba([]float64{5, 5})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestArtifactStoreNotReady(t *testing.T) {
	store := testArtifactStore(t)
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func TestArtifactStoreDigestMismatch(t *testing.T) {
	store := testArtifactStore(t)
	version, err := store.Save(trainedBundle(t))
	require.NoError(t, err)

	modelPath := filepath.Join(store.Dir(), "versions", version, "model.json")
	raw, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(modelPath, append(raw, ' '), 0o644))

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrArtifactCorrupt)
}

func TestArtifactStoreMissingMetadata(t *testing.T) {
	store := testArtifactStore(t)
	version, err := store.Save(trainedBundle(t))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), "versions", version, "metadata.json")))

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrArtifactCorrupt)
}

func TestArtifactStoreFailedSaveKeepsCurrent(t *testing.T) {
	store := testArtifactStore(t)
	first, err := store.Save(trainedBundle(t))
	require.NoError(t, err)

	broken := trainedBundle(t)
	broken.Metadata.FeatureNames = []string{"only-one"}
	_, err = store.Save(broken)
	require.ErrorIs(t, err, ErrArtifactWrite)

	current, err := store.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, first, current)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".staging-")
	}
}

func TestArtifactStorePrunesOldVersions(t *testing.T) {
	store := testArtifactStore(t)
	var last string
	for i := 0; i < 4; i++ {
		v, err := store.Save(trainedBundle(t))
		require.NoError(t, err)
		last = v
	}
	versions, err := store.Versions()
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.Contains(t, versions, last)
}

func TestArtifactStoreRejectsBadPointer(t *testing.T) {
	store := testArtifactStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(store.CurrentFile(), []byte("../../etc\n"), 0o644))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrArtifactCorrupt)
}
