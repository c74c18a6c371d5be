package ml

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

func TestArtifactWatcherInvalidatesOnPublish(t *testing.T) {
	store := testArtifactStore(t)
	target := &countingInvalidator{}
	watcher, err := WatchArtifacts(store, target, nil)
	require.NoError(t, err)
	defer watcher.Close()

	_, err = store.Save(trainedBundle(t))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return target.n.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestArtifactWatcherCloseIdempotent(t *testing.T) {
	watcher, err := WatchArtifacts(testArtifactStore(t), &countingInvalidator{}, nil)
	require.NoError(t, err)
	require.NoError(t, watcher.Close())
	assert.NoError(t, watcher.Close())
}
