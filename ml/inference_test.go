package ml

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	loads  atomic.Int32
	bundle *Bundle
	err    error
	delay  time.Duration
}

func (l *countingLoader) Load() (*Bundle, error) {
	l.loads.Add(1)
	time.Sleep(l.delay)
	if l.err != nil {
		return nil, l.err
	}
	return l.bundle, nil
}

func TestModelHandleLoadsOnce(t *testing.T) {
	loader := &countingLoader{bundle: trainedBundle(t), delay: 20 * time.Millisecond}
	handle := NewModelHandle(loader)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := handle.Predict(map[string]float64{"pkts": 5, "bytes": 5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, loader.loads.Load())
}

func TestModelHandlePredict(t *testing.T) {
	handle := NewModelHandle(&countingLoader{bundle: trainedBundle(t)})

	result, err := handle.Predict(map[string]float64{"pkts": 6, "bytes": 6, "unknown": 1})
	require.NoError(t, err)
	assert.Equal(t, "malware", result.Prediction)
	assert.Empty(t, result.MissingFeatures)
	require.Len(t, result.Probabilities, 2)
	assert.InDelta(t, 1.0, result.Probabilities["benign"]+result.Probabilities["malware"], 1e-9)
	assert.Equal(t, result.Probabilities["malware"], result.Confidence)
	assert.False(t, result.Timestamp.IsZero())

	low, err := handle.Predict(map[string]float64{"pkts": 0, "bytes": 0})
	require.NoError(t, err)
	assert.Equal(t, "benign", low.Prediction)
}

func TestModelHandleMissingFeatures(t *testing.T) {
	bundle := trainedBundle(t)

	zero := NewModelHandle(&countingLoader{bundle: bundle})
	result, err := zero.Predict(map[string]float64{"pkts": 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes"}, result.MissingFeatures)
	assert.Equal(t, "benign", result.Prediction)

	reject := NewModelHandle(&countingLoader{bundle: bundle}, WithMissingFeaturePolicy(MissingReject))
	_, err = reject.Predict(map[string]float64{"pkts": 0})
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestModelHandleRejectsNonFinite(t *testing.T) {
	handle := NewModelHandle(&countingLoader{bundle: trainedBundle(t)})
	_, err := handle.Predict(map[string]float64{"pkts": math.NaN(), "bytes": 1})
	assert.ErrorIs(t, err, ErrInputInvalid)
	_, err = handle.Predict(map[string]float64{"pkts": 1, "bytes": math.Inf(1)})
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestModelHandleNotReady(t *testing.T) {
	handle := NewModelHandle(&countingLoader{err: ErrModelNotReady})
	_, err := handle.Predict(map[string]float64{"pkts": 1})
	assert.ErrorIs(t, err, ErrModelNotReady)
	_, err = handle.FeatureImportances()
	assert.ErrorIs(t, err, ErrModelNotReady)
	assert.False(t, handle.Loaded())
}

func TestModelHandleIndexKeysWithoutLabels(t *testing.T) {
	bundle := trainedBundle(t)
	bundle.Metadata.ClassLabels = nil
	handle := NewModelHandle(&countingLoader{bundle: bundle})

	result, err := handle.Predict(map[string]float64{"pkts": 6, "bytes": 6})
	require.NoError(t, err)
	assert.Equal(t, "1", result.Prediction)
	assert.Contains(t, result.Probabilities, "0")
	assert.Contains(t, result.Probabilities, "1")
}

func TestModelHandleLabelMapping(t *testing.T) {
	bundle := trainedBundle(t)
	bundle.Metadata.ClassLabels = []string{"benign"}
	handle := NewModelHandle(&countingLoader{bundle: bundle})

	_, err := handle.Predict(map[string]float64{"pkts": 6, "bytes": 6})
	assert.ErrorIs(t, err, ErrLabelMapping)
}

func TestModelHandleInvalidateReloads(t *testing.T) {
	loader := &countingLoader{bundle: trainedBundle(t)}
	handle := NewModelHandle(loader)

	_, err := handle.Bundle()
	require.NoError(t, err)
	_, err = handle.Bundle()
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.loads.Load())

	handle.Invalidate()
	_, err = handle.Bundle()
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.loads.Load())
}

func TestModelHandleKeepsResidentOnFailedReload(t *testing.T) {
	bundle := trainedBundle(t)
	bundle.Metadata.Version = "v1"
	loader := &countingLoader{bundle: bundle}
	var hookErrs atomic.Int32
	handle := NewModelHandle(loader, WithLoadHook(func(_ string, err error) {
		if err != nil {
			hookErrs.Add(1)
		}
	}))
	_, err := handle.Bundle()
	require.NoError(t, err)

	loader.err = errors.New("disk on fire")
	_, err = handle.Reload()
	require.Error(t, err)
	assert.Equal(t, "v1", handle.Version())

	handle.Invalidate()
	b, err := handle.Bundle()
	require.NoError(t, err)
	assert.Equal(t, "v1", b.Metadata.Version)
	assert.EqualValues(t, 2, hookErrs.Load())
}

func TestModelHandleFeatureImportances(t *testing.T) {
	handle := NewModelHandle(&countingLoader{bundle: trainedBundle(t)})
	imp, err := handle.FeatureImportances()
	require.NoError(t, err)
	require.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp["pkts"]+imp["bytes"], 1e-9)
}

func TestParseMissingFeaturePolicy(t *testing.T) {
	p, err := ParseMissingFeaturePolicy("")
	require.NoError(t, err)
	assert.Equal(t, MissingZero, p)
	p, err = ParseMissingFeaturePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, MissingReject, p)
	_, err = ParseMissingFeaturePolicy("guess")
	assert.Error(t, err)
}
