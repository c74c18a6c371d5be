package ml

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MissingFeaturePolicy 输入缺少训练特征时的处理方式
type MissingFeaturePolicy string

const (
	MissingZero   MissingFeaturePolicy = "zero"
	MissingReject MissingFeaturePolicy = "reject"
)

func ParseMissingFeaturePolicy(s string) (MissingFeaturePolicy, error) {
	switch MissingFeaturePolicy(s) {
	case "", MissingZero:
		return MissingZero, nil
	case MissingReject:
		return MissingReject, nil
	}
	return "", fmt.Errorf("unknown missing feature policy %q", s)
}

// PredictionResult 单次推理结果
type PredictionResult struct {
	Prediction      string             `json:"prediction"`
	Confidence      float64            `json:"confidence"`
	Probabilities   map[string]float64 `json:"probabilities"`
	MissingFeatures []string           `json:"missing_features,omitempty"`
	ModelVersion    string             `json:"model_version"`
	Timestamp       time.Time          `json:"timestamp"`
}

// ModelHandle owns the resident bundle. The first caller loads it, every
// other caller waits for that load; Invalidate makes the next call reload.
type ModelHandle struct {
	loader BundleLoader
	policy MissingFeaturePolicy
	log    *zap.Logger
	onLoad func(version string, err error)
	now    func() time.Time

	mu     sync.Mutex
	bundle atomic.Pointer[Bundle]
	stale  atomic.Bool
}

type HandleOption func(*ModelHandle)

func WithMissingFeaturePolicy(p MissingFeaturePolicy) HandleOption {
	return func(h *ModelHandle) { h.policy = p }
}

func WithLogger(log *zap.Logger) HandleOption {
	return func(h *ModelHandle) { h.log = log }
}

// WithLoadHook is called after every load attempt.
func WithLoadHook(fn func(version string, err error)) HandleOption {
	return func(h *ModelHandle) { h.onLoad = fn }
}

func NewModelHandle(loader BundleLoader, opts ...HandleOption) *ModelHandle {
	h := &ModelHandle{
		loader: loader,
		policy: MissingZero,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Bundle returns the resident bundle, loading it if needed. When a reload
// fails and a bundle is already resident, the old bundle keeps serving.
func (h *ModelHandle) Bundle() (*Bundle, error) {
	if b := h.bundle.Load(); b != nil && !h.stale.Load() {
		return b, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.bundle.Load()
	if prev != nil && !h.stale.Load() {
		return prev, nil
	}
	b, err := h.load()
	if err != nil {
		if prev != nil {
			h.log.Error("model reload failed, keeping resident version",
				zap.String("version", prev.Metadata.Version), zap.Error(err))
			return prev, nil
		}
		return nil, err
	}
	return b, nil
}

// Reload loads the current bundle now. On failure the resident bundle, if
// any, stays in place and the error is returned.
func (h *ModelHandle) Reload() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := h.load()
	if err != nil {
		return "", err
	}
	return b.Metadata.Version, nil
}

// load must be called with mu held.
func (h *ModelHandle) load() (*Bundle, error) {
	h.stale.Store(false)
	b, err := h.loader.Load()
	if h.onLoad != nil {
		version := ""
		if b != nil {
			version = b.Metadata.Version
		}
		h.onLoad(version, err)
	}
	if err != nil {
		return nil, err
	}
	h.bundle.Store(b)
	h.log.Info("model loaded",
		zap.String("version", b.Metadata.Version),
		zap.Int("features", len(b.Metadata.FeatureNames)),
		zap.Strings("classes", b.Metadata.ClassLabels))
	return b, nil
}

// Invalidate marks the resident bundle stale.
func (h *ModelHandle) Invalidate() {
	h.stale.Store(true)
}

// Version of the resident bundle, "" if none is loaded.
func (h *ModelHandle) Version() string {
	if b := h.bundle.Load(); b != nil {
		return b.Metadata.Version
	}
	return ""
}

func (h *ModelHandle) Loaded() bool {
	return h.bundle.Load() != nil
}

// Predict aligns the feature map to the training feature order and scores it.
func (h *ModelHandle) Predict(features map[string]float64) (*PredictionResult, error) {
	b, err := h.Bundle()
	if err != nil {
		return nil, err
	}
	row, missing, err := alignFeatures(b.Metadata.FeatureNames, features)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 && h.policy == MissingReject {
		return nil, fmt.Errorf("%w: missing features %v", ErrInputInvalid, missing)
	}

	proba, err := b.Forest.PredictProba(row)
	if err != nil {
		return nil, err
	}
	idx := argmax(proba)

	labels := b.Metadata.ClassLabels
	result := &PredictionResult{
		Confidence:      proba[idx],
		Probabilities:   make(map[string]float64, len(proba)),
		MissingFeatures: missing,
		ModelVersion:    b.Metadata.Version,
		Timestamp:       h.now().UTC(),
	}
	if len(labels) == 0 {
		result.Prediction = strconv.Itoa(idx)
		for i, p := range proba {
			result.Probabilities[strconv.Itoa(i)] = p
		}
		return result, nil
	}
	if idx >= len(labels) || len(labels) != len(proba) {
		return nil, fmt.Errorf("%w: class index %d, %d labels, %d probabilities", ErrLabelMapping, idx, len(labels), len(proba))
	}
	result.Prediction = labels[idx]
	for i, p := range proba {
		result.Probabilities[labels[i]] = p
	}
	return result, nil
}

// FeatureImportances returns the forest importances keyed by feature name.
func (h *ModelHandle) FeatureImportances() (map[string]float64, error) {
	b, err := h.Bundle()
	if err != nil {
		return nil, err
	}
	return importanceMap(b.Metadata.FeatureNames, b.Forest.Importances), nil
}

// alignFeatures builds a row in training order. Missing names are filled
// with 0 and returned; unknown keys are ignored.
func alignFeatures(names []string, features map[string]float64) ([]float64, []string, error) {
	row := make([]float64, len(names))
	var missing []string
	for i, name := range names {
		v, ok := features[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("%w: feature %q is not finite", ErrInputInvalid, name)
		}
		row[i] = v
	}
	return row, missing, nil
}
