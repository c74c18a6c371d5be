package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree CART 分类树，节点按先序平铺存储
type DecisionTree struct {
	Nodes       []TreeNode `json:"nodes"`
	NumClasses  int        `json:"n_classes"`
	NumFeatures int        `json:"n_features"`
	// Importances is the per-feature impurity decrease, normalised to 1.
	// All zeros when the tree never split.
	Importances []float64 `json:"importances"`
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Samples    int       `json:"samples"`
	Impurity   float64   `json:"impurity"`
	Value      []float64 `json:"value,omitempty"`
}

// TreeConfig 单棵树的生长限制
type TreeConfig struct {
	MaxDepth        int // 0 = unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // candidate features per node, 0 = all
}

func (c TreeConfig) withDefaults(numFeatures int) TreeConfig {
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	if c.MaxFeatures <= 0 || c.MaxFeatures > numFeatures {
		c.MaxFeatures = numFeatures
	}
	return c
}

// Fit grows the tree on the given sample of row indices. Repeated indices
// count once per occurrence, which is how bootstrap samples are weighted.
func (dt *DecisionTree) Fit(features [][]float64, labels []int, sample []int, numClasses int, cfg TreeConfig, rng *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 || len(sample) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if numClasses < 1 {
		return errors.New("numClasses must be positive")
	}
	numFeatures := len(features[0])
	b := &treeBuilder{
		features:    features,
		labels:      labels,
		numClasses:  numClasses,
		cfg:         cfg.withDefaults(numFeatures),
		rng:         rng,
		numFeatures: numFeatures,
		importance:  make([]float64, numFeatures),
	}
	b.build(append([]int(nil), sample...), 0)

	dt.Nodes = b.nodes
	dt.NumClasses = numClasses
	dt.NumFeatures = numFeatures
	dt.Importances = normalize(b.importance)
	return nil
}

// PredictProba returns the class distribution of the leaf the row lands in.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

// Predict returns the majority class and its leaf probability.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

// Split reports whether the tree has at least one internal node.
func (dt *DecisionTree) Split() bool {
	return len(dt.Nodes) > 1
}

func (dt *DecisionTree) validate() error {
	if len(dt.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			if len(node.Value) != dt.NumClasses {
				return fmt.Errorf("leaf %d has %d class values, want %d", i, len(node.Value), dt.NumClasses)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= dt.NumFeatures {
			return fmt.Errorf("node %d feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(dt.Nodes) || node.RightChild <= i || node.RightChild >= len(dt.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}

type treeBuilder struct {
	features    [][]float64
	labels      []int
	numClasses  int
	numFeatures int
	cfg         TreeConfig
	rng         *rand.Rand
	nodes       []TreeNode
	importance  []float64
}

type split struct {
	feature   int
	threshold float64
	impurity  float64 // weighted child impurity
	left      []int
	right     []int
}

func (b *treeBuilder) build(sample []int, depth int) int {
	counts := b.classCounts(sample)
	impurity := gini(counts, len(sample))
	id := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		IsLeaf:     true,
		Samples:    len(sample),
		Impurity:   impurity,
		Value:      distribution(counts, len(sample)),
	})

	if b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth ||
		len(sample) < b.cfg.MinSamplesSplit ||
		len(sample) < 2*b.cfg.MinSamplesLeaf ||
		impurity <= 1e-15 {
		return id
	}

	best, ok := b.findBestSplit(sample, counts)
	if !ok {
		return id
	}

	left := b.build(best.left, depth+1)
	right := b.build(best.right, depth+1)

	n := float64(len(sample))
	b.importance[best.feature] += n*impurity - n*best.impurity

	node := &b.nodes[id]
	node.FeatureIdx = best.feature
	node.Threshold = best.threshold
	node.LeftChild = left
	node.RightChild = right
	node.IsLeaf = false
	node.Value = nil
	return id
}

// findBestSplit visits features in random order until MaxFeatures
// non-constant ones were evaluated, scanning every midpoint between
// consecutive distinct values.
func (b *treeBuilder) findBestSplit(sample []int, counts []int) (split, bool) {
	best := split{feature: -1, impurity: math.MaxFloat64}
	sorted := make([]int, len(sample))
	leftCounts := make([]int, b.numClasses)
	rightCounts := make([]int, b.numClasses)
	n := len(sample)

	evaluated := 0
	for _, f := range b.rng.Perm(b.numFeatures) {
		if evaluated >= b.cfg.MaxFeatures {
			break
		}
		copy(sorted, sample)
		sort.Slice(sorted, func(i, j int) bool {
			return b.features[sorted[i]][f] < b.features[sorted[j]][f]
		})
		if b.features[sorted[0]][f] == b.features[sorted[n-1]][f] {
			continue
		}
		evaluated++

		for c := range leftCounts {
			leftCounts[c] = 0
			rightCounts[c] = counts[c]
		}
		for i := 0; i < n-1; i++ {
			c := b.labels[sorted[i]]
			leftCounts[c]++
			rightCounts[c]--

			v, next := b.features[sorted[i]][f], b.features[sorted[i+1]][f]
			if next <= v {
				continue
			}
			nl, nr := i+1, n-i-1
			if nl < b.cfg.MinSamplesLeaf || nr < b.cfg.MinSamplesLeaf {
				continue
			}
			weighted := (float64(nl)*gini(leftCounts, nl) + float64(nr)*gini(rightCounts, nr)) / float64(n)
			if weighted < best.impurity {
				threshold := (v + next) / 2
				if math.IsInf(threshold, 0) {
					threshold = v + (next-v)/2
				}
				if threshold >= next {
					threshold = v
				}
				best.feature = f
				best.threshold = threshold
				best.impurity = weighted
			}
		}
	}
	if best.feature < 0 {
		return best, false
	}

	for _, row := range sample {
		if b.features[row][best.feature] <= best.threshold {
			best.left = append(best.left, row)
		} else {
			best.right = append(best.right, row)
		}
	}
	if len(best.left) == 0 || len(best.right) == 0 {
		return best, false
	}
	return best, true
}

func (b *treeBuilder) classCounts(sample []int) []int {
	counts := make([]int, b.numClasses)
	for _, row := range sample {
		counts[b.labels[row]]++
	}
	return counts
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func distribution(counts []int, total int) []float64 {
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, count := range counts {
		out[i] = float64(count) / float64(total)
	}
	return out
}

// normalize scales values to sum to 1; an all-zero vector stays zero.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	if sum <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / sum
	}
	return out
}

// argmax returns the first index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
