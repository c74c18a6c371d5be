package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestConfig 随机森林超参数
type ForestConfig struct {
	NumTrees        int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features"` // 0 = sqrt(n_features)
	Seed            int64 `json:"random_state"`
	Workers         int   `json:"-"`
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:        50,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// RandomForest bootstrap + Gini CART 的集成分类器
type RandomForest struct {
	Config      ForestConfig    `json:"config"`
	NumClasses  int             `json:"n_classes"`
	NumFeatures int             `json:"n_features"`
	Trees       []*DecisionTree `json:"trees"`
	Importances []float64       `json:"feature_importances"`
}

func NewRandomForest(cfg ForestConfig) *RandomForest {
	return &RandomForest{Config: cfg}
}

// Fit trains NumTrees trees on bootstrap samples. Per-tree seeds are drawn
// from the forest seed up front, so the result does not depend on
// scheduling.
func (rf *RandomForest) Fit(ctx context.Context, features [][]float64, labels []int, numClasses int) error {
	if len(features) == 0 || len(features) != len(labels) {
		return fmt.Errorf("%w: %d feature rows for %d labels", ErrDatasetMalformed, len(features), len(labels))
	}
	if rf.Config.NumTrees < 1 {
		return fmt.Errorf("%w: n_estimators must be positive, got %d", ErrInputInvalid, rf.Config.NumTrees)
	}
	numFeatures := len(features[0])
	treeCfg := TreeConfig{
		MaxDepth:        rf.Config.MaxDepth,
		MinSamplesSplit: rf.Config.MinSamplesSplit,
		MinSamplesLeaf:  rf.Config.MinSamplesLeaf,
		MaxFeatures:     rf.Config.MaxFeatures,
	}
	if treeCfg.MaxFeatures <= 0 {
		treeCfg.MaxFeatures = int(math.Sqrt(float64(numFeatures)))
		if treeCfg.MaxFeatures < 1 {
			treeCfg.MaxFeatures = 1
		}
	}

	master := rand.New(rand.NewSource(rf.Config.Seed))
	seeds := make([]int64, rf.Config.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := rf.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	trees := make([]*DecisionTree, rf.Config.NumTrees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := make([]int, len(features))
			for j := range sample {
				sample[j] = rng.Intn(len(features))
			}
			tree := &DecisionTree{}
			if err := tree.Fit(features, labels, sample, numClasses, treeCfg, rng); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.NumClasses = numClasses
	rf.NumFeatures = numFeatures
	rf.Importances = forestImportances(trees, numFeatures)
	return nil
}

// forestImportances averages per-tree importances over trees that split,
// then renormalises.
func forestImportances(trees []*DecisionTree, numFeatures int) []float64 {
	sum := make([]float64, numFeatures)
	for _, tree := range trees {
		if !tree.Split() {
			continue
		}
		for i, v := range tree.Importances {
			sum[i] += v
		}
	}
	return normalize(sum)
}

// PredictProba averages leaf distributions over all trees.
func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(features) != rf.NumFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrInputInvalid, len(features), rf.NumFeatures)
	}
	proba := make([]float64, rf.NumClasses)
	for _, tree := range rf.Trees {
		p, err := tree.PredictProba(features)
		if err != nil {
			return nil, err
		}
		for c, v := range p {
			proba[c] += v
		}
	}
	for c := range proba {
		proba[c] /= float64(len(rf.Trees))
	}
	return proba, nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

// HasSplits reports whether any tree found an informative split.
func (rf *RandomForest) HasSplits() bool {
	for _, tree := range rf.Trees {
		if tree.Split() {
			return true
		}
	}
	return false
}

func (rf *RandomForest) validate() error {
	if len(rf.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if len(rf.Importances) != rf.NumFeatures {
		return fmt.Errorf("forest has %d importances for %d features", len(rf.Importances), rf.NumFeatures)
	}
	for i, tree := range rf.Trees {
		if tree == nil {
			return fmt.Errorf("tree %d missing", i)
		}
		if tree.NumClasses != rf.NumClasses || tree.NumFeatures != rf.NumFeatures {
			return fmt.Errorf("tree %d shape %dx%d, forest %dx%d", i, tree.NumFeatures, tree.NumClasses, rf.NumFeatures, rf.NumClasses)
		}
		if err := tree.validate(); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
