package ml

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsWithCounts(counts ...int) []int {
	var labels []int
	for c, n := range counts {
		for i := 0; i < n; i++ {
			labels = append(labels, c)
		}
	}
	rand.New(rand.NewSource(5)).Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })
	return labels
}

func countByClass(labels []int, rows []int) map[int]int {
	out := make(map[int]int)
	for _, r := range rows {
		out[labels[r]]++
	}
	return out
}

func TestTrainValTestSplitSizes(t *testing.T) {
	labels := labelsWithCounts(1000, 500, 400)

	part, err := TrainValTestSplit(labels, 42)
	require.NoError(t, err)

	assert.Len(t, part.Train, 1140)
	assert.Len(t, part.Validation, 380)
	assert.Len(t, part.Test, 380)

	assert.Equal(t, map[int]int{0: 600, 1: 300, 2: 240}, countByClass(labels, part.Train))
	assert.Equal(t, map[int]int{0: 200, 1: 100, 2: 80}, countByClass(labels, part.Validation))
	assert.Equal(t, map[int]int{0: 200, 1: 100, 2: 80}, countByClass(labels, part.Test))

	all := append(append(append([]int(nil), part.Train...), part.Validation...), part.Test...)
	sort.Ints(all)
	for i, r := range all {
		require.Equal(t, i, r, "partitions must cover every row exactly once")
	}
}

func TestTrainValTestSplitDeterministic(t *testing.T) {
	labels := labelsWithCounts(50, 30, 20)
	a, err := TrainValTestSplit(labels, 7)
	require.NoError(t, err)
	b, err := TrainValTestSplit(labels, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := TrainValTestSplit(labels, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a.Train, c.Train)
}

func TestStratifiedSplitRemainder(t *testing.T) {
	// 7 rows, 3 held: shares 4*3/7=1.71, 3*3/7=1.29 -> floors 1,1, remainder to class 0
	labels := []int{0, 0, 0, 0, 1, 1, 1}
	rows := []int{0, 1, 2, 3, 4, 5, 6}
	rest, held, err := StratifiedSplit(rows, labels, 0.4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, held, 3)
	assert.Len(t, rest, 4)
	assert.Equal(t, map[int]int{0: 2, 1: 1}, countByClass(labels, held))
}

func TestStratifiedSplitTooSmall(t *testing.T) {
	_, _, err := StratifiedSplit([]int{0, 1, 2}, []int{0, 0, 1}, 0.4, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrDatasetMalformed)

	_, _, err = StratifiedSplit([]int{0, 1, 2, 3}, []int{0, 0, 1, 1}, 0.1, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrDatasetMalformed)
}
