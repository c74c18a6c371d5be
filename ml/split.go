package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Partition 训练 / 验证 / 测试 三个分区的行索引
type Partition struct {
	Train      []int
	Validation []int
	Test       []int
}

// TrainValTestSplit splits rows 60/20/20, stratified by label at both steps.
// The 40% holdout is split in half; the test half is reserved, not scored.
func TrainValTestSplit(labels []int, seed int64) (Partition, error) {
	rng := rand.New(rand.NewSource(seed))
	all := make([]int, len(labels))
	for i := range all {
		all[i] = i
	}
	train, holdout, err := StratifiedSplit(all, labels, 0.4, rng)
	if err != nil {
		return Partition{}, fmt.Errorf("train/holdout split: %w", err)
	}
	validation, test, err := StratifiedSplit(holdout, labels, 0.5, rng)
	if err != nil {
		return Partition{}, fmt.Errorf("validation/test split: %w", err)
	}
	return Partition{Train: train, Validation: validation, Test: test}, nil
}

// StratifiedSplit divides rows into (rest, held) so that held has
// ceil(fraction*len(rows)) rows and each class keeps its proportion.
// labels is indexed by row number.
func StratifiedSplit(rows []int, labels []int, fraction float64, rng *rand.Rand) ([]int, []int, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("%w: split fraction %v outside (0,1)", ErrDatasetMalformed, fraction)
	}
	n := len(rows)
	nHeld := int(math.Ceil(fraction * float64(n)))
	nRest := n - nHeld

	byClass := make(map[int][]int)
	for _, row := range rows {
		byClass[labels[row]] = append(byClass[labels[row]], row)
	}
	classes := make([]int, 0, len(byClass))
	for c, members := range byClass {
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("%w: class %d has %d member(s), need at least 2", ErrDatasetMalformed, c, len(members))
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)
	if nHeld < len(classes) || nRest < len(classes) {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split %.2f with %d classes", ErrDatasetMalformed, n, fraction, len(classes))
	}

	alloc := allocateHeld(classes, byClass, nHeld, n)

	rest := make([]int, 0, nRest)
	held := make([]int, 0, nHeld)
	for _, c := range classes {
		members := byClass[c]
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		held = append(held, members[:alloc[c]]...)
		rest = append(rest, members[alloc[c]:]...)
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	rng.Shuffle(len(held), func(i, j int) { held[i], held[j] = held[j], held[i] })
	return rest, held, nil
}

// allocateHeld gives every class the floor of its proportional share and
// hands the remainder to the largest fractional parts, lower class first.
func allocateHeld(classes []int, byClass map[int][]int, nHeld, n int) map[int]int {
	type share struct {
		class int
		frac  float64
	}
	alloc := make(map[int]int, len(classes))
	shares := make([]share, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(nHeld) * float64(len(byClass[c])) / float64(n)
		floor := int(math.Floor(exact))
		if floor > len(byClass[c])-1 {
			floor = len(byClass[c]) - 1
		}
		alloc[c] = floor
		assigned += floor
		shares = append(shares, share{class: c, frac: exact - float64(floor)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].frac > shares[j].frac })
	for remaining := nHeld - assigned; remaining > 0; {
		progressed := false
		for _, s := range shares {
			if remaining == 0 {
				break
			}
			if alloc[s.class] < len(byClass[s.class])-1 {
				alloc[s.class]++
				remaining--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return alloc
}
