package ml

import (
	"fmt"
	"sort"
)

// Scores 支持度加权的精确率 / 召回率 / F1
type Scores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
}

// WeightedScores computes per-class precision, recall and F1 over the union
// of true and predicted labels and averages them weighted by true support.
// A class with no predictions (or no support) scores 0 for that metric.
func WeightedScores(yTrue, yPred []int) (Scores, error) {
	if len(yTrue) != len(yPred) {
		return Scores{}, fmt.Errorf("%w: %d true labels, %d predictions", ErrInputInvalid, len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Scores{}, fmt.Errorf("%w: no samples to score", ErrInputInvalid)
	}

	support := make(map[int]int)
	predicted := make(map[int]int)
	truePos := make(map[int]int)
	for i := range yTrue {
		support[yTrue[i]]++
		predicted[yPred[i]]++
		if yTrue[i] == yPred[i] {
			truePos[yTrue[i]]++
		}
	}
	labels := make([]int, 0, len(support)+len(predicted))
	for c := range support {
		labels = append(labels, c)
	}
	for c := range predicted {
		if _, ok := support[c]; !ok {
			labels = append(labels, c)
		}
	}
	sort.Ints(labels)

	var out Scores
	total := float64(len(yTrue))
	for _, c := range labels {
		tp := float64(truePos[c])
		var p, r, f float64
		if predicted[c] > 0 {
			p = tp / float64(predicted[c])
		}
		if support[c] > 0 {
			r = tp / float64(support[c])
		}
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		w := float64(support[c]) / total
		out.Precision += w * p
		out.Recall += w * r
		out.F1 += w * f
	}
	return out, nil
}
