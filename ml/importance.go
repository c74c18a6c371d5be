package ml

import "sort"

// DefaultTopK number of features kept in the bundle metadata
const DefaultTopK = 10

// RankedFeature 排名后的特征重要性
type RankedFeature struct {
	Name  string  `json:"feature_name"`
	Score float64 `json:"importance_score"`
	Rank  int     `json:"rank"`
}

// RankImportances orders features by descending score, ties by name, and
// assigns dense 1-based ranks (equal scores share a rank).
func RankImportances(scores map[string]float64) []RankedFeature {
	ranked := make([]RankedFeature, 0, len(scores))
	for name, score := range scores {
		ranked = append(ranked, RankedFeature{Name: name, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})
	rank := 0
	for i := range ranked {
		if i == 0 || ranked[i].Score != ranked[i-1].Score {
			rank++
		}
		ranked[i].Rank = rank
	}
	return ranked
}

// TopFeatures returns the names of the first k ranked features.
func TopFeatures(ranked []RankedFeature, k int) []string {
	if k <= 0 || k > len(ranked) {
		k = len(ranked)
	}
	names := make([]string, k)
	for i := 0; i < k; i++ {
		names[i] = ranked[i].Name
	}
	return names
}

func importanceMap(names []string, scores []float64) map[string]float64 {
	out := make(map[string]float64, len(names))
	for i, name := range names {
		if i < len(scores) {
			out[name] = scores[i]
		}
	}
	return out
}
