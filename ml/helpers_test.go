package ml

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var flowFeatureNames = []string{
	"Flow Duration",
	"Total Fwd Packets",
	"Total Backward Packets",
	"Fwd Packet Length Max",
	"Bwd Packet Length Mean",
	"Flow Bytes/s",
	"Flow IAT Mean",
	"Fwd IAT Total",
	"Init_Win_bytes_forward",
	"Init_Win_bytes_backward",
	"Packet Length Variance",
	"Protocol",
}

type classSpec struct {
	label string
	count int
}

// defaultFlowClasses sums to 1900 rows.
var defaultFlowClasses = []classSpec{
	{"benign", 1000},
	{"adware", 500},
	{"malware", 400},
}

// writeFlowCSV writes a separable synthetic flow dataset. Protocol is
// constant. Rows cycle through the classes so the first row is classes[0].
func writeFlowCSV(t *testing.T, dir string, classes []classSpec) string {
	t.Helper()
	rng := rand.New(rand.NewSource(99))

	var b strings.Builder
	b.WriteString(strings.Join(flowFeatureNames, ","))
	b.WriteString(",calss\n")

	remaining := make([]int, len(classes))
	total := 0
	for i, c := range classes {
		remaining[i] = c.count
		total += c.count
	}
	for written := 0; written < total; {
		for ci, c := range classes {
			if remaining[ci] == 0 {
				continue
			}
			remaining[ci]--
			written++
			for j := range flowFeatureNames {
				v := 6.0
				if flowFeatureNames[j] != "Protocol" {
					v = float64((ci+1)*(j+1)*10) + rng.NormFloat64()*4
				}
				fmt.Fprintf(&b, "%.4f,", v)
			}
			b.WriteString(c.label)
			b.WriteString("\n")
		}
	}

	path := filepath.Join(dir, "flows.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testArtifactStore(t *testing.T) *ArtifactStore {
	t.Helper()
	return NewArtifactStore(ArtifactConfig{Dir: filepath.Join(t.TempDir(), "artifacts"), KeepVersions: 2}, nil)
}

// trainedBundle fits a small forest on a two-feature toy problem.
func trainedBundle(t *testing.T) *Bundle {
	t.Helper()
	features := [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {5, 5}, {5, 6}, {6, 5}, {6, 6}}
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}
	forest := NewRandomForest(ForestConfig{NumTrees: 5, Seed: 3})
	require.NoError(t, forest.Fit(context.Background(), features, labels, 2))
	return &Bundle{
		Forest: forest,
		Metadata: Metadata{
			FeatureNames: []string{"pkts", "bytes"},
			TopFeatures:  []string{"pkts", "bytes"},
			ClassLabels:  []string{"benign", "malware"},
			NumTrees:     5,
			Seed:         3,
		},
	}
}
