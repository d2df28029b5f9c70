// Package analysis flags unusual power readings and projects the next
// few readings from recent history.
package analysis

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultTrees is the number of isolation trees in a forest.
	DefaultTrees = 100
	// DefaultSampleSize caps the subsample each tree is grown on.
	DefaultSampleSize = 256
	// DefaultSeed makes detection repeatable between refreshes.
	DefaultSeed = 42

	eulerGamma = 0.5772156649015329
)

// DetectAnomalies flags the ceil(contamination*n) most isolated of the n
// valid values. Values are standardised first; NaN entries are skipped and
// never flagged. Fewer than two valid values, or values with no spread,
// yield no anomalies. contamination is clamped to [0, 0.5].
func DetectAnomalies(values []float64, contamination float64, seed int64) []bool {
	flags := make([]bool, len(values))

	idx := make([]int, 0, len(values))
	valid := make([]float64, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		idx = append(idx, i)
		valid = append(valid, v)
	}
	if len(valid) < 2 {
		return flags
	}

	contamination = math.Max(0, math.Min(contamination, 0.5))
	k := int(math.Ceil(contamination * float64(len(valid))))
	if k == 0 {
		return flags
	}

	mean, std := stat.MeanStdDev(valid, nil)
	if std == 0 || math.IsNaN(std) {
		return flags
	}
	z := make([]float64, len(valid))
	for i, v := range valid {
		z[i] = (v - mean) / std
	}

	forest := NewForest(z, DefaultTrees, DefaultSampleSize, seed)
	scores := make([]float64, len(z))
	for i, v := range z {
		scores[i] = forest.Score(v)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	for _, o := range order[:k] {
		flags[idx[o]] = true
	}
	return flags
}

// Forest is an isolation forest over one-dimensional data.
type Forest struct {
	trees      []*node
	sampleSize int
}

type node struct {
	split       float64
	left, right *node
	size        int
}

// NewForest grows trees on random subsamples of data.
func NewForest(data []float64, trees, sampleSize int, seed int64) *Forest {
	rng := rand.New(rand.NewSource(seed))
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	limit := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &Forest{trees: make([]*node, trees), sampleSize: sampleSize}
	sample := make([]float64, sampleSize)
	for t := range f.trees {
		perm := rng.Perm(len(data))
		for i := 0; i < sampleSize; i++ {
			sample[i] = data[perm[i]]
		}
		f.trees[t] = grow(rng, append([]float64(nil), sample...), 0, limit)
	}
	return f
}

func grow(rng *rand.Rand, data []float64, depth, limit int) *node {
	if depth >= limit || len(data) <= 1 {
		return &node{size: len(data)}
	}
	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &node{size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range data {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &node{
		split: split,
		left:  grow(rng, left, depth+1, limit),
		right: grow(rng, right, depth+1, limit),
	}
}

// Score returns the anomaly score of x in (0, 1]; higher is more isolated.
func (f *Forest) Score(x float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(f.trees))
	c := averagePath(f.sampleSize)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}

func pathLength(n *node, x float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePath(n.size)
	}
	if x < n.split {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// averagePath is the mean unsuccessful-search depth of a BST with n nodes.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
