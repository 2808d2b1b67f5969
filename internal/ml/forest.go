package ml

import (
	"math"
	"math/rand"
	"sort"

	"github.com/Dyrun/Anomaly-Detection/internal/features"
)

// maxSubsample bounds the per-tree sample size. Small subsamples are
// what make isolation trees separate outliers in few splits.
const maxSubsample = 256

// Forest is an isolation forest: an ensemble of randomized binary
// trees where anomalous points isolate in shorter paths. Scores are in
// (0,1); higher means more anomalous. The outlier threshold is set
// from the training scores so that roughly the configured
// contamination fraction of the training sample lands above it.
type Forest struct {
	estimators    int
	contamination float64
	seed          int64

	trees     []*treeNode
	subsample int
	threshold float64
	lo, hi    features.Vector // per-feature range of the fit sample
}

type treeNode struct {
	feature int
	split   float64
	left    *treeNode
	right   *treeNode
	size    int // leaf population, zero for internal nodes
}

func NewForest(estimators int, contamination float64, seed int64) *Forest {
	return &Forest{
		estimators:    estimators,
		contamination: contamination,
		seed:          seed,
	}
}

// Fit grows the ensemble from an unlabeled sample and calibrates the
// outlier threshold at the (1 - contamination) quantile of the
// sample's own scores. The seed fixes tree structure run to run.
func (f *Forest) Fit(vectors []features.Vector) {
	rng := rand.New(rand.NewSource(f.seed))

	f.lo, f.hi = vectors[0], vectors[0]
	for _, v := range vectors[1:] {
		for j, x := range v {
			if x < f.lo[j] {
				f.lo[j] = x
			}
			if x > f.hi[j] {
				f.hi[j] = x
			}
		}
	}

	f.subsample = len(vectors)
	if f.subsample > maxSubsample {
		f.subsample = maxSubsample
	}
	heightLimit := int(math.Ceil(math.Log2(float64(f.subsample))))

	f.trees = make([]*treeNode, f.estimators)
	for t := 0; t < f.estimators; t++ {
		idx := rng.Perm(len(vectors))[:f.subsample]
		f.trees[t] = buildTree(vectors, idx, 0, heightLimit, rng)
	}

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		scores[i] = f.Score(v)
	}
	sort.Float64s(scores)

	cut := int(float64(len(scores)) * (1 - f.contamination))
	if cut >= len(scores) {
		cut = len(scores) - 1
	}
	if cut < 0 {
		cut = 0
	}
	f.threshold = scores[cut]
}

// Score returns the anomaly score of a single vector.
func (f *Forest) Score(v features.Vector) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += f.pathLength(t, v, 0)
	}
	avg := sum / float64(len(f.trees))
	return math.Pow(2, -avg/averagePathLength(f.subsample))
}

// IsOutlier reports whether the vector scores beyond the calibrated
// contamination threshold.
func (f *Forest) IsOutlier(v features.Vector) bool {
	return f.Score(v) > f.threshold
}

func buildTree(vectors []features.Vector, idx []int, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(idx) <= 1 {
		return &treeNode{size: len(idx)}
	}

	feature, lo, hi, ok := pickSplitFeature(vectors, idx, rng)
	if !ok {
		// All remaining points identical; nothing left to isolate.
		return &treeNode{size: len(idx)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if vectors[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &treeNode{
		feature: feature,
		split:   split,
		left:    buildTree(vectors, left, depth+1, heightLimit, rng),
		right:   buildTree(vectors, right, depth+1, heightLimit, rng),
	}
}

// pickSplitFeature chooses a random feature with spread in the subset,
// falling back to a scan when the first pick is constant.
func pickSplitFeature(vectors []features.Vector, idx []int, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	start := rng.Intn(features.Dim)
	for off := 0; off < features.Dim; off++ {
		feature = (start + off) % features.Dim
		lo, hi = vectors[idx[0]][feature], vectors[idx[0]][feature]
		for _, i := range idx[1:] {
			x := vectors[i][feature]
			if x < lo {
				lo = x
			}
			if x > hi {
				hi = x
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// pathLength traverses one tree. Splits only ever fall inside the fit
// sample's range, so a value beyond that range on the split feature can
// never be cut away from the sample extreme by descending further; it
// isolates in one additional cut instead.
func (f *Forest) pathLength(n *treeNode, v features.Vector, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePathLength(n.size)
	}
	x := v[n.feature]
	if x < f.lo[n.feature] || x > f.hi[n.feature] {
		return float64(depth) + 1
	}
	if x < n.split {
		return f.pathLength(n.left, v, depth+1)
	}
	return f.pathLength(n.right, v, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful
// search in a binary search tree of n points, used both to terminate
// unresolved leaves and to normalize scores.
func averagePathLength(n int) float64 {
	switch {
	case n > 2:
		h := math.Log(float64(n-1)) + 0.5772156649015329
		return 2*h - 2*float64(n-1)/float64(n)
	case n == 2:
		return 1
	default:
		return 0
	}
}
