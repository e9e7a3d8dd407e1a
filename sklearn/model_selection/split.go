// Package model_selection provides data splitting, early stopping and
// cross-validated hyperparameter search.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// CVFold represents a single cross-validation fold
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// StratifiedKFold implements stratified k-fold cross-validation.
// Each fold keeps roughly the class proportions of y.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a new StratifiedKFold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed uint64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 2
	}
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices. Labels are read from the
// first column of y. Test indices of each fold are sorted ascending.
func (skf *StratifiedKFold) Split(y mat.Matrix) ([]CVFold, error) {
	nSamples, _ := y.Dims()
	if nSamples < skf.NSplits {
		return nil, errors.NewValidationError("n_splits", "cannot exceed the number of samples", skf.NSplits)
	}

	classIndices, labels := groupByClass(y)
	if skf.Shuffle {
		r := rand.New(rand.NewPCG(skf.RandomSeed, skf.RandomSeed))
		for _, label := range labels {
			indices := classIndices[label]
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
	}

	folds := make([]CVFold, skf.NSplits)
	// 各クラスを順番に fold へ配る
	for _, label := range labels {
		indices := classIndices[label]
		nClass := len(indices)
		foldSize := nClass / skf.NSplits
		remainder := nClass % skf.NSplits

		currentIdx := 0
		for i := 0; i < skf.NSplits; i++ {
			testSize := foldSize
			if i < remainder {
				testSize++
			}
			folds[i].TestIndices = append(folds[i].TestIndices, indices[currentIdx:currentIdx+testSize]...)
			currentIdx += testSize
		}
	}

	for i := range folds {
		sort.Ints(folds[i].TestIndices)
		folds[i].TrainIndices = complement(nSamples, folds[i].TestIndices)
	}
	return folds, nil
}

// TrainTestSplit returns train and test indices. With stratify the class
// proportions are preserved in both parts. Every class with at least two
// samples contributes at least one sample to each side.
func TrainTestSplit(y mat.Matrix, testSize float64, stratify bool, seed uint64) (train, test []int, err error) {
	if !(testSize > 0 && testSize < 1) {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	n, _ := y.Dims()
	if n < 2 {
		return nil, nil, errors.NewModelError("TrainTestSplit", "need at least 2 samples", errors.ErrEmptyData)
	}
	r := rand.New(rand.NewPCG(seed, seed))

	if !stratify {
		perm := r.Perm(n)
		nTest := clampSplit(int(math.Ceil(testSize*float64(n))), n)
		test = append(test, perm[:nTest]...)
		sort.Ints(test)
		return complement(n, test), test, nil
	}

	classIndices, labels := groupByClass(y)
	for _, label := range labels {
		indices := classIndices[label]
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		nTest := int(math.Round(testSize * float64(len(indices))))
		if len(indices) >= 2 {
			nTest = clampSplit(nTest, len(indices))
		}
		test = append(test, indices[:nTest]...)
	}
	sort.Ints(test)
	return complement(n, test), test, nil
}

func clampSplit(k, n int) int {
	if k < 1 {
		return 1
	}
	if k > n-1 {
		return n - 1
	}
	return k
}

func groupByClass(y mat.Matrix) (map[float64][]int, []float64) {
	n, _ := y.Dims()
	classIndices := make(map[float64][]int)
	for i := 0; i < n; i++ {
		label := y.At(i, 0)
		classIndices[label] = append(classIndices[label], i)
	}
	labels := make([]float64, 0, len(classIndices))
	for l := range classIndices {
		labels = append(labels, l)
	}
	sort.Float64s(labels)
	return classIndices, labels
}

// complement returns the sorted indices in [0, n) that are not in sortedOut.
func complement(n int, sortedOut []int) []int {
	out := make([]int, 0, n-len(sortedOut))
	k := 0
	for i := 0; i < n; i++ {
		if k < len(sortedOut) && sortedOut[k] == i {
			k++
			continue
		}
		out = append(out, i)
	}
	return out
}

// HasBothClasses reports whether y contains at least one 0 and one 1.
func HasBothClasses(y mat.Matrix) bool {
	n, _ := y.Dims()
	var pos, neg bool
	for i := 0; i < n && !(pos && neg); i++ {
		if y.At(i, 0) == 1 {
			pos = true
		} else {
			neg = true
		}
	}
	return pos && neg
}
