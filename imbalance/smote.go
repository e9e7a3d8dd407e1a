// Package imbalance rebalances training data before the classifier sees it.
package imbalance

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// Sampling strategies.
const (
	// StrategyMinority grows the minority class to the majority count.
	StrategyMinority = "minority"
	// StrategyRatio grows the minority class to Ratio × majority count.
	StrategyRatio = "ratio"
)

// SMOTE oversamples the minority class with synthetic interpolations between
// minority samples and their nearest minority neighbours.
//
// Inputs are never modified. The zero value is not usable; call NewSMOTE.
type SMOTE struct {
	// KNeighbors is the neighbourhood size; capped at minority count - 1.
	KNeighbors int

	// Strategy is StrategyMinority or StrategyRatio.
	Strategy string

	// Ratio is the target minority/majority ratio for StrategyRatio, in (0, 1].
	Ratio float64

	// RandomState seeds the PCG generator.
	RandomState uint64
}

// NewSMOTE returns SMOTE with k=5, the minority strategy and the given seed.
func NewSMOTE(seed uint64) *SMOTE {
	return &SMOTE{KNeighbors: 5, Strategy: StrategyMinority, Ratio: 1, RandomState: seed}
}

func (s *SMOTE) validate() error {
	if s.KNeighbors < 1 {
		return errors.NewValidationError("k_neighbors", "must be at least 1", s.KNeighbors)
	}
	switch s.Strategy {
	case StrategyMinority:
	case StrategyRatio:
		if !(s.Ratio > 0 && s.Ratio <= 1) {
			return errors.NewValidationError("ratio", "must be in (0, 1]", s.Ratio)
		}
	default:
		return errors.NewValidationError("strategy", "must be minority or ratio", s.Strategy)
	}
	return nil
}

// FitResample returns X and y with synthetic minority rows appended after the
// original rows. Labels must be 0 or 1 and the minority class needs at least
// two samples. When the minority class already meets the target the data is
// returned as a copy.
func (s *SMOTE) FitResample(X, y mat.Matrix) (*mat.Dense, *mat.VecDense, error) {
	if err := s.validate(); err != nil {
		return nil, nil, err
	}
	n, p := X.Dims()
	yr, yc := y.Dims()
	if n == 0 {
		return nil, nil, errors.NewModelError("SMOTE.FitResample", "empty data", errors.ErrEmptyData)
	}
	if yc != 1 {
		return nil, nil, errors.NewDimensionError("SMOTE.FitResample", 1, yc, 1)
	}
	if yr != n {
		return nil, nil, errors.NewDimensionError("SMOTE.FitResample", n, yr, 0)
	}

	var pos, neg []int
	for i := 0; i < n; i++ {
		switch y.At(i, 0) {
		case 1:
			pos = append(pos, i)
		case 0:
			neg = append(neg, i)
		default:
			return nil, nil, errors.NewValueError("SMOTE.FitResample", "labels must be 0 or 1")
		}
	}
	minority, majority, minorityLabel := pos, neg, 1.0
	if len(pos) > len(neg) {
		minority, majority, minorityLabel = neg, pos, 0.0
	}

	if len(minority) < 2 {
		return nil, nil, errors.NewValueError("SMOTE.FitResample", "need at least 2 minority samples to interpolate")
	}

	target := len(majority)
	if s.Strategy == StrategyRatio {
		target = int(math.Round(s.Ratio * float64(len(majority))))
	}
	nSynthetic := target - len(minority)

	Xout := mat.NewDense(n+max(nSynthetic, 0), p, nil)
	yout := mat.NewVecDense(n+max(nSynthetic, 0), nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			Xout.Set(i, j, X.At(i, j))
		}
		yout.SetVec(i, y.At(i, 0))
	}
	if nSynthetic <= 0 {
		return Xout, yout, nil
	}

	k := min(s.KNeighbors, len(minority)-1)
	neighbors := nearestNeighbors(Xout, minority, k)

	rng := rand.New(rand.NewPCG(s.RandomState, s.RandomState))
	for t := 0; t < nSynthetic; t++ {
		a := rng.IntN(len(minority))
		b := neighbors[a][rng.IntN(k)]
		gap := rng.Float64()

		row := n + t
		base := Xout.RawRowView(minority[a])
		nb := Xout.RawRowView(minority[b])
		dst := Xout.RawRowView(row)
		for j := range dst {
			dst[j] = base[j] + gap*(nb[j]-base[j])
		}
		yout.SetVec(row, minorityLabel)
	}

	log.GetLoggerWithName("imbalance").Debug("SMOTE resampled",
		log.ModelNameKey, "SMOTE",
		log.OperationKey, log.OperationResample,
		log.SamplesKey, n,
		"synthetic", nSynthetic,
		"k_neighbors", k,
	)
	return Xout, yout, nil
}

// nearestNeighbors returns, for each minority position a, the positions (into
// minority) of its k nearest other minority rows by Euclidean distance.
// Ties are broken by position so the result is deterministic.
func nearestNeighbors(X *mat.Dense, minority []int, k int) [][]int {
	m := len(minority)
	out := make([][]int, m)
	type cand struct {
		pos  int
		dist float64
	}
	cands := make([]cand, 0, m-1)
	for a := 0; a < m; a++ {
		ra := X.RawRowView(minority[a])
		cands = cands[:0]
		for b := 0; b < m; b++ {
			if b == a {
				continue
			}
			cands = append(cands, cand{pos: b, dist: floats.Distance(ra, X.RawRowView(minority[b]), 2)})
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].dist != cands[j].dist {
				return cands[i].dist < cands[j].dist
			}
			return cands[i].pos < cands[j].pos
		})
		nb := make([]int, k)
		for i := 0; i < k; i++ {
			nb[i] = cands[i].pos
		}
		out[a] = nb
	}
	return out
}
