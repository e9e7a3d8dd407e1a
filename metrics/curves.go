package metrics

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Curve holds one point per distinct score threshold, highest threshold
// first. For ROC curves X is the false positive rate and Y the true positive
// rate; ROC curves additionally start at (0, 0).
type Curve struct {
	Thresholds []float64
	X, Y       []float64
}

// PRCurve is a precision-recall curve, highest threshold first.
type PRCurve struct {
	Thresholds []float64
	Precision  []float64
	Recall     []float64
	Positives  int
}

// thresholdCounts returns cumulative true/false positive counts at each
// distinct score, scanning from the highest score down.
func thresholdCounts(yTrue, yScore *mat.VecDense) (thresholds []float64, tps, fps []float64, nPos, nNeg float64) {
	n := yTrue.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) > yScore.AtVec(idx[b]) })

	tp, fp := 0.0, 0.0
	for k, i := range idx {
		if yTrue.AtVec(i) == 1 {
			tp++
		} else {
			fp++
		}
		// 同じスコアの最後の要素でのみ閾値を確定する
		if k+1 < n && yScore.AtVec(idx[k+1]) == yScore.AtVec(i) {
			continue
		}
		thresholds = append(thresholds, yScore.AtVec(i))
		tps = append(tps, tp)
		fps = append(fps, fp)
	}
	return thresholds, tps, fps, tp, fp
}

// ROCCurve computes the receiver operating characteristic. Inputs are assumed
// validated; when one class is absent the corresponding rate stays 0.
func ROCCurve(yTrue, yScore *mat.VecDense) Curve {
	thresholds, tps, fps, nPos, nNeg := thresholdCounts(yTrue, yScore)
	c := Curve{
		Thresholds: append([]float64{thresholds[0] + 1}, thresholds...),
		X:          make([]float64, len(thresholds)+1),
		Y:          make([]float64, len(thresholds)+1),
	}
	for k := range thresholds {
		if nNeg > 0 {
			c.X[k+1] = fps[k] / nNeg
		}
		if nPos > 0 {
			c.Y[k+1] = tps[k] / nPos
		}
	}
	return c
}

// PrecisionRecallCurve computes precision and recall at every threshold.
func PrecisionRecallCurve(yTrue, yScore *mat.VecDense) PRCurve {
	thresholds, tps, fps, nPos, _ := thresholdCounts(yTrue, yScore)
	c := PRCurve{
		Thresholds: thresholds,
		Precision:  make([]float64, len(thresholds)),
		Recall:     make([]float64, len(thresholds)),
		Positives:  int(nPos),
	}
	for k := range thresholds {
		c.Precision[k] = tps[k] / (tps[k] + fps[k])
		if nPos > 0 {
			c.Recall[k] = tps[k] / nPos
		}
	}
	return c
}
