// Package metrics provides binary classification metrics for evaluating the
// churn classifier on held-out data.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// checkBinaryInputs validates that yTrue and yPred are non-nil, non-empty and
// the same length, and that yTrue only contains 0 and 1.
func checkBinaryInputs(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewModelError(op, "nil input", errors.ErrEmptyData)
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	for i := 0; i < n; i++ {
		if v := yTrue.AtVec(i); v != 0 && v != 1 {
			return 0, errors.NewValueError(op, "yTrue must contain only 0 and 1")
		}
	}
	return n, nil
}

// AUC computes the area under the ROC curve via the Mann-Whitney statistic
// with average ranks for tied scores. When only one class is present the
// metric is undefined and 0.5 is returned with an UndefinedMetricWarning.
func AUC(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkBinaryInputs("AUC", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yPred.AtVec(idx[a]) < yPred.AtVec(idx[b]) })

	// 同順位は平均順位
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && yPred.AtVec(idx[j+1]) == yPred.AtVec(idx[i]) {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	nPos, rankSum := 0.0, 0.0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
			rankSum += ranks[i]
		}
	}
	nNeg := float64(n) - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present in yTrue", 0.5))
		return 0.5, nil
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}

// BinaryLogLoss computes the mean binary cross-entropy. Probabilities are
// clipped to [1e-15, 1-1e-15].
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkBinaryInputs("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	const eps = 1e-15
	sum := 0.0
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yPred.AtVec(i), eps, 1-eps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// AveragePrecision summarises the precision-recall curve as
// Σ (R_k − R_{k−1}) · P_k over score thresholds, highest first. Tied scores
// form a single threshold. With no positive labels it returns 0 and raises an
// UndefinedMetricWarning.
func AveragePrecision(yTrue, yScore *mat.VecDense) (float64, error) {
	if _, err := checkBinaryInputs("AveragePrecision", yTrue, yScore); err != nil {
		return 0, err
	}
	curve := PrecisionRecallCurve(yTrue, yScore)
	if curve.Positives == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("average_precision", "no positive samples in yTrue", 0))
		return 0, nil
	}
	ap := 0.0
	prevRecall := 0.0
	for k := range curve.Thresholds {
		ap += (curve.Recall[k] - prevRecall) * curve.Precision[k]
		prevRecall = curve.Recall[k]
	}
	return ap, nil
}
