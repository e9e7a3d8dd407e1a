package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// ConfusionMatrix for binary labels. Rows are actual, columns predicted.
type ConfusionMatrix struct {
	TN, FP, FN, TP int
}

// Total returns the number of samples.
func (c ConfusionMatrix) Total() int { return c.TN + c.FP + c.FN + c.TP }

// BinaryConfusionMatrix counts outcomes of 0/1 predictions.
func BinaryConfusionMatrix(yTrue, yPred *mat.VecDense) (ConfusionMatrix, error) {
	n, err := checkBinaryInputs("BinaryConfusionMatrix", yTrue, yPred)
	if err != nil {
		return ConfusionMatrix{}, err
	}
	var cm ConfusionMatrix
	for i := 0; i < n; i++ {
		actual := yTrue.AtVec(i) == 1
		predicted := yPred.AtVec(i) == 1
		switch {
		case actual && predicted:
			cm.TP++
		case actual:
			cm.FN++
		case predicted:
			cm.FP++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// ClassMetrics are precision, recall and F1 for one class.
type ClassMetrics struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassificationReport mirrors scikit-learn's classification_report for
// binary labels.
type ClassificationReport struct {
	Classes     [2]ClassMetrics // index 0 = stayed, 1 = churned
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Confusion   ConfusionMatrix
}

func classMetrics(name string, tp, fp, fn int) ClassMetrics {
	m := ClassMetrics{Support: tp + fn}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	} else {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples for class "+name, 0))
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	} else {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples for class "+name, 0))
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// NewClassificationReport computes the report from 0/1 labels and predictions.
func NewClassificationReport(yTrue, yPred *mat.VecDense) (ClassificationReport, error) {
	cm, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return ClassificationReport{}, err
	}
	r := ClassificationReport{Confusion: cm}
	r.Classes[1] = classMetrics("1", cm.TP, cm.FP, cm.FN)
	r.Classes[0] = classMetrics("0", cm.TN, cm.FN, cm.FP)
	r.Accuracy = float64(cm.TP+cm.TN) / float64(cm.Total())

	total := float64(cm.Total())
	for _, c := range r.Classes {
		r.MacroAvg.Precision += c.Precision / 2
		r.MacroAvg.Recall += c.Recall / 2
		r.MacroAvg.F1 += c.F1 / 2
		w := float64(c.Support) / total
		r.WeightedAvg.Precision += c.Precision * w
		r.WeightedAvg.Recall += c.Recall * w
		r.WeightedAvg.F1 += c.F1 * w
	}
	r.MacroAvg.Support = cm.Total()
	r.WeightedAvg.Support = cm.Total()
	return r, nil
}

// F1Score returns the F1 score of the positive class.
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	denom := 2*cm.TP + cm.FP + cm.FN
	if denom == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("f1", "no positive labels or predictions", 0))
		return 0, nil
	}
	return float64(2*cm.TP) / float64(denom), nil
}
