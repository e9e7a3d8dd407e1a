package churn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/metrics"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// Evaluation holds held-out metrics of a fitted pair.
type Evaluation struct {
	Report           metrics.ClassificationReport
	ROCAUC           float64
	AveragePrecision float64
	LogLoss          float64
	ROC              metrics.Curve
	PR               metrics.PRCurve
	Threshold        float64

	// PositiveRate は評価データの実際の解約率
	PositiveRate float64
}

// Evaluate scores the pair on frame and compares against y. It never modifies
// its inputs.
func Evaluate(pair artifact.Pair, frame dataset.Frame, y *mat.VecDense) (*Evaluation, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if y == nil || y.Len() != frame.Len() {
		got := 0
		if y != nil {
			got = y.Len()
		}
		return nil, errors.NewDimensionError("churn.Evaluate", frame.Len(), got, 0)
	}
	X, err := pair.Preprocessor.Transform(frame)
	if err != nil {
		return nil, err
	}
	proba, err := pair.Model.PositiveProba(X)
	if err != nil {
		return nil, err
	}
	scores := mat.NewVecDense(len(proba), proba)
	pred := thresholdLabels(proba, DefaultThreshold)

	report, err := metrics.NewClassificationReport(y, pred)
	if err != nil {
		return nil, err
	}
	auc, err := metrics.AUC(y, scores)
	if err != nil {
		return nil, err
	}
	ap, err := metrics.AveragePrecision(y, scores)
	if err != nil {
		return nil, err
	}
	logLoss, err := metrics.BinaryLogLoss(y, scores)
	if err != nil {
		return nil, err
	}
	eval := &Evaluation{
		Report:           report,
		ROCAUC:           auc,
		AveragePrecision: ap,
		LogLoss:          logLoss,
		ROC:              metrics.ROCCurve(y, scores),
		PR:               metrics.PrecisionRecallCurve(y, scores),
		Threshold:        DefaultThreshold,
		PositiveRate:     positiveRate(y),
	}

	log.GetLoggerWithName("churn").Info("Evaluation",
		log.PhaseKey, log.PhaseTesting,
		log.SamplesKey, y.Len(),
		log.AUCKey, auc,
		log.AveragePrecisionKey, ap,
		log.LossKey, logLoss,
		log.ScoreKey, report.Classes[1].F1,
	)
	return eval, nil
}
