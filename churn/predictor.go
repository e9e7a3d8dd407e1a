package churn

import (
	"context"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/core/parallel"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
)

// DefaultThreshold is the decision threshold on the churn probability.
const DefaultThreshold = 0.5

// scoreChunkThreshold 以下の行数は 1 範囲で採点する
const scoreChunkThreshold = 2000

// Prediction is the outcome for one customer.
type Prediction struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}

// Churn reports whether the customer is predicted to leave.
func (p Prediction) Churn() bool { return p.Label == 1 }

// Confidence is the probability of the predicted label.
func (p Prediction) Confidence() float64 {
	if p.Label == 1 {
		return p.Probability
	}
	return 1 - p.Probability
}

// Predictor scores raw customer records with a loaded artifact pair. It is
// read-only and safe for concurrent use.
type Predictor struct {
	pair      artifact.Pair
	threshold float64
}

// NewPredictor validates the pair and the threshold (in [0, 1]).
func NewPredictor(pair artifact.Pair, threshold float64) (*Predictor, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if !(threshold >= 0 && threshold <= 1) {
		return nil, errors.NewValidationError("threshold", "must be in [0, 1]", threshold)
	}
	return &Predictor{pair: pair, threshold: threshold}, nil
}

// Threshold returns the decision threshold.
func (p *Predictor) Threshold() float64 { return p.threshold }

// Schema returns the feature schema records must satisfy.
func (p *Predictor) Schema() preprocessing.FeatureSchema { return p.pair.Preprocessor.Schema }

// FeatureNames returns the transformed feature names.
func (p *Predictor) FeatureNames() []string { return p.pair.Preprocessor.FeatureNames() }

// Predict scores one record. Schema violations are reported before the
// classifier runs.
func (p *Predictor) Predict(rec dataset.Record) (Prediction, error) {
	out, err := p.PredictBatch([]dataset.Record{rec})
	if err != nil {
		return Prediction{}, err
	}
	return out[0], nil
}

// PredictBatch scores records in order.
func (p *Predictor) PredictBatch(recs []dataset.Record) ([]Prediction, error) {
	if len(recs) == 0 {
		return nil, errors.NewModelError("churn.Predictor.PredictBatch", "no records", errors.ErrEmptyData)
	}
	X, err := p.pair.Preprocessor.TransformRecords(recs)
	if err != nil {
		return nil, err
	}
	proba, err := p.pair.Model.PositiveProba(X)
	if err != nil {
		return nil, err
	}
	return p.label(proba), nil
}

// ScoreFrame returns churn probabilities for every row of f. Large frames are
// transformed and scored over row ranges in parallel; the first failing range
// aborts the rest.
func (p *Predictor) ScoreFrame(f dataset.Frame) ([]float64, error) {
	if f.Len() == 0 {
		return nil, errors.NewModelError("churn.Predictor.ScoreFrame", "empty frame", errors.ErrEmptyData)
	}
	workers := 0
	if f.Len() <= scoreChunkThreshold {
		workers = 1
	}
	proba := make([]float64, f.Len())
	err := parallel.ParallelizeErr(context.Background(), f.Len(), workers, func(_ context.Context, start, end int) error {
		idx := make([]int, end-start)
		for i := range idx {
			idx[i] = start + i
		}
		X, err := p.pair.Preprocessor.Transform(f.Subset(idx))
		if err != nil {
			return err
		}
		part, err := p.pair.Model.PositiveProba(X)
		if err != nil {
			return err
		}
		copy(proba[start:end], part)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proba, nil
}

func (p *Predictor) label(proba []float64) []Prediction {
	out := make([]Prediction, len(proba))
	for i, pr := range proba {
		out[i] = Prediction{Probability: pr}
		if pr >= p.threshold {
			out[i].Label = 1
		}
	}
	return out
}
