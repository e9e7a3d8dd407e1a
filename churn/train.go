// Package churn wires the preprocessing, resampling and boosting stages into
// the training pipeline and exposes the serving adapters built on top of a
// persisted artifact pair.
package churn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/imbalance"
	"github.com/YuminosukeSato/churnpredict/metrics"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
	"github.com/YuminosukeSato/churnpredict/sklearn/ensemble"
	ms "github.com/YuminosukeSato/churnpredict/sklearn/model_selection"
)

// SMOTEOptions configure the imbalance corrector.
type SMOTEOptions struct {
	KNeighbors int
	Strategy   string
	Ratio      float64
}

// TrainOptions control Train.
type TrainOptions struct {
	Seed        uint64
	TestSize    float64
	Folds       int
	Workers     int
	DropColumns []string

	// Base は格子探索で上書きされない分類器パラメータ（早期終了など）
	Base  ensemble.Params
	Grid  ms.ParamGrid
	SMOTE SMOTEOptions
}

// DefaultGrid is the hyperparameter grid searched by default.
func DefaultGrid() ms.ParamGrid {
	return ms.ParamGrid{
		"n_estimators":      {100, 200},
		"learning_rate":     {0.05, 0.1},
		"max_depth":         {3, 4},
		"subsample":         {0.9, 1.0},
		"min_samples_split": {5, 10},
	}
}

// DefaultTrainOptions returns an 80/20 split, 3 stratified folds, seed 42 and
// the default grid.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Seed:        42,
		TestSize:    0.2,
		Folds:       3,
		DropColumns: dataset.DefaultDropColumns,
		Base:        ensemble.DefaultParams(),
		Grid:        DefaultGrid(),
		SMOTE:       SMOTEOptions{KNeighbors: 5, Strategy: imbalance.StrategyMinority, Ratio: 1},
	}
}

// TrainedPipeline is transform → corrector → classifier. Only the transform
// and the classifier are persisted.
type TrainedPipeline struct {
	Preprocessor *preprocessing.ColumnTransformer
	Corrector    *imbalance.SMOTE
	Model        *ensemble.GradientBoostingClassifier
}

// Artifacts returns the persistable pair.
func (p TrainedPipeline) Artifacts() artifact.Pair {
	return artifact.Pair{Preprocessor: p.Preprocessor, Model: p.Model}
}

// TrainResult is everything Train produced.
type TrainResult struct {
	RunID      string
	Pipeline   TrainedPipeline
	Search     *ms.GridSearchResult
	Evaluation *Evaluation

	TrainSamples int
	TestSamples  int
	// ResampledSamples は SMOTE 後の学習行数
	ResampledSamples int
	Duration         time.Duration
}

// Train runs the full pipeline on the customer frame: Joined rows are removed,
// labels derived, the data split 80/20 stratified, the grid searched with
// stratified k-fold cross-validation, the best configuration refit on the
// training partition and evaluated on the untouched test partition.
func Train(ctx context.Context, frame dataset.Frame, opts TrainOptions) (*TrainResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := log.GetLoggerWithName("churn").With(log.RunIDKey, runID, log.PhaseKey, log.PhaseTraining, log.RandomSeedKey, opts.Seed)

	frame, y, err := dataset.PrepareTraining(frame)
	if err != nil {
		return nil, err
	}
	if !ms.HasBothClasses(y) {
		return nil, errors.NewValueError("churn.Train", "training data must contain churned and retained customers")
	}

	trainIdx, testIdx, err := ms.TrainTestSplit(y, opts.TestSize, true, opts.Seed)
	if err != nil {
		return nil, err
	}
	trainFrame, yTrain := frame.Subset(trainIdx), subsetLabels(y, trainIdx)
	testFrame, yTest := frame.Subset(testIdx), subsetLabels(y, testIdx)
	logger.Info("Data split",
		log.SamplesKey, frame.Len(),
		"train", len(trainIdx),
		"test", len(testIdx),
		log.PositiveRateKey, positiveRate(y),
	)

	cv := ms.NewStratifiedKFold(opts.Folds, true, opts.Seed)
	search := ms.NewGridSearchCV(opts.Grid, cv, opts.Workers)
	result, err := search.Fit(ctx, yTrain, func(ctx context.Context, params ms.Params, fold ms.CVFold) (float64, error) {
		return scoreFold(ctx, trainFrame, yTrain, fold, params, opts)
	})
	if err != nil {
		return nil, errors.Wrap(err, "grid search")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pipeline, resampled, err := fitPipeline(trainFrame, yTrain, result.BestParams, opts)
	if err != nil {
		return nil, errors.Wrap(err, "refit best configuration")
	}

	eval, err := Evaluate(pipeline.Artifacts(), testFrame, yTest)
	if err != nil {
		return nil, err
	}

	res := &TrainResult{
		RunID:            runID,
		Pipeline:         pipeline,
		Search:           result,
		Evaluation:       eval,
		TrainSamples:     len(trainIdx),
		TestSamples:      len(testIdx),
		ResampledSamples: resampled,
		Duration:         time.Since(start),
	}
	logger.Info("Training finished",
		log.HyperParamsKey, result.BestParams.String(),
		log.ScoreKey, result.BestScore,
		log.AUCKey, eval.ROCAUC,
		log.AveragePrecisionKey, eval.AveragePrecision,
		log.DurationMsKey, res.Duration.Milliseconds(),
	)
	return res, nil
}

// scoreFold fits a fresh pipeline on the fold's training rows and returns the
// F1 score of the churn class on its validation rows.
func scoreFold(ctx context.Context, frame dataset.Frame, y *mat.VecDense, fold ms.CVFold, params ms.Params, opts TrainOptions) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	yTrain, yVal := subsetLabels(y, fold.TrainIndices), subsetLabels(y, fold.TestIndices)
	if !ms.HasBothClasses(yTrain) || !ms.HasBothClasses(yVal) {
		return 0, errors.ErrDegenerateFold
	}
	p, _, err := fitPipeline(frame.Subset(fold.TrainIndices), yTrain, params, opts)
	if err != nil {
		return 0, err
	}
	X, err := p.Preprocessor.Transform(frame.Subset(fold.TestIndices))
	if err != nil {
		return 0, err
	}
	proba, err := p.Model.PositiveProba(X)
	if err != nil {
		return 0, err
	}
	return metrics.F1Score(yVal, thresholdLabels(proba, DefaultThreshold))
}

// fitPipeline fits transform, corrector and classifier on one partition. The
// corrector only ever sees the rows passed in.
func fitPipeline(frame dataset.Frame, y *mat.VecDense, params ms.Params, opts TrainOptions) (TrainedPipeline, int, error) {
	ct := preprocessing.NewColumnTransformer(opts.DropColumns)
	X, err := ct.FitTransform(frame)
	if err != nil {
		return TrainedPipeline{}, 0, err
	}

	smote := imbalance.NewSMOTE(opts.Seed)
	if opts.SMOTE.KNeighbors > 0 {
		smote.KNeighbors = opts.SMOTE.KNeighbors
	}
	if opts.SMOTE.Strategy != "" {
		smote.Strategy = opts.SMOTE.Strategy
	}
	if opts.SMOTE.Ratio > 0 {
		smote.Ratio = opts.SMOTE.Ratio
	}
	Xr, yr, err := smote.FitResample(X, y)
	if err != nil {
		return TrainedPipeline{}, 0, err
	}

	base := opts.Base
	base.RandomState = opts.Seed
	clf := ensemble.NewGradientBoostingClassifier(base)
	if err := clf.SetParams(params); err != nil {
		return TrainedPipeline{}, 0, err
	}
	if err := clf.Fit(Xr, yr); err != nil {
		return TrainedPipeline{}, 0, err
	}
	n, _ := Xr.Dims()
	return TrainedPipeline{Preprocessor: ct, Corrector: smote, Model: clf}, n, nil
}

func subsetLabels(y *mat.VecDense, indices []int) *mat.VecDense {
	if len(indices) == 0 {
		return &mat.VecDense{}
	}
	data := make([]float64, len(indices))
	for i, idx := range indices {
		data[i] = y.AtVec(idx)
	}
	return mat.NewVecDense(len(data), data)
}

// thresholdLabels returns 1 where p >= threshold.
func thresholdLabels(proba []float64, threshold float64) *mat.VecDense {
	labels := make([]float64, len(proba))
	for i, p := range proba {
		if p >= threshold {
			labels[i] = 1
		}
	}
	return mat.NewVecDense(len(labels), labels)
}

func positiveRate(y *mat.VecDense) float64 {
	if y.Len() == 0 {
		return 0
	}
	return mat.Sum(y) / float64(y.Len())
}
