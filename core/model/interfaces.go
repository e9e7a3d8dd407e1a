// Package model provides the estimator contracts shared by the preprocessing,
// resampling and ensemble packages.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ProbabilisticClassifier is a binary classifier that exposes P(class=1).
type ProbabilisticClassifier interface {
	Fitter
	Predictor

	// PredictProba returns an n×2 matrix with P(class=0) and P(class=1) per row.
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Resampler rebalances a labelled training set. Implementations must never be
// applied to evaluation data.
type Resampler interface {
	FitResample(X, y mat.Matrix) (*mat.Dense, *mat.VecDense, error)
}
