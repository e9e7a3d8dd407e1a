// Package ensemble implements the gradient boosting classifier used to score
// churn risk.
package ensemble

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/core/model"
	"github.com/YuminosukeSato/churnpredict/core/parallel"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	"github.com/YuminosukeSato/churnpredict/sklearn/model_selection"
)

// Params は GradientBoostingClassifier のハイパーパラメータ
type Params struct {
	NEstimators        int     `json:"n_estimators"`
	LearningRate       float64 `json:"learning_rate"`
	MaxDepth           int     `json:"max_depth"`
	Subsample          float64 `json:"subsample"`
	MinSamplesSplit    int     `json:"min_samples_split"`
	MinSamplesLeaf     int     `json:"min_samples_leaf"`
	RegLambda          float64 `json:"reg_lambda"`
	NIterNoChange      int     `json:"n_iter_no_change"`
	ValidationFraction float64 `json:"validation_fraction"`
	Tol                float64 `json:"tol"`
	RandomState        uint64  `json:"random_state"`
}

// DefaultParams returns scikit-learn's defaults with early stopping after 5
// stagnant rounds on a 10% validation split.
func DefaultParams() Params {
	return Params{
		NEstimators:        100,
		LearningRate:       0.1,
		MaxDepth:           3,
		Subsample:          1.0,
		MinSamplesSplit:    2,
		MinSamplesLeaf:     1,
		RegLambda:          0,
		NIterNoChange:      5,
		ValidationFraction: 0.1,
		Tol:                1e-4,
		RandomState:        42,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", p.NEstimators)
	case !(p.LearningRate > 0):
		return errors.NewValidationError("learning_rate", "must be positive", p.LearningRate)
	case p.MaxDepth < 1:
		return errors.NewValidationError("max_depth", "must be at least 1", p.MaxDepth)
	case !(p.Subsample > 0 && p.Subsample <= 1):
		return errors.NewValidationError("subsample", "must be in (0, 1]", p.Subsample)
	case p.MinSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be at least 2", p.MinSamplesSplit)
	case p.MinSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", p.MinSamplesLeaf)
	case p.RegLambda < 0:
		return errors.NewValidationError("reg_lambda", "must be non-negative", p.RegLambda)
	case p.NIterNoChange > 0 && !(p.ValidationFraction > 0 && p.ValidationFraction < 1):
		return errors.NewValidationError("validation_fraction", "must be in (0, 1)", p.ValidationFraction)
	}
	return nil
}

// String renders the parameters grid search varies.
func (p Params) String() string {
	return fmt.Sprintf("n_estimators=%d learning_rate=%g max_depth=%d subsample=%g min_samples_split=%d",
		p.NEstimators, p.LearningRate, p.MaxDepth, p.Subsample, p.MinSamplesSplit)
}

// GradientBoostingClassifier は二値分類のための勾配ブースティング
//
// 損失は二値対数損失で、各ステージは勾配とヘッセ行列から
// ニュートン法で葉の値を決める回帰木を学習する。
// 学習後は読み取り専用で、複数ゴルーチンから同時に予測できる。
type GradientBoostingClassifier struct {
	model.BaseEstimator

	Params Params

	// InitScore は事前確率の対数オッズ
	InitScore float64

	Trees []Tree

	// NFeatures は学習時の特徴量数
	NFeatures int

	// BestIteration は早期終了で選ばれた反復（0始まり）。早期終了なしなら最後の反復
	BestIteration int

	// TrainLoss / ValidationLoss は反復ごとの損失
	TrainLoss      []float64
	ValidationLoss []float64

	// FeatureImportances は分割ゲインの合計を正規化したもの
	FeatureImportances []float64
}

// NewGradientBoostingClassifier creates a classifier with the given parameters.
func NewGradientBoostingClassifier(params Params) *GradientBoostingClassifier {
	return &GradientBoostingClassifier{Params: params}
}

// Fit trains the ensemble. Labels are read from the first column of y and
// must be 0 or 1 with both classes present.
func (g *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	if err := g.Params.Validate(); err != nil {
		return err
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yr, _ := y.Dims()
	if yr != n {
		return errors.NewDimensionError("GradientBoostingClassifier.Fit", n, yr, 0)
	}
	labels := make([]float64, n)
	for i := range labels {
		v := y.At(i, 0)
		if v != 0 && v != 1 {
			return errors.NewValueError("GradientBoostingClassifier.Fit", "labels must be 0 or 1")
		}
		labels[i] = v
	}
	if !model_selection.HasBothClasses(y) {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "single class in training labels", errors.ErrDegenerateFold)
	}

	logger := log.GetLoggerWithName("ensemble").With(log.ModelNameKey, "GradientBoostingClassifier")

	Xd := mat.DenseCopyOf(X)
	trainRows, valRows := g.validationSplit(y, logger)

	g.NFeatures = p
	g.Trees = g.Trees[:0]
	g.TrainLoss = nil
	g.ValidationLoss = nil
	g.FeatureImportances = make([]float64, p)

	// 事前確率で初期化
	pos := 0.0
	for _, i := range trainRows {
		pos += labels[i]
	}
	prior := errors.ClipValue(pos/float64(len(trainRows)), 1e-15, 1-1e-15)
	g.InitScore = math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = g.InitScore
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	nodeOf := make([]int, n)

	inTrain := make([]bool, n)
	for _, i := range trainRows {
		inTrain[i] = true
	}
	orderedIdx := presort(Xd)
	// 検証行は木の成長に使わない
	for j := range orderedIdx {
		kept := make([]int, 0, len(trainRows))
		for _, i := range orderedIdx[j] {
			if inTrain[i] {
				kept = append(kept, i)
			}
		}
		orderedIdx[j] = kept
	}

	rng := rand.New(rand.NewPCG(g.Params.RandomState, g.Params.RandomState^0x5851f42d4c957f2d))
	nBag := int(math.Floor(g.Params.Subsample * float64(len(trainRows))))
	if nBag < 1 {
		nBag = 1
	}
	es := model_selection.NewEarlyStopping(0, 0)
	if len(valRows) > 0 {
		es = model_selection.NewEarlyStopping(g.Params.NIterNoChange, g.Params.Tol)
	}
	tp := treeParams{
		maxDepth:        g.Params.MaxDepth,
		minSamplesSplit: g.Params.MinSamplesSplit,
		minSamplesLeaf:  g.Params.MinSamplesLeaf,
		regLambda:       g.Params.RegLambda,
		learningRate:    g.Params.LearningRate,
	}

	for iter := 0; iter < g.Params.NEstimators; iter++ {
		for _, i := range trainRows {
			prob := errors.StableSigmoid(raw[i])
			grad[i] = prob - labels[i]
			hess[i] = prob * (1 - prob)
		}
		if err := errors.CheckNumericalStability("gradient", grad, iter); err != nil {
			return err
		}

		for i := range nodeOf {
			nodeOf[i] = -1
		}
		if nBag < len(trainRows) {
			perm := rng.Perm(len(trainRows))
			for _, k := range perm[:nBag] {
				nodeOf[trainRows[k]] = 0
			}
		} else {
			for _, i := range trainRows {
				nodeOf[i] = 0
			}
		}

		tree := buildTree(Xd, orderedIdx, grad, hess, nodeOf, tp)
		g.Trees = append(g.Trees, tree)

		for i := 0; i < n; i++ {
			raw[i] += tree.Predict(Xd.RawRowView(i))
		}
		trainLoss := logLoss(labels, raw, trainRows)
		if err := errors.CheckScalar("train_loss", trainLoss, iter); err != nil {
			return err
		}
		g.TrainLoss = append(g.TrainLoss, trainLoss)

		if len(valRows) > 0 {
			valLoss := logLoss(labels, raw, valRows)
			g.ValidationLoss = append(g.ValidationLoss, valLoss)
			if es.Update(iter, valLoss) {
				logger.Debug("Early stopping",
					log.IterationKey, iter,
					"best_iteration", es.BestIteration,
					log.LossKey, es.BestScore,
				)
				break
			}
		}
	}

	g.BestIteration = len(g.Trees) - 1
	if es.Enabled && es.BestIteration >= 0 {
		g.BestIteration = es.BestIteration
		g.Trees = g.Trees[:es.BestIteration+1]
	}
	for t := range g.Trees {
		for _, node := range g.Trees[t].Nodes {
			if !node.IsLeaf() {
				g.FeatureImportances[node.Feature] += node.Gain
			}
		}
	}
	normalize(g.FeatureImportances)

	g.SetFitted()
	logger.Debug("GradientBoostingClassifier fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"n_estimators_fitted", len(g.Trees),
		log.HyperParamsKey, g.Params.String(),
	)
	return nil
}

// validationSplit は早期終了用に学習行と検証行を層化して分ける。
// 検証側が単一クラスになる場合は早期終了を無効にする。
func (g *GradientBoostingClassifier) validationSplit(y mat.Matrix, logger log.Logger) (train, val []int) {
	n, _ := y.Dims()
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	if g.Params.NIterNoChange <= 0 {
		return all, nil
	}
	train, val, err := model_selection.TrainTestSplit(y, g.Params.ValidationFraction, true, g.Params.RandomState)
	if err != nil {
		logger.Warn("Early stopping disabled", err)
		return all, nil
	}
	valY := mat.NewVecDense(len(val), nil)
	for k, i := range val {
		valY.SetVec(k, y.At(i, 0))
	}
	trainY := mat.NewVecDense(len(train), nil)
	for k, i := range train {
		trainY.SetVec(k, y.At(i, 0))
	}
	if !model_selection.HasBothClasses(valY) || !model_selection.HasBothClasses(trainY) {
		logger.Warn("Early stopping disabled: validation split lacks a class",
			log.SamplesKey, n,
		)
		return all, nil
	}
	return train, val
}

func normalize(xs []float64) {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	if total <= 0 {
		return
	}
	for i := range xs {
		xs[i] /= total
	}
}

// DecisionFunction returns the raw log-odds score per row.
func (g *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) (*mat.VecDense, error) {
	if !g.IsFitted() {
		return nil, errors.NewNotFittedError("GradientBoostingClassifier", "DecisionFunction")
	}
	n, p := X.Dims()
	if p != g.NFeatures {
		return nil, errors.NewDimensionError("GradientBoostingClassifier.DecisionFunction", g.NFeatures, p, 1)
	}
	if n == 0 {
		return nil, errors.NewModelError("GradientBoostingClassifier.DecisionFunction", "empty data", errors.ErrEmptyData)
	}
	Xd, ok := X.(*mat.Dense)
	if !ok {
		Xd = mat.DenseCopyOf(X)
	}
	out := make([]float64, n)
	parallel.ParallelizeWithThreshold(n, 1000, func(start, end int) {
		for i := start; i < end; i++ {
			row := Xd.RawRowView(i)
			s := g.InitScore
			for t := range g.Trees {
				s += g.Trees[t].Predict(row)
			}
			out[i] = s
		}
	})
	return mat.NewVecDense(n, out), nil
}

// PredictProba returns an n×2 matrix: P(class=0), P(class=1).
func (g *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := g.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p1 := errors.StableSigmoid(scores.AtVec(i))
		out.Set(i, 0, 1-p1)
		out.Set(i, 1, p1)
	}
	return out, nil
}

// PositiveProba returns P(class=1) per row.
func (g *GradientBoostingClassifier) PositiveProba(X mat.Matrix) ([]float64, error) {
	proba, err := g.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = proba.At(i, 1)
	}
	return out, nil
}

// Predict returns an n×1 matrix of labels using a 0.5 threshold.
func (g *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	p1, err := g.PositiveProba(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(p1), 1, nil)
	for i, p := range p1 {
		if p >= 0.5 {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

// NEstimatorsFitted returns the number of trees kept after early stopping.
func (g *GradientBoostingClassifier) NEstimatorsFitted() int {
	return len(g.Trees)
}

// GetParams returns the model's hyperparameters.
func (g *GradientBoostingClassifier) GetParams() map[string]interface{} {
	p := g.Params
	return map[string]interface{}{
		"n_estimators":        p.NEstimators,
		"learning_rate":       p.LearningRate,
		"max_depth":           p.MaxDepth,
		"subsample":           p.Subsample,
		"min_samples_split":   p.MinSamplesSplit,
		"min_samples_leaf":    p.MinSamplesLeaf,
		"reg_lambda":          p.RegLambda,
		"n_iter_no_change":    p.NIterNoChange,
		"validation_fraction": p.ValidationFraction,
		"tol":                 p.Tol,
		"random_state":        p.RandomState,
	}
}

// SetParams sets hyperparameters by name. Numeric values may be any Go
// number type; YAML and JSON decoders produce float64 for integers.
func (g *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	p := g.Params
	for name, v := range params {
		f, ok := toFloat(v)
		if !ok {
			return errors.NewValidationError(name, "must be a number", v)
		}
		switch name {
		case "n_estimators":
			p.NEstimators = int(f)
		case "learning_rate":
			p.LearningRate = f
		case "max_depth":
			p.MaxDepth = int(f)
		case "subsample":
			p.Subsample = f
		case "min_samples_split":
			p.MinSamplesSplit = int(f)
		case "min_samples_leaf":
			p.MinSamplesLeaf = int(f)
		case "reg_lambda":
			p.RegLambda = f
		case "n_iter_no_change":
			p.NIterNoChange = int(f)
		case "validation_fraction":
			p.ValidationFraction = f
		case "tol":
			p.Tol = f
		case "random_state":
			p.RandomState = uint64(f)
		default:
			return errors.NewValidationError(name, "unknown parameter", v)
		}
	}
	if err := p.Validate(); err != nil {
		return err
	}
	g.Params = p
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint:
		return float64(x), true
	default:
		return 0, false
	}
}
