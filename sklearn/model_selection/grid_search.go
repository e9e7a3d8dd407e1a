package model_selection

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// ParamGrid maps a hyperparameter name to the values to try.
type ParamGrid map[string][]interface{}

// Params is one point of a ParamGrid.
type Params map[string]interface{}

// String renders the parameters in key order.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}

// Expand returns the cartesian product of the grid. Keys vary in sorted order
// with the last key changing fastest, so the result is deterministic.
func (g ParamGrid) Expand() []Params {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []Params{{}}
	for _, k := range keys {
		values := g[k]
		if len(values) == 0 {
			continue
		}
		next := make([]Params, 0, len(out)*len(values))
		for _, base := range out {
			for _, v := range values {
				p := make(Params, len(base)+1)
				for bk, bv := range base {
					p[bk] = bv
				}
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// FitScoreFunc fits a fresh model with params on fold.TrainIndices and returns
// its score on fold.TestIndices. Implementations must not share mutable state
// between calls; they run concurrently.
type FitScoreFunc func(ctx context.Context, params Params, fold CVFold) (float64, error)

// CandidateResult holds the cross-validation outcome of one configuration.
type CandidateResult struct {
	Params     Params
	FoldScores []float64
	MeanScore  float64
	StdScore   float64
	ValidFolds int
	// Rank は1始まり。失敗した構成は0
	Rank int
	Err  error
}

// Failed reports whether the configuration produced no usable score.
func (c CandidateResult) Failed() bool { return c.Err != nil || c.ValidFolds == 0 }

// GridSearchResult is the outcome of GridSearchCV.Fit.
type GridSearchResult struct {
	Candidates []CandidateResult
	BestIndex  int
	BestParams Params
	BestScore  float64
}

// GridSearchCV evaluates every configuration of Grid on every fold of CV.
//
// Each (fold, configuration) pair is an independent task executed on an
// errgroup with at most Workers goroutines (one per CPU when Workers is not
// positive). A fold whose train or test part
// contains a single class is excluded from scoring. A task that fails or
// panics marks its configuration as failing.
type GridSearchCV struct {
	Grid    ParamGrid
	CV      *StratifiedKFold
	Workers int
}

// NewGridSearchCV creates a grid search over grid with the given splitter.
func NewGridSearchCV(grid ParamGrid, cv *StratifiedKFold, workers int) *GridSearchCV {
	return &GridSearchCV{Grid: grid, CV: cv, Workers: workers}
}

// workers returns the pool size; non-positive Workers means one per CPU.
func (gs *GridSearchCV) workers() int {
	if gs.Workers > 0 {
		return gs.Workers
	}
	return runtime.NumCPU()
}

type taskOutcome struct {
	score float64
	err   error
	skip  bool
}

// Fit runs the search. y supplies the labels used for fold generation and
// degeneracy checks; fitScore does the actual fitting.
func (gs *GridSearchCV) Fit(ctx context.Context, y mat.Matrix, fitScore FitScoreFunc) (*GridSearchResult, error) {
	logger := log.GetLoggerWithName("model_selection").With(log.OperationKey, log.OperationGridSearch, log.PhaseKey, log.PhaseValidation)

	candidates := gs.Grid.Expand()
	if len(candidates) == 0 || len(candidates[0]) == 0 {
		return nil, errors.NewValidationError("param_grid", "must contain at least one non-empty parameter", len(gs.Grid))
	}
	folds, err := gs.CV.Split(y)
	if err != nil {
		return nil, errors.Wrap(err, "grid search: split folds")
	}

	// 退化した fold は事前に除外する
	degenerate := make([]bool, len(folds))
	for f, fold := range folds {
		if !HasBothClasses(labelsAt(y, fold.TrainIndices)) || !HasBothClasses(labelsAt(y, fold.TestIndices)) {
			degenerate[f] = true
			logger.Warn("Fold excluded", errors.ErrDegenerateFold, log.FoldKey, f)
		}
	}

	outcomes := make([][]taskOutcome, len(candidates))
	for c := range outcomes {
		outcomes[c] = make([]taskOutcome, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gs.workers())
	var mu sync.Mutex
	for c, params := range candidates {
		for f, fold := range folds {
			if degenerate[f] {
				outcomes[c][f].skip = true
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				var score float64
				taskErr := errors.SafeExecute(fmt.Sprintf("fold %d [%s]", f, params), func() error {
					var err error
					score, err = fitScore(gctx, params, fold)
					return err
				})
				out := taskOutcome{score: score, err: taskErr}
				if taskErr != nil && errors.Is(taskErr, errors.ErrDegenerateFold) {
					out = taskOutcome{skip: true}
				}
				if taskErr != nil && ctx.Err() != nil {
					return ctx.Err()
				}
				mu.Lock()
				outcomes[c][f] = out
				mu.Unlock()
				logger.Debug("Fold scored",
					log.FoldKey, f,
					log.HyperParamsKey, params.String(),
					log.ScoreKey, score,
				)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "grid search cancelled")
	}

	result := &GridSearchResult{Candidates: make([]CandidateResult, len(candidates)), BestIndex: -1}
	for c, params := range candidates {
		cr := CandidateResult{Params: params}
		for _, out := range outcomes[c] {
			switch {
			case out.skip:
			case out.err != nil:
				if cr.Err == nil {
					cr.Err = out.err
				}
			default:
				cr.FoldScores = append(cr.FoldScores, out.score)
			}
		}
		cr.ValidFolds = len(cr.FoldScores)
		if cr.Err == nil && cr.ValidFolds == 0 {
			cr.Err = errors.ErrDegenerateFold
		}
		if !cr.Failed() {
			mean, variance := stat.PopMeanVariance(cr.FoldScores, nil)
			cr.MeanScore, cr.StdScore = mean, math.Sqrt(variance)
		} else {
			logger.Warn("Configuration failed", cr.Err, log.HyperParamsKey, params.String())
		}
		result.Candidates[c] = cr
	}

	rankCandidates(result.Candidates)
	for c, cr := range result.Candidates {
		if cr.Rank == 1 {
			result.BestIndex = c
			result.BestParams = cr.Params
			result.BestScore = cr.MeanScore
			break
		}
	}
	if result.BestIndex < 0 {
		return result, errors.ErrNoValidConfiguration
	}

	logger.Info("Grid search finished",
		log.HyperParamsKey, result.BestParams.String(),
		log.ScoreKey, result.BestScore,
		"candidates", len(candidates),
		"folds", len(folds),
	)
	return result, nil
}

func labelsAt(y mat.Matrix, indices []int) *mat.VecDense {
	if len(indices) == 0 {
		return mat.NewVecDense(1, []float64{0})
	}
	v := mat.NewVecDense(len(indices), nil)
	for i, idx := range indices {
		v.SetVec(i, y.At(idx, 0))
	}
	return v
}

// rankCandidates assigns ranks by descending mean score. Earlier candidates
// win ties; failed candidates keep rank 0.
func rankCandidates(cands []CandidateResult) {
	order := make([]int, 0, len(cands))
	for i, c := range cands {
		if !c.Failed() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cands[order[a]].MeanScore > cands[order[b]].MeanScore
	})
	for r, i := range order {
		cands[i].Rank = r + 1
	}
}
