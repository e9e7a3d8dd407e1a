package model_selection

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

func labels(n, positives int) *mat.VecDense {
	y := mat.NewVecDense(n, nil)
	for i := 0; i < positives; i++ {
		y.SetVec(i*n/positives, 1)
	}
	return y
}

func TestStratifiedKFoldPreservesProportions(t *testing.T) {
	y := labels(30, 9)
	folds, err := NewStratifiedKFold(3, true, 42).Split(y)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	seen := make(map[int]int)
	for _, f := range folds {
		assert.Len(t, f.TestIndices, 10)
		assert.Len(t, f.TrainIndices, 20)
		pos := 0
		for _, i := range f.TestIndices {
			seen[i]++
			if y.AtVec(i) == 1 {
				pos++
			}
		}
		assert.Equal(t, 3, pos)
	}
	assert.Len(t, seen, 30, "every sample is tested exactly once")
}

func TestStratifiedKFoldDeterministic(t *testing.T) {
	y := labels(40, 10)
	a, err := NewStratifiedKFold(4, true, 7).Split(y)
	require.NoError(t, err)
	b, err := NewStratifiedKFold(4, true, 7).Split(y)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStratifiedKFoldTooFewSamples(t *testing.T) {
	_, err := NewStratifiedKFold(5, false, 0).Split(labels(3, 1))
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestTrainTestSplitStratified(t *testing.T) {
	y := labels(100, 20)
	train, test, err := TrainTestSplit(y, 0.2, true, 42)
	require.NoError(t, err)
	assert.Len(t, test, 20)
	assert.Len(t, train, 80)

	pos := 0
	for _, i := range test {
		if y.AtVec(i) == 1 {
			pos++
		}
	}
	assert.Equal(t, 4, pos)

	train2, test2, err := TrainTestSplit(y, 0.2, true, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	_, _, err = TrainTestSplit(y, 1.5, true, 42)
	assert.Error(t, err)
}

func TestHasBothClasses(t *testing.T) {
	assert.True(t, HasBothClasses(mat.NewVecDense(3, []float64{0, 1, 0})))
	assert.False(t, HasBothClasses(mat.NewVecDense(2, []float64{0, 0})))
	assert.False(t, HasBothClasses(mat.NewVecDense(2, []float64{1, 1})))
}

func TestEarlyStopping(t *testing.T) {
	es := NewEarlyStopping(2, 0.01)
	assert.False(t, es.Update(0, 1.0))
	assert.False(t, es.Update(1, 0.5))
	assert.False(t, es.Update(2, 0.495))
	assert.True(t, es.Update(3, 0.6))
	assert.Equal(t, 1, es.BestIteration)
	assert.Equal(t, 2, es.RoundsNoImprove)

	disabled := NewEarlyStopping(0, 0)
	assert.False(t, disabled.Update(0, 1))
	assert.Equal(t, -1, disabled.BestIteration)
}

func TestParamGridExpand(t *testing.T) {
	grid := ParamGrid{
		"b": {1, 2},
		"a": {"x", "y", "z"},
	}
	got := grid.Expand()
	require.Len(t, got, 6)
	assert.Equal(t, Params{"a": "x", "b": 1}, got[0])
	assert.Equal(t, Params{"a": "z", "b": 2}, got[5])
	assert.Equal(t, "a=x b=1", got[0].String())
}

func TestGridSearchPicksBestConfiguration(t *testing.T) {
	y := labels(30, 10)
	grid := ParamGrid{"depth": {1, 3, 2}}
	var calls atomic.Int32

	gs := NewGridSearchCV(grid, NewStratifiedKFold(3, true, 42), 2)
	res, err := gs.Fit(context.Background(), y, func(_ context.Context, p Params, fold CVFold) (float64, error) {
		calls.Add(1)
		assert.NotEmpty(t, fold.TrainIndices)
		return float64(p["depth"].(int)) / 10, nil
	})
	require.NoError(t, err)

	assert.EqualValues(t, 9, calls.Load())
	assert.Equal(t, 1, res.BestIndex)
	assert.Equal(t, Params{"depth": 3}, res.BestParams)
	assert.InDelta(t, 0.3, res.BestScore, 1e-12)
	assert.Equal(t, []int{3, 1, 2}, []int{res.Candidates[0].Rank, res.Candidates[1].Rank, res.Candidates[2].Rank})
	assert.Equal(t, 3, res.Candidates[0].ValidFolds)
	assert.InDelta(t, 0, res.Candidates[0].StdScore, 1e-12)
}

func TestGridSearchBoundsConcurrentFits(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		limit   int
	}{
		{"explicit", 2, 2},
		{"one per CPU", 0, runtime.NumCPU()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y := labels(30, 10)
			grid := ParamGrid{"lr": {0.01, 0.02, 0.05, 0.1}, "depth": {2, 3, 4, 5}}
			var active, peak, calls atomic.Int32

			_, err := NewGridSearchCV(grid, NewStratifiedKFold(3, true, 7), tt.workers).Fit(context.Background(), y,
				func(context.Context, Params, CVFold) (float64, error) {
					calls.Add(1)
					n := active.Add(1)
					defer active.Add(-1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					return 0.5, nil
				})
			require.NoError(t, err)
			assert.EqualValues(t, 48, calls.Load())
			assert.LessOrEqual(t, int(peak.Load()), tt.limit)
			assert.GreaterOrEqual(t, int(peak.Load()), 1)
		})
	}
}

func TestGridSearchPanicMarksConfigurationFailed(t *testing.T) {
	y := labels(30, 10)
	grid := ParamGrid{"lr": {0.1, 0.2}}

	res, err := NewGridSearchCV(grid, NewStratifiedKFold(3, false, 0), 0).Fit(context.Background(), y,
		func(_ context.Context, p Params, _ CVFold) (float64, error) {
			if p["lr"].(float64) == 0.2 {
				panic("boom")
			}
			return 0.5, nil
		})
	require.NoError(t, err)

	assert.Equal(t, 0, res.BestIndex)
	failed := res.Candidates[1]
	assert.True(t, failed.Failed())
	assert.Equal(t, 0, failed.Rank)
	var perr *errors.PanicError
	assert.True(t, errors.As(failed.Err, &perr))
}

func TestGridSearchAllDegenerateFolds(t *testing.T) {
	// 陽性が1件だけなので全 fold が片方のクラスしか持たない
	y := labels(9, 1)
	grid := ParamGrid{"lr": {0.1}}

	res, err := NewGridSearchCV(grid, NewStratifiedKFold(3, false, 0), 1).Fit(context.Background(), y,
		func(context.Context, Params, CVFold) (float64, error) {
			t.Fatal("degenerate folds must not be scored")
			return 0, nil
		})
	assert.ErrorIs(t, err, errors.ErrNoValidConfiguration)
	require.NotNil(t, res)
	assert.ErrorIs(t, res.Candidates[0].Err, errors.ErrDegenerateFold)
}

func TestGridSearchErrorsFailEveryConfiguration(t *testing.T) {
	y := labels(30, 10)
	_, err := NewGridSearchCV(ParamGrid{"lr": {0.1, 0.2}}, NewStratifiedKFold(3, false, 0), 2).Fit(context.Background(), y,
		func(context.Context, Params, CVFold) (float64, error) {
			return 0, errors.New("fit failed")
		})
	assert.ErrorIs(t, err, errors.ErrNoValidConfiguration)
}

func TestGridSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGridSearchCV(ParamGrid{"lr": {0.1}}, NewStratifiedKFold(3, false, 0), 1).Fit(ctx, labels(30, 10),
		func(context.Context, Params, CVFold) (float64, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
