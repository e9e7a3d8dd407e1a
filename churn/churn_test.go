package churn

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	ms "github.com/YuminosukeSato/churnpredict/sklearn/model_selection"
)

func fastOptions() TrainOptions {
	opts := DefaultTrainOptions()
	opts.Grid = ms.ParamGrid{
		"n_estimators":  {30},
		"max_depth":     {2, 3},
		"learning_rate": {0.1},
	}
	opts.Workers = 2
	return opts
}

var (
	fixtureOnce  sync.Once
	fixtureFrame dataset.Frame
	fixture      *TrainResult
	fixtureErr   error
)

func trained(t *testing.T) (*TrainResult, dataset.Frame) {
	t.Helper()
	fixtureOnce.Do(func() {
		fixtureFrame = dataset.Synthetic(800, 11)
		fixture, fixtureErr = Train(context.Background(), fixtureFrame, fastOptions())
	})
	require.NoError(t, fixtureErr)
	return fixture, fixtureFrame
}

func predictor(t *testing.T) *Predictor {
	t.Helper()
	res, _ := trained(t)
	p, err := NewPredictor(res.Pipeline.Artifacts(), DefaultThreshold)
	require.NoError(t, err)
	return p
}

func TestTrainProducesEvaluatedPipeline(t *testing.T) {
	res, frame := trained(t)

	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Search)
	assert.Len(t, res.Search.Candidates, 2)
	assert.GreaterOrEqual(t, res.Search.BestIndex, 0)

	n := dataset.ExcludeJoined(frame).Len()
	assert.Equal(t, n, res.TrainSamples+res.TestSamples)
	assert.InDelta(t, 0.2, float64(res.TestSamples)/float64(n), 0.01)
	assert.Greater(t, res.ResampledSamples, res.TrainSamples)

	ev := res.Evaluation
	require.NotNil(t, ev)
	assert.Greater(t, ev.ROCAUC, 0.65)
	assert.Equal(t, res.TestSamples, ev.Report.Confusion.Total())
	assert.NotEmpty(t, ev.ROC.X)
	assert.NotEmpty(t, ev.PR.Precision)
}

func TestCorrectorLeavesTestPartitionUntouched(t *testing.T) {
	res, frame := trained(t)
	opts := fastOptions()
	_, y, err := dataset.PrepareTraining(frame)
	require.NoError(t, err)
	n := y.Len()

	// 同じ seed で分割をやり直し、評価データの実ラベル数と突き合わせる
	trainIdx, testIdx, err := ms.TrainTestSplit(y, opts.TestSize, true, opts.Seed)
	require.NoError(t, err)
	require.Equal(t, len(trainIdx), res.TrainSamples)
	assert.Equal(t, n-res.TrainSamples, res.TestSamples)
	assert.Len(t, testIdx, res.TestSamples)

	churned := 0
	for _, i := range testIdx {
		if y.AtVec(i) == 1 {
			churned++
		}
	}
	report := res.Evaluation.Report
	assert.Equal(t, churned, report.Classes[1].Support)
	assert.Equal(t, len(testIdx)-churned, report.Classes[0].Support)
	assert.InDelta(t, float64(churned)/float64(len(testIdx)), res.Evaluation.PositiveRate, 1e-12)

	// SMOTE で増えるのは学習側だけ
	assert.Greater(t, res.ResampledSamples, res.TrainSamples)
	assert.Equal(t, len(testIdx), report.Confusion.Total())
}

func TestTrainRejectsSingleClass(t *testing.T) {
	frame := dataset.Synthetic(100, 1)
	status := frame.Index(dataset.StatusColumn)
	for _, row := range frame.Rows {
		row[status] = dataset.StatusStayed
	}
	_, err := Train(context.Background(), frame, fastOptions())
	var verr *errors.ValueError
	assert.True(t, errors.As(err, &verr))
}

func TestPredictContract(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)

	for i := 0; i < 50; i++ {
		rec := frame.Record(i)
		got, err := p.Predict(rec)
		require.NoError(t, err)
		assert.Contains(t, []int{0, 1}, got.Label)
		assert.GreaterOrEqual(t, got.Probability, 0.0)
		assert.LessOrEqual(t, got.Probability, 1.0)
		assert.Equal(t, got.Probability >= p.Threshold(), got.Label == 1)
		assert.Equal(t, got.Churn(), got.Label == 1)
		assert.GreaterOrEqual(t, got.Confidence(), 0.5)
	}
}

func TestPredictIdempotent(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)
	rec := frame.Record(3)

	a, err := p.Predict(rec)
	require.NoError(t, err)
	b, err := p.Predict(rec)
	require.NoError(t, err)
	assert.Equal(t, math.Float64bits(a.Probability), math.Float64bits(b.Probability))
	assert.Equal(t, a.Label, b.Label)
}

func TestPredictBatchMatchesSingle(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)
	recs := frame.Records()[:20]

	batch, err := p.PredictBatch(recs)
	require.NoError(t, err)
	for i, rec := range recs {
		one, err := p.Predict(rec)
		require.NoError(t, err)
		assert.Equal(t, one, batch[i])
	}

	_, err = p.PredictBatch(nil)
	assert.ErrorIs(t, err, errors.ErrEmptyData)
}

func TestPredictUnseenCategory(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)
	rec := frame.Record(0)
	rec["State"] = "Atlantis"
	rec["Payment_Method"] = "Barter"

	got, err := p.Predict(rec)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(got.Probability))
}

func TestPredictSchemaErrors(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)

	missing := frame.Record(0)
	delete(missing, dataset.TenureColumn)
	_, err := p.Predict(missing)
	var serr *errors.SchemaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, dataset.TenureColumn, serr.Column)

	bad := frame.Record(0)
	bad[dataset.MonthlyChargeColumn] = "expensive"
	_, err = p.Predict(bad)
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, dataset.MonthlyChargeColumn, serr.Column)
}

func TestPredictDirectionalMonotonicity(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)

	risky := frame.Record(0)
	risky["Contract"] = "Month-to-Month"
	risky[dataset.TenureColumn] = "1"
	risky["Number_of_Referrals"] = "0"
	risky["Internet_Service"] = "Yes"
	risky["Internet_Type"] = "Fiber Optic"
	risky["Online_Security"] = "No"
	risky["Premium_Support"] = "No"
	risky[dataset.MonthlyChargeColumn] = "105.00"
	risky["Total_Charges"] = "105.00"

	loyal := frame.Record(0)
	loyal["Contract"] = "Two Year"
	loyal[dataset.TenureColumn] = "36"
	loyal["Number_of_Referrals"] = "10"
	loyal["Internet_Service"] = "Yes"
	loyal["Internet_Type"] = "DSL"
	loyal["Online_Security"] = "Yes"
	loyal["Premium_Support"] = "Yes"
	loyal[dataset.MonthlyChargeColumn] = "55.00"
	loyal["Total_Charges"] = "1980.00"

	pr, err := p.Predict(risky)
	require.NoError(t, err)
	pl, err := p.Predict(loyal)
	require.NoError(t, err)
	assert.Greater(t, pr.Probability, pl.Probability)
}

func TestPersistRoundTrip(t *testing.T) {
	res, frame := trained(t)
	store := artifact.NewFileStore(t.TempDir())
	require.NoError(t, store.Save(context.Background(), res.Pipeline.Artifacts()))

	pair, err := store.Load(context.Background())
	require.NoError(t, err)
	loaded, err := NewPredictor(pair, DefaultThreshold)
	require.NoError(t, err)

	inMemory := predictor(t)
	want, err := inMemory.ScoreFrame(frame)
	require.NoError(t, err)
	got, err := loaded.ScoreFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewPredictorValidation(t *testing.T) {
	res, _ := trained(t)
	_, err := NewPredictor(res.Pipeline.Artifacts(), 1.5)
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = NewPredictor(artifact.Pair{}, 0.5)
	var aerr *errors.ArtifactError
	assert.True(t, errors.As(err, &aerr))
}

func TestEvaluateDimensionMismatch(t *testing.T) {
	res, frame := trained(t)
	_, y, err := dataset.PrepareTraining(frame)
	require.NoError(t, err)
	_, err = Evaluate(res.Pipeline.Artifacts(), frame.Subset([]int{0, 1}), y)
	var derr *errors.DimensionError
	assert.True(t, errors.As(err, &derr))
}

func TestScoreFrameMatchesPredictBatch(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)
	sub := frame.Subset([]int{5, 6, 7})

	scores, err := p.ScoreFrame(sub)
	require.NoError(t, err)
	batch, err := p.PredictBatch(sub.Records())
	require.NoError(t, err)
	for i := range scores {
		assert.InDelta(t, batch[i].Probability, scores[i], 1e-12)
	}
}

func TestScoreFrameLargeFrameInParallel(t *testing.T) {
	p := predictor(t)
	frame := dataset.Synthetic(scoreChunkThreshold+500, 5)

	scores, err := p.ScoreFrame(frame)
	require.NoError(t, err)
	require.Len(t, scores, frame.Len())

	idx := []int{0, scoreChunkThreshold / 2, frame.Len() - 1}
	batch, err := p.PredictBatch(frame.Subset(idx).Records())
	require.NoError(t, err)
	for k, i := range idx {
		assert.InDelta(t, batch[k].Probability, scores[i], 1e-12)
	}

	// 後半の範囲で失敗しても全体がエラーになる
	frame.Rows[frame.Len()-1][frame.Index(dataset.TenureColumn)] = "abc"
	_, err = p.ScoreFrame(frame)
	var serr *errors.SchemaError
	assert.True(t, errors.As(err, &serr), "got %v", err)
}

func TestEvaluateReportsLogLoss(t *testing.T) {
	res, frame := trained(t)
	_, y, err := dataset.PrepareTraining(frame)
	require.NoError(t, err)

	logs, restore := log.UseTestLogger(log.LevelInfo)
	defer restore()

	ev, err := Evaluate(res.Pipeline.Artifacts(), dataset.ExcludeJoined(frame), y)
	require.NoError(t, err)
	assert.Greater(t, ev.LogLoss, 0.0)
	assert.Less(t, ev.LogLoss, 1.0)
	assert.True(t, logs.ContainsMessage("Evaluation"))
	assert.True(t, logs.ContainsField(log.LossKey, ev.LogLoss))
}
