package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/metrics"
	ms "github.com/YuminosukeSato/churnpredict/sklearn/model_selection"
)

func evaluation(t *testing.T) *churn.Evaluation {
	t.Helper()
	y := mat.NewVecDense(6, []float64{0, 0, 1, 1, 0, 1})
	scores := mat.NewVecDense(6, []float64{0.1, 0.6, 0.8, 0.4, 0.2, 0.9})
	pred := mat.NewVecDense(6, []float64{0, 1, 1, 0, 0, 1})

	rep, err := metrics.NewClassificationReport(y, pred)
	require.NoError(t, err)
	auc, err := metrics.AUC(y, scores)
	require.NoError(t, err)
	ap, err := metrics.AveragePrecision(y, scores)
	require.NoError(t, err)
	ll, err := metrics.BinaryLogLoss(y, scores)
	require.NoError(t, err)
	return &churn.Evaluation{
		Report:           rep,
		ROCAUC:           auc,
		AveragePrecision: ap,
		LogLoss:          ll,
		ROC:              metrics.ROCCurve(y, scores),
		PR:               metrics.PrecisionRecallCurve(y, scores),
		Threshold:        0.5,
	}
}

func TestWriteEvaluation(t *testing.T) {
	var buf bytes.Buffer
	WriteEvaluation(&buf, evaluation(t))
	out := buf.String()

	assert.Contains(t, out, "Classification report")
	assert.Contains(t, out, "1 (churned)")
	assert.Contains(t, out, "weighted avg")
	assert.Contains(t, out, "Confusion matrix")
	assert.Contains(t, out, "ROC-AUC: 0.8889")
	assert.Contains(t, out, "Log loss: 0.4")
}

func TestWriteSearchOrdersByRank(t *testing.T) {
	res := &ms.GridSearchResult{Candidates: []ms.CandidateResult{
		{Params: ms.Params{"max_depth": 3}, Rank: 0, Err: errors.New("boom")},
		{Params: ms.Params{"max_depth": 4}, Rank: 2, MeanScore: 0.5, ValidFolds: 3},
		{Params: ms.Params{"max_depth": 5}, Rank: 1, MeanScore: 0.7, ValidFolds: 3},
	}}
	var buf bytes.Buffer
	WriteSearch(&buf, res)
	out := buf.String()

	i5 := bytes.Index(buf.Bytes(), []byte("max_depth=5"))
	i4 := bytes.Index(buf.Bytes(), []byte("max_depth=4"))
	i3 := bytes.Index(buf.Bytes(), []byte("max_depth=3"))
	assert.True(t, i5 < i4 && i4 < i3, out)
	assert.Contains(t, out, "boom")
}

func TestWriteSummaryAndPredictions(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, churn.Summary{
		Customers: 10, Churned: 3, ChurnRate: 0.3,
		TopStates: []churn.StateCount{{State: "Bihar", Churned: 2}},
	})
	WritePredictions(&buf, []churn.Prediction{{Label: 1, Probability: 0.8}}, []string{"0001-A"})
	out := buf.String()

	assert.Contains(t, out, "30.0%")
	assert.Contains(t, out, "Bihar")
	assert.Contains(t, out, "Churn")
	assert.Contains(t, out, "0001-A")
}

func TestPlotCurves(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	paths, err := PlotCurves(dir, evaluation(t))
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}
