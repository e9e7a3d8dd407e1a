package churn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
)

func smallReference(t *testing.T) *ReferenceData {
	t.Helper()
	cols := []string{dataset.IDColumn, dataset.StateColumn, dataset.MonthlyChargeColumn, dataset.TenureColumn, "Contract", dataset.StatusColumn}
	f, err := dataset.NewFrame(cols, [][]string{
		{"a", "Bihar", "10", "1", "Month-to-Month", dataset.StatusChurned},
		{"b", "Goa", "20", "2", "Two Year", dataset.StatusStayed},
		{"c", "Bihar", "30", "3", "One Year", dataset.StatusChurned},
		{"d", "Goa", "40", "4", "Two Year", dataset.StatusStayed},
		{"e", "Kerala", "50", "5", "Month-to-Month", dataset.StatusChurned},
		{"f", "Kerala", "60", "6", "Month-to-Month", dataset.StatusJoined},
	})
	require.NoError(t, err)
	ref, err := NewReferenceData(f)
	require.NoError(t, err)
	return ref
}

func smallSchema() preprocessing.FeatureSchema {
	return preprocessing.FeatureSchema{
		Version: preprocessing.FeatureSchemaVersion,
		Columns: []preprocessing.ColumnSpec{
			{Name: dataset.StateColumn, Kind: preprocessing.Categorical},
			{Name: dataset.MonthlyChargeColumn, Kind: preprocessing.Numeric},
			{Name: dataset.TenureColumn, Kind: preprocessing.Numeric},
			{Name: "Contract", Kind: preprocessing.Categorical},
		},
	}
}

func probs(cs []ScoredCustomer) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Probability
	}
	return out
}

func TestReferenceDataExcludesJoined(t *testing.T) {
	ref := smallReference(t)
	assert.Equal(t, 5, ref.Len())

	_, err := NewReferenceData(dataset.Frame{Columns: []string{dataset.StatusColumn}})
	assert.ErrorIs(t, err, errors.ErrEmptyData)
}

func TestTopChurnersAndStayers(t *testing.T) {
	in := buildInsights(smallReference(t), []float64{0.9, 0.1, 0.7, 0.3, 0.5}, DefaultThreshold, smallSchema())

	assert.Equal(t, []float64{0.9, 0.7, 0.5}, probs(in.TopChurners(3)))
	assert.Equal(t, []float64{0.1, 0.3, 0.5}, probs(in.TopStayers(3)))

	top := in.TopChurners(1)[0]
	assert.Equal(t, "a", top.CustomerID)
	assert.Equal(t, "Bihar", top.Record[dataset.StateColumn])

	assert.Len(t, in.TopChurners(10), 5)
	assert.Empty(t, in.TopStayers(-1))
}

func TestTopNStableOnTies(t *testing.T) {
	in := buildInsights(smallReference(t), []float64{0.5, 0.5, 0.5, 0.2, 0.8}, DefaultThreshold, smallSchema())
	churners := in.TopChurners(3)
	assert.Equal(t, []int{4, 0, 1}, []int{churners[0].Index, churners[1].Index, churners[2].Index})
	stayers := in.TopStayers(3)
	assert.Equal(t, []int{3, 0, 1}, []int{stayers[0].Index, stayers[1].Index, stayers[2].Index})
}

func TestSummary(t *testing.T) {
	in := buildInsights(smallReference(t), []float64{0.9, 0.1, 0.7, 0.3, 0.5}, DefaultThreshold, smallSchema())
	s := in.Summary()

	assert.Equal(t, 5, s.Customers)
	assert.Equal(t, 3, s.Churned)
	assert.InDelta(t, 0.6, s.ChurnRate, 1e-12)
	assert.InDelta(t, 30, s.AvgMonthlyCharge, 1e-12)
	assert.InDelta(t, 3, s.AvgTenure, 1e-12)
	assert.Equal(t, 3, s.Predicted)
	assert.Equal(t, []StateCount{{State: "Bihar", Churned: 2}, {State: "Kerala", Churned: 1}}, s.TopStates)
}

func TestSampleDeterministic(t *testing.T) {
	in := buildInsights(smallReference(t), []float64{0.9, 0.1, 0.7, 0.3, 0.5}, DefaultThreshold, smallSchema())

	a := in.Sample(3, 42)
	b := in.Sample(3, 42)
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)

	seen := map[string]bool{}
	for _, r := range a {
		assert.False(t, seen[r[dataset.IDColumn]], "sampled without replacement")
		seen[r[dataset.IDColumn]] = true
	}
	assert.Len(t, in.Sample(99, 1), 5)
	assert.Nil(t, in.Sample(0, 1))
}

func TestFieldOptions(t *testing.T) {
	in := buildInsights(smallReference(t), []float64{0.9, 0.1, 0.7, 0.3, 0.5}, DefaultThreshold, smallSchema())
	opts := in.FieldOptions()

	assert.Equal(t, []string{"Bihar", "Goa", "Kerala"}, opts.Categorical[dataset.StateColumn])
	assert.Equal(t, []string{"Month-to-Month", "One Year", "Two Year"}, opts.Categorical["Contract"])
	assert.Equal(t, NumericRange{Min: 10, Max: 50, Median: 30}, opts.Numeric[dataset.MonthlyChargeColumn])
	assert.Equal(t, NumericRange{Min: 1, Max: 5, Median: 3}, opts.Numeric[dataset.TenureColumn])
}

func TestNonFiniteCellsAreSkipped(t *testing.T) {
	cols := []string{dataset.IDColumn, dataset.StateColumn, dataset.MonthlyChargeColumn, dataset.TenureColumn, "Contract", dataset.StatusColumn}
	f, err := dataset.NewFrame(cols, [][]string{
		{"a", "Bihar", "NaN", "1", "Month-to-Month", dataset.StatusChurned},
		{"b", "Goa", "Inf", "2", "Two Year", dataset.StatusStayed},
		{"c", "Bihar", "30", "-Inf", "One Year", dataset.StatusChurned},
		{"d", "Goa", "40", "4", "Two Year", dataset.StatusStayed},
		{"e", "Kerala", " 50 ", "5", "Month-to-Month", dataset.StatusChurned},
	})
	require.NoError(t, err)
	ref, err := NewReferenceData(f)
	require.NoError(t, err)
	in := buildInsights(ref, []float64{0.9, 0.1, 0.7, 0.3, 0.5}, DefaultThreshold, smallSchema())

	s := in.Summary()
	assert.InDelta(t, 40, s.AvgMonthlyCharge, 1e-12)
	assert.InDelta(t, 3, s.AvgTenure, 1e-12)

	opts := in.FieldOptions()
	assert.Equal(t, NumericRange{Min: 30, Max: 50, Median: 40}, opts.Numeric[dataset.MonthlyChargeColumn])
	assert.Equal(t, NumericRange{Min: 1, Max: 5, Median: 3}, opts.Numeric[dataset.TenureColumn])
}

func TestMedianEven(t *testing.T) {
	assert.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
	assert.Equal(t, 2.0, median([]float64{1, 2, 3}))
}

func TestNewInsightsScoresReference(t *testing.T) {
	p := predictor(t)
	_, frame := trained(t)
	ref, err := NewReferenceData(frame.Subset([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))
	require.NoError(t, err)

	in, err := NewInsights(p, ref)
	require.NoError(t, err)
	scores := in.Probabilities()
	require.Len(t, scores, ref.Len())

	top := in.TopChurners(1)[0]
	for _, s := range scores {
		assert.LessOrEqual(t, s, top.Probability)
	}
	assert.NotEmpty(t, in.FieldOptions().Categorical)
}
