package preprocessing

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/core/model"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	s := NewStandardScaler()
	out, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), s.Scale[0], 1e-12, "population std")
	assert.Equal(t, 1.0, s.Scale[1], "zero variance column keeps scale 1")
	assert.InDelta(t, 0.0, out.At(0, 1), 1e-12)
	assert.InDelta(t, (1-2.5)/math.Sqrt(1.25), out.At(0, 0), 1e-12)

	back, err := s.InverseTransform(out)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
}

func TestStandardScalerErrors(t *testing.T) {
	s := NewStandardScaler()
	_, err := s.Transform(mat.NewDense(1, 1, nil))
	var nfErr *errors.NotFittedError
	assert.True(t, errors.As(err, &nfErr))

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = s.Transform(mat.NewDense(1, 3, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestOneHotEncoder(t *testing.T) {
	enc := NewOneHotEncoder([]string{"Contract", "Gender"})
	require.NoError(t, enc.Fit([][]string{
		{"Two Year", "Male"},
		{"Month-to-Month", "Female"},
		{"One Year", "Male"},
	}))

	assert.Equal(t, []string{"Month-to-Month", "One Year", "Two Year"}, enc.Categories[0])
	assert.Equal(t, 5, enc.NOutputs)
	assert.Equal(t, []string{
		"cat__Contract_Month-to-Month", "cat__Contract_One Year", "cat__Contract_Two Year",
		"cat__Gender_Female", "cat__Gender_Male",
	}, enc.FeatureNames())

	out, err := enc.Transform([][]string{{"One Year", "Female"}, {"Weekly", "Other"}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 1, 0}, out.RawRowView(0))
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, out.RawRowView(1), "unseen values encode as zeros")
}

func TestInferSchema(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(func(error) {})

	f := dataset.Frame{
		Columns: []string{"Customer_ID", "Age", "Zip", "Contract", "Blank", "Charge"},
		Rows: [][]string{
			{"1", "30", "12345", "One Year", "", "10.5"},
			{"2", "41", "A1B", "Two Year", "", ""},
			{"3", "", "99999", "One Year", "", "nan"},
		},
	}
	schema, err := InferSchema(f, []string{"Customer_ID"})
	require.NoError(t, err)

	assert.Equal(t, FeatureSchemaVersion, schema.Version)
	assert.Equal(t, []string{"Customer_ID"}, schema.Dropped)
	assert.Equal(t, []string{"Age", "Charge"}, schema.NumericColumns())
	assert.Equal(t, []string{"Zip", "Contract", "Blank"}, schema.CategoricalColumns())

	require.Len(t, warnings, 1)
	var conv *errors.DataConversionWarning
	require.True(t, errors.As(warnings[0], &conv))
	assert.Equal(t, "Zip", conv.Column)
}

func TestSchemaFingerprint(t *testing.T) {
	a := FeatureSchema{Version: 1, Columns: []ColumnSpec{{"Age", Numeric}, {"Contract", Categorical}}}
	b := FeatureSchema{Version: 1, Columns: []ColumnSpec{{"Age", Numeric}, {"Contract", Categorical}}}
	c := FeatureSchema{Version: 1, Columns: []ColumnSpec{{"Age", Categorical}, {"Contract", Categorical}}}
	d := FeatureSchema{Version: 2, Columns: a.Columns}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func trainingFrame() dataset.Frame {
	return dataset.Frame{
		Columns: []string{"Customer_ID", "Tenure_in_Months", "Contract", "Monthly_Charge", "Customer_Status"},
		Rows: [][]string{
			{"a", "1", "Month-to-Month", "90", "Churned"},
			{"b", "24", "Two Year", "40", "Stayed"},
			{"c", "12", "One Year", "", "Stayed"},
			{"d", "3", "Month-to-Month", "70", "Churned"},
		},
	}
}

func TestColumnTransformerLayout(t *testing.T) {
	ct := NewColumnTransformer(dataset.DefaultDropColumns)
	X, err := ct.FitTransform(trainingFrame())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"num__Tenure_in_Months", "num__Monthly_Charge",
		"cat__Contract_Month-to-Month", "cat__Contract_One Year", "cat__Contract_Two Year",
	}, ct.FeatureNames())
	r, c := X.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 5, c)
	assert.Equal(t, 5, ct.NFeatures)

	// 欠損値は学習平均で埋められ、標準化後は0になる
	assert.InDelta(t, 200.0/3, ct.Imputation[1], 1e-12)
	assert.InDelta(t, 0.0, X.At(2, 1), 1e-12)

	assert.Equal(t, []float64{1, 0, 0}, X.RawRowView(0)[2:])
	assert.Equal(t, []float64{0, 0, 1}, X.RawRowView(1)[2:])
}

func TestColumnTransformerInfiniteCellsAreMissing(t *testing.T) {
	f := trainingFrame()
	f.Rows[0][3] = "Inf"
	f.Rows[3][3] = "-Inf"

	schema, err := InferSchema(f, dataset.DefaultDropColumns)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tenure_in_Months", "Monthly_Charge"}, schema.NumericColumns())

	ct := NewColumnTransformer(dataset.DefaultDropColumns)
	X, err := ct.FitTransform(f)
	require.NoError(t, err)
	// 残る有限値は 40 のみ
	assert.InDelta(t, 40.0, ct.Imputation[1], 1e-12)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 0.0, X.At(i, 1), 1e-12)
	}

	row, err := ct.TransformRecord(dataset.Record{
		"Tenure_in_Months": "+Inf", "Contract": "One Year", "Monthly_Charge": "50",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, row.At(0, 0), 1e-12)
}

func TestColumnTransformerFitOnce(t *testing.T) {
	ct := NewColumnTransformer(dataset.DefaultDropColumns)
	require.NoError(t, ct.Fit(trainingFrame()))
	err := ct.Fit(trainingFrame())
	assert.True(t, errors.Is(err, errors.ErrAlreadyFitted))
}

func TestColumnTransformerRecords(t *testing.T) {
	ct := NewColumnTransformer(dataset.DefaultDropColumns)
	require.NoError(t, ct.Fit(trainingFrame()))

	t.Run("unseen category is all zeros", func(t *testing.T) {
		row, err := ct.TransformRecord(dataset.Record{
			"Tenure_in_Months": "5", "Contract": "Weekly", "Monthly_Charge": "50",
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0, 0}, row.RawRowView(0)[2:])
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := ct.TransformRecord(dataset.Record{"Tenure_in_Months": "5", "Monthly_Charge": "50"})
		var schemaErr *errors.SchemaError
		require.True(t, errors.As(err, &schemaErr))
		assert.Equal(t, "Contract", schemaErr.Column)
	})

	t.Run("non numeric", func(t *testing.T) {
		_, err := ct.TransformRecord(dataset.Record{
			"Tenure_in_Months": "five", "Contract": "One Year", "Monthly_Charge": "50",
		})
		var schemaErr *errors.SchemaError
		require.True(t, errors.As(err, &schemaErr))
		assert.Equal(t, "Tenure_in_Months", schemaErr.Column)
		assert.Equal(t, "five", schemaErr.Value)
	})

	t.Run("extra keys are ignored", func(t *testing.T) {
		a, err := ct.TransformRecord(dataset.Record{
			"Tenure_in_Months": "5", "Contract": "One Year", "Monthly_Charge": "50",
		})
		require.NoError(t, err)
		b, err := ct.TransformRecord(dataset.Record{
			"Tenure_in_Months": "5", "Contract": "One Year", "Monthly_Charge": "50", "Customer_ID": "zzz",
		})
		require.NoError(t, err)
		assert.Equal(t, a.RawMatrix().Data, b.RawMatrix().Data)
	})
}

func TestColumnTransformerFrameMissingColumn(t *testing.T) {
	ct := NewColumnTransformer(dataset.DefaultDropColumns)
	require.NoError(t, ct.Fit(trainingFrame()))

	_, err := ct.Transform(trainingFrame().Drop("Contract"))
	var schemaErr *errors.SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestColumnTransformerGobRoundTrip(t *testing.T) {
	ct := NewColumnTransformer(dataset.DefaultDropColumns)
	want, err := ct.FitTransform(trainingFrame())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(ct, &buf))

	var loaded ColumnTransformer
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))
	assert.True(t, loaded.IsFitted())

	got, err := loaded.Transform(trainingFrame())
	require.NoError(t, err)
	assert.Equal(t, want.RawMatrix().Data, got.RawMatrix().Data)
	assert.Equal(t, ct.Schema.Fingerprint(), loaded.Schema.Fingerprint())
	assert.Equal(t, ct.Fingerprint(), loaded.Fingerprint())
}
