package preprocessing

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/core/model"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// ColumnTransformer は生の顧客レコードを数値特徴量行列に変換する
//
// 数値列は StandardScaler で標準化され、カテゴリ列は OneHotEncoder で展開される。
// 出力は数値ブロック（スキーマ順）の後にカテゴリブロック（スキーマ順）が続く。
// 一度だけ学習でき、学習後は読み取り専用として複数ゴルーチンから安全に使える。
type ColumnTransformer struct {
	model.BaseEstimator

	// Drop は特徴量から除外する列
	Drop []string

	// Schema は学習時に決定された列の型
	Schema FeatureSchema

	// Imputation は数値列の欠損値を埋める学習データ平均
	Imputation []float64

	Scaler  *StandardScaler
	Encoder *OneHotEncoder

	// NFeatures は出力の列数
	NFeatures int
}

// NewColumnTransformer は drop に挙げた列を除外する変換器を作成する
func NewColumnTransformer(drop []string) *ColumnTransformer {
	return &ColumnTransformer{Drop: append([]string(nil), drop...)}
}

// Fit は列の型を推定し、スケーラーとエンコーダを学習する
func (ct *ColumnTransformer) Fit(f dataset.Frame) error {
	if ct.IsFitted() {
		return errors.NewModelError("ColumnTransformer.Fit", "transformer can only be fitted once", errors.ErrAlreadyFitted)
	}
	schema, err := InferSchema(f, ct.Drop)
	if err != nil {
		return err
	}
	ct.Schema = schema

	numIdx, catIdx, err := ct.resolve(f.Columns)
	if err != nil {
		return err
	}
	n := f.Len()

	if len(numIdx) > 0 {
		raw := mat.NewDense(n, len(numIdx), nil)
		sums := make([]float64, len(numIdx))
		counts := make([]int, len(numIdx))
		for i, row := range f.Rows {
			for k, j := range numIdx {
				x, missing, err := parseNumeric(f.Columns[j], row[j])
				if err != nil {
					return err
				}
				if missing {
					raw.Set(i, k, math.NaN())
					continue
				}
				raw.Set(i, k, x)
				sums[k] += x
				counts[k]++
			}
		}
		ct.Imputation = make([]float64, len(numIdx))
		for k := range sums {
			if counts[k] > 0 {
				ct.Imputation[k] = sums[k] / float64(counts[k])
			}
		}
		for i := 0; i < n; i++ {
			for k := range numIdx {
				if math.IsNaN(raw.At(i, k)) {
					raw.Set(i, k, ct.Imputation[k])
				}
			}
		}
		ct.Scaler = NewStandardScaler()
		if err := ct.Scaler.Fit(raw); err != nil {
			return err
		}
	}

	if len(catIdx) > 0 {
		cats := make([][]string, n)
		for i, row := range f.Rows {
			cats[i] = pick(row, catIdx)
		}
		ct.Encoder = NewOneHotEncoder(schema.CategoricalColumns())
		if err := ct.Encoder.Fit(cats); err != nil {
			return err
		}
	}

	ct.NFeatures = len(numIdx)
	if ct.Encoder != nil {
		ct.NFeatures += ct.Encoder.NOutputs
	}
	ct.SetFitted()

	log.GetLoggerWithName("preprocessing").Debug("ColumnTransformer fitted",
		log.ModelNameKey, "ColumnTransformer",
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhasePreprocessing,
		log.SamplesKey, n,
		log.FeaturesKey, ct.NFeatures,
		"numeric_columns", len(numIdx),
		"categorical_columns", len(catIdx),
	)
	return nil
}

// FitTransform はFitとTransformを同時に実行する
func (ct *ColumnTransformer) FitTransform(f dataset.Frame) (*mat.Dense, error) {
	if err := ct.Fit(f); err != nil {
		return nil, err
	}
	return ct.Transform(f)
}

// Transform はフレームを特徴量行列に変換する。スキーマの列が欠けている場合や
// 数値列に数値以外が入っている場合は SchemaError を返す
func (ct *ColumnTransformer) Transform(f dataset.Frame) (*mat.Dense, error) {
	if !ct.IsFitted() {
		return nil, errors.NewNotFittedError("ColumnTransformer", "Transform")
	}
	if f.Len() == 0 {
		return nil, errors.NewModelError("ColumnTransformer.Transform", "empty data", errors.ErrEmptyData)
	}
	numIdx, catIdx, err := ct.resolve(f.Columns)
	if err != nil {
		return nil, err
	}

	out := mat.NewDense(f.Len(), ct.NFeatures, nil)
	numBuf := make([]float64, len(numIdx))
	for i, row := range f.Rows {
		dst := out.RawRowView(i)
		for k, j := range numIdx {
			x, missing, err := parseNumeric(f.Columns[j], row[j])
			if err != nil {
				return nil, err
			}
			if missing {
				x = ct.Imputation[k]
			}
			numBuf[k] = x
		}
		if ct.Scaler != nil {
			ct.Scaler.TransformRow(dst[:len(numIdx)], numBuf)
		}
		if ct.Encoder != nil {
			ct.Encoder.EncodeRow(dst[len(numIdx):], pick(row, catIdx))
		}
	}
	return out, nil
}

// TransformRecords validates and transforms records in order.
func (ct *ColumnTransformer) TransformRecords(recs []dataset.Record) (*mat.Dense, error) {
	if !ct.IsFitted() {
		return nil, errors.NewNotFittedError("ColumnTransformer", "TransformRecords")
	}
	for _, rec := range recs {
		if err := ct.Schema.ValidateRecord(rec); err != nil {
			return nil, err
		}
	}
	cols := make([]string, len(ct.Schema.Columns))
	for i, c := range ct.Schema.Columns {
		cols[i] = c.Name
	}
	return ct.Transform(dataset.FromRecords(cols, recs))
}

// TransformRecord transforms a single record into a 1×NFeatures matrix.
func (ct *ColumnTransformer) TransformRecord(rec dataset.Record) (*mat.Dense, error) {
	return ct.TransformRecords([]dataset.Record{rec})
}

// Fingerprint は学習済み出力レイアウトの指紋を返す
//
// スキーマ指紋に加えて出力列名（カテゴリ語彙を含む）を順に混ぜるので、
// 同じ列構成でも語彙が違えば値が変わる。
func (ct *ColumnTransformer) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(ct.Schema.Fingerprint()))
	for _, name := range ct.FeatureNames() {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// FeatureNames は出力列名を返す（num__<col>, cat__<col>_<value>）
func (ct *ColumnTransformer) FeatureNames() []string {
	names := make([]string, 0, ct.NFeatures)
	for _, c := range ct.Schema.NumericColumns() {
		names = append(names, "num__"+c)
	}
	if ct.Encoder != nil {
		names = append(names, ct.Encoder.FeatureNames()...)
	}
	return names
}

// resolve maps schema columns to positions in columns, numeric first.
func (ct *ColumnTransformer) resolve(columns []string) (numIdx, catIdx []int, err error) {
	pos := make(map[string]int, len(columns))
	for j, c := range columns {
		pos[c] = j
	}
	for _, col := range ct.Schema.Columns {
		j, ok := pos[col.Name]
		if !ok {
			return nil, nil, errors.NewSchemaError(col.Name, "missing column", "")
		}
		if col.Kind == Numeric {
			numIdx = append(numIdx, j)
		} else {
			catIdx = append(catIdx, j)
		}
	}
	return numIdx, catIdx, nil
}

func pick(row []string, idx []int) []string {
	out := make([]string, len(idx))
	for k, j := range idx {
		out[k] = row[j]
	}
	return out
}
