package preprocessing

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/core/model"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// OneHotEncoder はカテゴリ列をワンホット表現に変換する
//
// カテゴリ語彙は学習データからソート済みで保持される。
// 学習時に見なかった値は全て0のブロックに変換される（handle_unknown="ignore" 相当）。
type OneHotEncoder struct {
	model.BaseEstimator

	// Columns は入力列名
	Columns []string

	// Categories は列ごとのソート済みカテゴリ
	Categories [][]string

	// Offsets は各列のブロックが出力の何列目から始まるか
	Offsets []int

	// NOutputs は出力の総列数
	NOutputs int
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
func NewOneHotEncoder(columns []string) *OneHotEncoder {
	return &OneHotEncoder{Columns: append([]string(nil), columns...)}
}

// Fit は各列のカテゴリ語彙を学習する。rows は n_samples × len(Columns)
func (e *OneHotEncoder) Fit(rows [][]string) error {
	if len(rows) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	c := len(e.Columns)
	sets := make([]map[string]struct{}, c)
	for j := range sets {
		sets[j] = make(map[string]struct{})
	}
	for _, row := range rows {
		if len(row) != c {
			return errors.NewDimensionError("OneHotEncoder.Fit", c, len(row), 1)
		}
		for j, v := range row {
			sets[j][v] = struct{}{}
		}
	}

	e.Categories = make([][]string, c)
	e.Offsets = make([]int, c)
	offset := 0
	for j, set := range sets {
		cats := make([]string, 0, len(set))
		for v := range set {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
		e.Offsets[j] = offset
		offset += len(cats)
	}
	e.NOutputs = offset
	e.SetFitted()
	return nil
}

// Transform はカテゴリ行列をワンホット行列に変換する
func (e *OneHotEncoder) Transform(rows [][]string) (*mat.Dense, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	if len(rows) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}
	if e.NOutputs == 0 {
		return nil, errors.NewValueError("OneHotEncoder.Transform", "encoder has no categories")
	}
	out := mat.NewDense(len(rows), e.NOutputs, nil)
	for i, row := range rows {
		if len(row) != len(e.Columns) {
			return nil, errors.NewDimensionError("OneHotEncoder.Transform", len(e.Columns), len(row), 1)
		}
		e.EncodeRow(out.RawRowView(i), row)
	}
	return out, nil
}

// EncodeRow は1行を dst（長さ NOutputs、ゼロ初期化済み）に書き込む
func (e *OneHotEncoder) EncodeRow(dst []float64, row []string) {
	for j, v := range row {
		if k, ok := e.lookup(j, v); ok {
			dst[e.Offsets[j]+k] = 1
		}
	}
}

func (e *OneHotEncoder) lookup(j int, v string) (int, bool) {
	cats := e.Categories[j]
	k := sort.SearchStrings(cats, v)
	if k < len(cats) && cats[k] == v {
		return k, true
	}
	return 0, false
}

// FeatureNames は "cat__<col>_<value>" 形式の出力列名を返す
func (e *OneHotEncoder) FeatureNames() []string {
	names := make([]string, 0, e.NOutputs)
	for j, col := range e.Columns {
		for _, v := range e.Categories[j] {
			names = append(names, "cat__"+col+"_"+v)
		}
	}
	return names
}
