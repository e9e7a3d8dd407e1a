package preprocessing

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// FeatureSchemaVersion is bumped whenever the encoding produced from a schema
// changes. Artifacts written under another version are rejected on load.
const FeatureSchemaVersion = 1

// ColumnKind distinguishes numeric from categorical input columns.
type ColumnKind int

const (
	// Numeric columns are standardised.
	Numeric ColumnKind = iota
	// Categorical columns are one-hot encoded.
	Categorical
)

func (k ColumnKind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// MarshalText lets the kind render as a word in YAML and JSON.
func (k ColumnKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "numeric" or "categorical".
func (k *ColumnKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "numeric":
		*k = Numeric
	case "categorical":
		*k = Categorical
	default:
		return errors.Newf("unknown column kind %q", string(b))
	}
	return nil
}

// ColumnSpec describes one input column.
type ColumnSpec struct {
	Name string     `json:"name" yaml:"name"`
	Kind ColumnKind `json:"kind" yaml:"kind"`
}

// FeatureSchema is the column partition decided once at fit time.
type FeatureSchema struct {
	Version int          `json:"version" yaml:"version"`
	Columns []ColumnSpec `json:"columns" yaml:"columns"`
	Dropped []string     `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// NumericColumns returns numeric column names in schema order.
func (s FeatureSchema) NumericColumns() []string {
	return s.columnsOf(Numeric)
}

// CategoricalColumns returns categorical column names in schema order.
func (s FeatureSchema) CategoricalColumns() []string {
	return s.columnsOf(Categorical)
}

func (s FeatureSchema) columnsOf(kind ColumnKind) []string {
	var out []string
	for _, c := range s.Columns {
		if c.Kind == kind {
			out = append(out, c.Name)
		}
	}
	return out
}

// Fingerprint identifies the column layout. Two schemas with the same version,
// names, order and kinds share a fingerprint.
func (s FeatureSchema) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte("v" + strconv.Itoa(s.Version)))
	for _, c := range s.Columns {
		h.Write([]byte{0})
		h.Write([]byte(c.Name))
		h.Write([]byte{byte(c.Kind)})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ValidateRecord checks that every schema column is present and that numeric
// cells are either empty or parse as numbers.
func (s FeatureSchema) ValidateRecord(rec dataset.Record) error {
	for _, c := range s.Columns {
		v, ok := rec[c.Name]
		if !ok {
			return errors.NewSchemaError(c.Name, "missing column", "")
		}
		if c.Kind == Numeric {
			if _, _, err := parseNumeric(c.Name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// InferSchema types every column of f except the ones in drop. A column is
// numeric iff all of its non-empty cells parse as floats; NaN and infinite
// cells count as empty. Columns mixing numeric and non-numeric text become
// categorical and raise a DataConversionWarning. All-empty columns are
// categorical.
func InferSchema(f dataset.Frame, drop []string) (FeatureSchema, error) {
	if f.Len() == 0 {
		return FeatureSchema{}, errors.NewModelError("InferSchema", "empty data", errors.ErrEmptyData)
	}
	dropped := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropped[d] = true
	}

	schema := FeatureSchema{Version: FeatureSchemaVersion}
	for j, name := range f.Columns {
		if dropped[name] {
			if !contains(schema.Dropped, name) {
				schema.Dropped = append(schema.Dropped, name)
			}
			continue
		}
		numeric, text := 0, 0
		for _, row := range f.Rows {
			v := strings.TrimSpace(row[j])
			if v == "" {
				continue
			}
			if x, err := strconv.ParseFloat(v, 64); err == nil {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					continue
				}
				numeric++
			} else {
				text++
			}
		}

		kind := Categorical
		switch {
		case numeric > 0 && text == 0:
			kind = Numeric
		case numeric > 0 && text > 0:
			errors.Warn(errors.NewDataConversionWarning(name, "mixed", "categorical",
				strconv.Itoa(text)+" non-numeric values alongside "+strconv.Itoa(numeric)+" numeric values"))
		}
		schema.Columns = append(schema.Columns, ColumnSpec{Name: name, Kind: kind})
	}

	if len(schema.Columns) == 0 {
		return FeatureSchema{}, errors.NewValueError("InferSchema", "no feature columns left after dropping")
	}
	return schema, nil
}

// parseNumeric returns (value, missing, err). Empty, NaN and infinite cells
// are missing.
func parseNumeric(column, raw string) (float64, bool, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, true, nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, errors.NewSchemaError(column, "not a number", raw)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, true, nil
	}
	return x, false, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
