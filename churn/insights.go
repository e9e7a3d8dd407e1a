package churn

import (
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
)

// ReferenceData is the immutable population the insights are computed over.
// Joined customers are removed at construction.
type ReferenceData struct {
	frame dataset.Frame
}

// NewReferenceData copies f without Joined rows.
func NewReferenceData(f dataset.Frame) (*ReferenceData, error) {
	f = dataset.ExcludeJoined(f)
	if f.Len() == 0 {
		return nil, errors.NewModelError("churn.NewReferenceData", "no customers", errors.ErrEmptyData)
	}
	rows := make([][]string, f.Len())
	for i, r := range f.Rows {
		rows[i] = append([]string(nil), r...)
	}
	return &ReferenceData{frame: dataset.Frame{Columns: append([]string(nil), f.Columns...), Rows: rows}}, nil
}

// Len returns the number of customers.
func (r *ReferenceData) Len() int { return r.frame.Len() }

// Record returns customer i as a fresh map.
func (r *ReferenceData) Record(i int) dataset.Record { return r.frame.Record(i) }

// ScoredCustomer is a reference customer with its churn probability.
type ScoredCustomer struct {
	Index       int            `json:"index"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Probability float64        `json:"probability"`
	Record      dataset.Record `json:"record"`
}

// StateCount is the number of churned customers in one state.
type StateCount struct {
	State   string `json:"state"`
	Churned int    `json:"churned"`
}

// Summary aggregates the reference population.
type Summary struct {
	Customers        int          `json:"customers"`
	Churned          int          `json:"churned"`
	ChurnRate        float64      `json:"churn_rate"`
	AvgMonthlyCharge float64      `json:"avg_monthly_charge"`
	AvgTenure        float64      `json:"avg_tenure_months"`
	TopStates        []StateCount `json:"top_states"`
	// Predicted は閾値以上と予測された顧客数
	Predicted int `json:"predicted_churners"`
}

// NumericRange bounds a numeric form field.
type NumericRange struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// FieldOptions lists valid inputs per schema column for form population.
type FieldOptions struct {
	Categorical map[string][]string     `json:"categorical"`
	Numeric     map[string]NumericRange `json:"numeric"`
}

// Insights are derived from scoring the reference data once.
type Insights struct {
	ref     *ReferenceData
	proba   []float64
	order   []int // 確率の降順（同値は元の順）
	summary Summary
	options FieldOptions
}

// topStatesN is the number of states reported in Summary.
const topStatesN = 5

// NewInsights scores every reference customer with pred.
func NewInsights(pred *Predictor, ref *ReferenceData) (*Insights, error) {
	proba, err := pred.ScoreFrame(ref.frame)
	if err != nil {
		return nil, errors.Wrap(err, "score reference data")
	}
	in := buildInsights(ref, proba, pred.Threshold(), pred.Schema())
	log.GetLoggerWithName("churn").Info("Insights ready",
		log.SamplesKey, ref.Len(),
		log.PositiveRateKey, in.summary.ChurnRate,
	)
	return in, nil
}

func buildInsights(ref *ReferenceData, proba []float64, threshold float64, schema preprocessing.FeatureSchema) *Insights {
	return &Insights{
		ref:     ref,
		proba:   proba,
		order:   descendingOrder(proba),
		summary: summarize(ref.frame, proba, threshold),
		options: fieldOptions(ref.frame, schema),
	}
}

func descendingOrder(proba []float64) []int {
	order := make([]int, len(proba))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return proba[order[a]] > proba[order[b]] })
	return order
}

// Probabilities returns a copy of the reference scores in reference order.
func (in *Insights) Probabilities() []float64 { return append([]float64(nil), in.proba...) }

// TopChurners returns the n customers most likely to churn, highest first.
func (in *Insights) TopChurners(n int) []ScoredCustomer {
	return in.pick(in.order, n)
}

// TopStayers returns the n customers least likely to churn, lowest first.
func (in *Insights) TopStayers(n int) []ScoredCustomer {
	asc := make([]int, len(in.order))
	for i := range in.order {
		asc[i] = i
	}
	sort.SliceStable(asc, func(a, b int) bool { return in.proba[asc[a]] < in.proba[asc[b]] })
	return in.pick(asc, n)
}

func (in *Insights) pick(order []int, n int) []ScoredCustomer {
	if n < 0 {
		n = 0
	}
	if n > len(order) {
		n = len(order)
	}
	idCol := in.ref.frame.Index(dataset.IDColumn)
	out := make([]ScoredCustomer, n)
	for k := 0; k < n; k++ {
		i := order[k]
		out[k] = ScoredCustomer{Index: i, Probability: in.proba[i], Record: in.ref.Record(i)}
		if idCol >= 0 {
			out[k].CustomerID = in.ref.frame.Rows[i][idCol]
		}
	}
	return out
}

// Summary returns the population summary.
func (in *Insights) Summary() Summary {
	s := in.summary
	s.TopStates = append([]StateCount(nil), s.TopStates...)
	return s
}

// Sample returns n reference records drawn without replacement. The same seed
// yields the same sample.
func (in *Insights) Sample(n int, seed uint64) []dataset.Record {
	total := in.ref.Len()
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(total)[:n]
	out := make([]dataset.Record, n)
	for k, i := range perm {
		out[k] = in.ref.Record(i)
	}
	return out
}

// FieldOptions returns the valid inputs for each schema column present in the
// reference data.
func (in *Insights) FieldOptions() FieldOptions { return in.options }

func summarize(f dataset.Frame, proba []float64, threshold float64) Summary {
	s := Summary{Customers: f.Len()}
	status := f.Index(dataset.StatusColumn)
	state := f.Index(dataset.StateColumn)
	charge := f.Index(dataset.MonthlyChargeColumn)
	tenure := f.Index(dataset.TenureColumn)

	byState := make(map[string]int)
	var chargeSum, tenureSum float64
	var chargeN, tenureN int
	for i, row := range f.Rows {
		if proba[i] >= threshold {
			s.Predicted++
		}
		// 実際のステータスが無ければ予測で数える
		churned := proba[i] >= threshold
		if status >= 0 {
			churned = row[status] == dataset.StatusChurned
		}
		if churned {
			s.Churned++
			if state >= 0 {
				byState[row[state]]++
			}
		}
		if charge >= 0 {
			if v, ok := finiteCell(row[charge]); ok {
				chargeSum += v
				chargeN++
			}
		}
		if tenure >= 0 {
			if v, ok := finiteCell(row[tenure]); ok {
				tenureSum += v
				tenureN++
			}
		}
	}
	if s.Customers > 0 {
		s.ChurnRate = float64(s.Churned) / float64(s.Customers)
	}
	if chargeN > 0 {
		s.AvgMonthlyCharge = chargeSum / float64(chargeN)
	}
	if tenureN > 0 {
		s.AvgTenure = tenureSum / float64(tenureN)
	}

	for st, c := range byState {
		s.TopStates = append(s.TopStates, StateCount{State: st, Churned: c})
	}
	sort.Slice(s.TopStates, func(a, b int) bool {
		if s.TopStates[a].Churned != s.TopStates[b].Churned {
			return s.TopStates[a].Churned > s.TopStates[b].Churned
		}
		return s.TopStates[a].State < s.TopStates[b].State
	})
	if len(s.TopStates) > topStatesN {
		s.TopStates = s.TopStates[:topStatesN]
	}
	return s
}

func fieldOptions(f dataset.Frame, schema preprocessing.FeatureSchema) FieldOptions {
	opts := FieldOptions{Categorical: map[string][]string{}, Numeric: map[string]NumericRange{}}
	for _, c := range schema.Columns {
		col, ok := f.Column(c.Name)
		if !ok {
			continue
		}
		if c.Kind == preprocessing.Categorical {
			opts.Categorical[c.Name] = uniqueSorted(col)
			continue
		}
		var xs []float64
		for _, v := range col {
			if x, ok := finiteCell(v); ok {
				xs = append(xs, x)
			}
		}
		if len(xs) == 0 {
			continue
		}
		sort.Float64s(xs)
		opts.Numeric[c.Name] = NumericRange{Min: xs[0], Max: xs[len(xs)-1], Median: median(xs)}
	}
	return opts
}

func uniqueSorted(col []string) []string {
	seen := make(map[string]struct{}, len(col))
	var out []string
	for _, v := range col {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// median of sorted xs; even lengths average the middle pair.
func median(xs []float64) float64 {
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

// finiteCell parses a numeric cell. Empty, NaN and infinite cells are skipped
// the same way training treats them as missing.
func finiteCell(raw string) (float64, bool) {
	x, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}
