// Package report renders training and serving results as terminal tables and
// PNG curve plots.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/dataset"
	ms "github.com/YuminosukeSato/churnpredict/sklearn/model_selection"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func f3(x float64) string { return fmt.Sprintf("%.3f", x) }

// WriteEvaluation prints the classification report, the confusion matrix
// and the ranking metrics.
func WriteEvaluation(w io.Writer, ev *churn.Evaluation) {
	r := ev.Report
	t := newTable(w, "Classification report")
	t.AppendHeader(table.Row{"", "precision", "recall", "f1-score", "support"})
	for label, name := range []string{"0 (stayed)", "1 (churned)"} {
		c := r.Classes[label]
		t.AppendRow(table.Row{name, f3(c.Precision), f3(c.Recall), f3(c.F1), c.Support})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"accuracy", "", "", f3(r.Accuracy), r.Confusion.Total()})
	t.AppendRow(table.Row{"macro avg", f3(r.MacroAvg.Precision), f3(r.MacroAvg.Recall), f3(r.MacroAvg.F1), r.MacroAvg.Support})
	t.AppendRow(table.Row{"weighted avg", f3(r.WeightedAvg.Precision), f3(r.WeightedAvg.Recall), f3(r.WeightedAvg.F1), r.WeightedAvg.Support})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()

	cm := newTable(w, "Confusion matrix")
	cm.AppendHeader(table.Row{"actual \\ predicted", "0", "1"})
	cm.AppendRow(table.Row{"0", r.Confusion.TN, r.Confusion.FP})
	cm.AppendRow(table.Row{"1", r.Confusion.FN, r.Confusion.TP})
	cm.Render()

	_, _ = fmt.Fprintf(w, "ROC-AUC: %.4f  Average precision: %.4f  (threshold %.2f)\n", ev.ROCAUC, ev.AveragePrecision, ev.Threshold)
	_, _ = fmt.Fprintf(w, "Log loss: %.4f\n", ev.LogLoss)
}

// WriteSearch prints every grid configuration ordered by rank; failed
// configurations come last with their reason.
func WriteSearch(w io.Writer, res *ms.GridSearchResult) {
	idx := make([]int, len(res.Candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := res.Candidates[idx[a]].Rank, res.Candidates[idx[b]].Rank
		if ra == 0 || rb == 0 {
			return rb == 0 && ra != 0
		}
		return ra < rb
	})

	t := newTable(w, "Grid search (F1 of churned class)")
	t.AppendHeader(table.Row{"rank", "parameters", "mean", "std", "folds", "error"})
	for _, i := range idx {
		c := res.Candidates[i]
		rank, errText := "-", ""
		if c.Rank > 0 {
			rank = fmt.Sprint(c.Rank)
		}
		if c.Err != nil {
			errText = c.Err.Error()
		}
		t.AppendRow(table.Row{rank, c.Params.String(), f3(c.MeanScore), f3(c.StdScore), c.ValidFolds, errText})
	}
	t.Render()
}

// WriteTrainResult prints the search table, the evaluation and run details.
func WriteTrainResult(w io.Writer, res *churn.TrainResult) {
	WriteSearch(w, res.Search)
	WriteEvaluation(w, res.Evaluation)
	_, _ = fmt.Fprintf(w, "run %s: %d train rows (%d after SMOTE), %d test rows, %d trees, %s\n",
		res.RunID, res.TrainSamples, res.ResampledSamples, res.TestSamples,
		res.Pipeline.Model.NEstimatorsFitted(), res.Duration.Round(1e6))
}

// WritePredictions prints one row per prediction. ids may be nil.
func WritePredictions(w io.Writer, preds []churn.Prediction, ids []string) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"#", dataset.IDColumn, "prediction", "probability", "confidence"})
	for i, p := range preds {
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		verdict := "Stay"
		if p.Churn() {
			verdict = "Churn"
		}
		t.AppendRow(table.Row{i + 1, id, verdict, f3(p.Probability), f3(p.Confidence())})
	}
	t.Render()
}

// WriteCustomers prints scored reference customers with a few identifying
// columns.
func WriteCustomers(w io.Writer, title string, cs []churn.ScoredCustomer) {
	cols := []string{dataset.StateColumn, "Contract", dataset.TenureColumn, dataset.MonthlyChargeColumn}
	header := table.Row{dataset.IDColumn, "probability"}
	for _, c := range cols {
		header = append(header, c)
	}
	t := newTable(w, title)
	t.AppendHeader(header)
	for _, c := range cs {
		row := table.Row{c.CustomerID, f3(c.Probability)}
		for _, col := range cols {
			row = append(row, c.Record[col])
		}
		t.AppendRow(row)
	}
	t.Render()
}

// WriteSummary prints the population summary.
func WriteSummary(w io.Writer, s churn.Summary) {
	t := newTable(w, "Customer summary")
	t.AppendRows([]table.Row{
		{"customers", s.Customers},
		{"churned", s.Churned},
		{"churn rate", fmt.Sprintf("%.1f%%", 100*s.ChurnRate)},
		{"predicted churners", s.Predicted},
		{"avg monthly charge", fmt.Sprintf("%.2f", s.AvgMonthlyCharge)},
		{"avg tenure (months)", fmt.Sprintf("%.1f", s.AvgTenure)},
	})
	t.Render()

	states := newTable(w, "Top states by churned customers")
	states.AppendHeader(table.Row{"state", "churned"})
	for _, sc := range s.TopStates {
		states.AppendRow(table.Row{sc.State, sc.Churned})
	}
	states.Render()
}

// WriteSchema prints the feature schema one column per row.
func WriteSchema(w io.Writer, p *churn.Predictor) {
	schema := p.Schema()
	t := newTable(w, fmt.Sprintf("Feature schema v%d (%s)", schema.Version, schema.Fingerprint()))
	t.AppendHeader(table.Row{"column", "kind"})
	for _, c := range schema.Columns {
		t.AppendRow(table.Row{c.Name, c.Kind.String()})
	}
	t.AppendFooter(table.Row{"dropped", strings.Join(schema.Dropped, ", ")})
	t.Render()
}
