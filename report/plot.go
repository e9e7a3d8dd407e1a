package report

import (
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// Curve image names written by PlotCurves.
const (
	ROCFile = "roc_curve.png"
	PRFile  = "pr_curve.png"
)

// PlotCurves writes the ROC and precision-recall curves of ev into dir and
// returns the written paths.
func PlotCurves(dir string, ev *churn.Evaluation) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create report directory")
	}

	roc := make(plotter.XYs, len(ev.ROC.X))
	for i := range roc {
		roc[i].X, roc[i].Y = ev.ROC.X[i], ev.ROC.Y[i]
	}
	rocPath := filepath.Join(dir, ROCFile)
	diagonal := plotter.NewFunction(func(x float64) float64 { return x })
	diagonal.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	if err := savePlot(rocPath, "ROC curve", "False positive rate", "True positive rate", roc, diagonal); err != nil {
		return nil, err
	}

	// 再現率の昇順に並べ、(0, 1) から始める
	pr := make(plotter.XYs, 0, len(ev.PR.Recall)+1)
	pr = append(pr, plotter.XY{X: 0, Y: 1})
	for i := range ev.PR.Recall {
		pr = append(pr, plotter.XY{X: ev.PR.Recall[i], Y: ev.PR.Precision[i]})
	}
	prPath := filepath.Join(dir, PRFile)
	if err := savePlot(prPath, "Precision-recall curve", "Recall", "Precision", pr, nil); err != nil {
		return nil, err
	}
	return []string{rocPath, prPath}, nil
}

func savePlot(path, title, xLabel, yLabel string, xys plotter.XYs, extra plot.Plotter) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.02
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrapf(err, "build %s", title)
	}
	p.Add(line)
	if extra != nil {
		p.Add(extra)
	}
	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
