package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/config"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/report"
)

func loadPredictor(ctx context.Context, cfg *config.Config) (*churn.Predictor, error) {
	store, err := artifact.New(cfg.ArtifactOptions())
	if err != nil {
		return nil, err
	}
	pair, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return churn.NewPredictor(pair, cfg.Serving.Threshold)
}

func newPredictCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "predict [customers.csv]",
		Short: "Score customers from a CSV file or stdin",
		Long: `predict reads customer records as CSV (from the given file, or stdin when
the argument is omitted or "-") and prints the churn prediction for each row.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			pred, err := loadPredictor(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			frame, err := dataset.ReadCSV(in)
			if err != nil {
				return err
			}
			preds, err := pred.PredictBatch(frame.Records())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(preds)
			}
			ids, _ := frame.Column(dataset.IDColumn)
			report.WritePredictions(cmd.OutOrStdout(), preds, ids)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().Float64("threshold", 0.5, "decision threshold on the churn probability")
	return cmd
}
