package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	"github.com/YuminosukeSato/churnpredict/report"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier and write the artifact pair",
		Long: `train loads the customer dataset, searches the hyperparameter grid with
stratified cross-validation, evaluates the best pipeline on a held-out split
and writes the preprocessor and model only when every step succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			ctx := cmd.Context()

			frame, err := dataset.Load(ctx, cfg.DataSource())
			if err != nil {
				return err
			}
			res, err := churn.Train(ctx, frame, cfg.TrainOptions())
			if err != nil {
				return err
			}
			report.WriteTrainResult(cmd.OutOrStdout(), res)

			store, err := artifact.New(cfg.ArtifactOptions())
			if err != nil {
				return err
			}
			if err := store.Save(ctx, res.Pipeline.Artifacts()); err != nil {
				return err
			}

			if dir := cfg.Training.ReportDir; dir != "" {
				paths, err := report.PlotCurves(dir, res.Evaluation)
				if err != nil {
					// 図の失敗は学習結果を無効にしない
					log.GetLogger().Warn("Curve plots skipped", err)
				} else {
					for _, p := range paths {
						cmd.Println("wrote", p)
					}
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint64("seed", 42, "random seed for splitting, SMOTE and boosting")
	f.Float64("test-size", 0.2, "held-out fraction")
	f.Int("folds", 3, "cross-validation folds")
	f.Int("workers", 0, "grid search workers (0 = all CPUs)")
	f.String("report-dir", "", "write ROC and precision-recall plots here")
	return cmd
}
