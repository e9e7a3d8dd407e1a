package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/report"
)

func buildInsights(cmd *cobra.Command) (*churn.Insights, error) {
	cfg := configFrom(cmd)
	pred, err := loadPredictor(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	frame, err := dataset.Load(cmd.Context(), cfg.DataSource())
	if err != nil {
		return nil, err
	}
	ref, err := churn.NewReferenceData(frame)
	if err != nil {
		return nil, err
	}
	return churn.NewInsights(pred, ref)
}

func newInsightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Summaries of the reference customers",
	}

	var n int
	top := &cobra.Command{
		Use:   "top",
		Short: "Customers most and least likely to churn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := buildInsights(cmd)
			if err != nil {
				return err
			}
			report.WriteCustomers(cmd.OutOrStdout(), "Most likely to churn", in.TopChurners(n))
			report.WriteCustomers(cmd.OutOrStdout(), "Least likely to churn", in.TopStayers(n))
			return nil
		},
	}
	top.Flags().IntVarP(&n, "n", "n", 3, "customers per list")

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Churn rate, averages and top states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := buildInsights(cmd)
			if err != nil {
				return err
			}
			report.WriteSummary(cmd.OutOrStdout(), in.Summary())
			return nil
		},
	}

	cmd.AddCommand(top, summary)
	return cmd
}
