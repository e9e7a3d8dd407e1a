package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	"github.com/YuminosukeSato/churnpredict/server"
)

func newServeCmd() *cobra.Command {
	var noReference bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions and customer insights over HTTP",
		Long: `serve loads the artifact pair (refusing to start when it is missing or
incompatible) and the reference dataset, then exposes the JSON API and
Prometheus metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			ctx := cmd.Context()
			logger := log.GetLoggerWithName("serve")

			pred, err := loadPredictor(ctx, cfg)
			if err != nil {
				return err
			}

			var insights *churn.Insights
			if !noReference {
				frame, err := dataset.Load(ctx, cfg.DataSource())
				if err != nil {
					return err
				}
				ref, err := churn.NewReferenceData(frame)
				if err != nil {
					return err
				}
				if insights, err = churn.NewInsights(pred, ref); err != nil {
					return err
				}
			} else {
				logger.Warn("Reference data disabled; customer endpoints return 503")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := server.New(server.Config{Predictor: pred, Insights: insights, Registry: reg, SampleSeed: cfg.Training.Seed})
			return srv.Serve(ctx, cfg.Serving.Addr)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Float64("threshold", 0.5, "decision threshold on the churn probability")
	cmd.Flags().BoolVar(&noReference, "no-reference", false, "skip loading the reference dataset")
	return cmd
}
