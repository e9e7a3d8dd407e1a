package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnpredict/config"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// Version is set at build time.
var Version = "0.1.0"

type configKey struct{}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "churn",
		Short: "Telecom customer churn prediction",
		Long: `churn trains a gradient boosting classifier on customer records,
persists the fitted preprocessor and model, and scores new customers from the
command line or over an HTTP API.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := log.SetupLoggerWithWriter(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+config.DefaultFile+")")
	pf.String("models-dir", "", "directory holding the artifact pair")
	pf.String("backend", "", "artifact backend (file|bolt)")
	pf.String("data", "", "customer dataset path")
	pf.String("source", "", "dataset source (csv|sqlite)")
	pf.String("table", "", "table name for the sqlite source")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (console|json)")

	root.AddCommand(
		newTrainCmd(),
		newPredictCmd(),
		newServeCmd(),
		newInsightsCmd(),
		newGenerateCmd(),
	)
	return root
}

func configFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey{}).(*config.Config)
}
