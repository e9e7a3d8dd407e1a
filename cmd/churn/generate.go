package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

func newGenerateCmd() *cobra.Command {
	var (
		rows int
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic customer dataset",
		Long: `generate writes a deterministic synthetic customer table to the configured
data path, as CSV or as a SQLite table depending on the data source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if rows < 1 {
				return errors.NewValidationError("rows", "must be at least 1", rows)
			}
			frame := dataset.Synthetic(rows, seed)

			src := cfg.DataSource()
			if err := os.MkdirAll(filepath.Dir(src.Path), 0o755); err != nil {
				return errors.Wrap(err, "create data directory")
			}
			if src.Kind == dataset.SourceSQLite {
				if err := dataset.WriteSQLite(cmd.Context(), src.Path, src.Table, frame); err != nil {
					return err
				}
			} else {
				f, err := os.Create(src.Path)
				if err != nil {
					return errors.Wrap(err, "create dataset file")
				}
				if err := dataset.WriteCSV(f, frame); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}
			cmd.Printf("wrote %d customers to %s\n", rows, src.Path)
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 7000, "number of customers")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "generator seed")
	return cmd
}
