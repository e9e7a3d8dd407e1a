package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "churn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Data.Source)
	assert.Equal(t, "models", cfg.Artifacts.Dir)
	assert.Equal(t, artifact.BackendFile, cfg.Artifacts.Backend)
	assert.Equal(t, artifact.DefaultModelFile, cfg.Artifacts.ModelFile)
	assert.EqualValues(t, 42, cfg.Training.Seed)
	assert.Equal(t, 0.2, cfg.Training.TestSize)
	assert.Equal(t, 3, cfg.Training.Folds)
	assert.Equal(t, 5, cfg.Training.EarlyStoppingRounds)
	assert.Equal(t, ":8080", cfg.Serving.Addr)
	assert.Equal(t, 0.5, cfg.Serving.Threshold)
	assert.Len(t, cfg.Training.Grid, 5)

	opts := cfg.TrainOptions()
	assert.Len(t, opts.Grid.Expand(), 32)
	assert.Equal(t, 5, opts.Base.NIterNoChange)
	assert.Equal(t, churn.DefaultThreshold, cfg.Serving.Threshold)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeYAML(t, `
data:
  path: file.csv
training:
  folds: 4
  test_size: 0.25
  grid:
    max_depth: [2, 3]
serving:
  threshold: 0.4
log:
  level: debug
`)
	t.Setenv("CHURN_TRAINING__FOLDS", "5")
	t.Setenv("CHURN_SERVING__ADDR", ":9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Float64("threshold", 0.5, "")
	flags.String("addr", ":8080", "")
	require.NoError(t, flags.Parse([]string{"--threshold=0.3"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "file.csv", cfg.Data.Path)
	assert.Equal(t, 0.25, cfg.Training.TestSize)
	assert.Equal(t, 5, cfg.Training.Folds, "env beats file")
	assert.Equal(t, ":9090", cfg.Serving.Addr, "unset flags do not override")
	assert.Equal(t, 0.3, cfg.Serving.Threshold, "flags beat file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.Training.Grid, 1)
	assert.Len(t, cfg.TrainOptions().Grid.Expand(), 2)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"source":    "data:\n  source: parquet\n",
		"backend":   "artifacts:\n  backend: s3\n",
		"test size": "training:\n  test_size: 1.5\n",
		"folds":     "training:\n  folds: 1\n",
		"strategy":  "training:\n  smote:\n    strategy: all\n",
		"threshold": "serving:\n  threshold: 2\n",
		"log level": "log:\n  level: loud\n",
		"format":    "log:\n  format: xml\n",
		"sqlite":    "data:\n  source: sqlite\n  table: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body), nil)
			var verr *errors.ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "training.smote.k_neighbors", envKey("CHURN_TRAINING__SMOTE__K_NEIGHBORS"))
	assert.Equal(t, "serving.addr", envKey("CHURN_SERVING__ADDR"))
}

func TestAdapters(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, artifact.Options{Backend: "file", Dir: "models", ModelFile: artifact.DefaultModelFile, PreprocessorFile: artifact.DefaultPreprocessorFile}, cfg.ArtifactOptions())
	assert.Equal(t, "csv", cfg.DataSource().Kind)
}
