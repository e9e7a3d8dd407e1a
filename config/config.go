// Package config loads the churn configuration from defaults, a YAML file,
// CHURN_ environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/YuminosukeSato/churnpredict/artifact"
	"github.com/YuminosukeSato/churnpredict/churn"
	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/imbalance"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	ms "github.com/YuminosukeSato/churnpredict/sklearn/model_selection"
)

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "churn.yaml"

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: CHURN_TRAINING__TEST_SIZE sets training.test_size.
const EnvPrefix = "CHURN_"

// Config is the full configuration.
type Config struct {
	Data      DataConfig      `koanf:"data"`
	Artifacts ArtifactsConfig `koanf:"artifacts"`
	Training  TrainingConfig  `koanf:"training"`
	Serving   ServingConfig   `koanf:"serving"`
	Log       LogConfig       `koanf:"log"`
}

// DataConfig locates the customer dataset.
type DataConfig struct {
	Path   string `koanf:"path"`
	Source string `koanf:"source"`
	Table  string `koanf:"table"`
}

// ArtifactsConfig locates the persisted pair.
type ArtifactsConfig struct {
	Dir              string `koanf:"dir"`
	Backend          string `koanf:"backend"`
	ModelFile        string `koanf:"model_file"`
	PreprocessorFile string `koanf:"preprocessor_file"`
}

// SMOTEConfig configures the imbalance corrector.
type SMOTEConfig struct {
	KNeighbors int     `koanf:"k_neighbors"`
	Strategy   string  `koanf:"strategy"`
	Ratio      float64 `koanf:"ratio"`
}

// TrainingConfig configures churn.Train.
type TrainingConfig struct {
	Seed                uint64                   `koanf:"seed"`
	TestSize            float64                  `koanf:"test_size"`
	Folds               int                      `koanf:"folds"`
	Workers             int                      `koanf:"workers"`
	EarlyStoppingRounds int                      `koanf:"early_stopping_rounds"`
	ValidationFraction  float64                  `koanf:"validation_fraction"`
	SMOTE               SMOTEConfig              `koanf:"smote"`
	Grid                map[string][]interface{} `koanf:"grid"`
	ReportDir           string                   `koanf:"report_dir"`
}

// ServingConfig configures churn serve.
type ServingConfig struct {
	Addr      string  `koanf:"addr"`
	Threshold float64 `koanf:"threshold"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data.path":   "data/customer_data.csv",
		"data.source": dataset.SourceCSV,
		"data.table":  "customers",

		"artifacts.dir":               "models",
		"artifacts.backend":           artifact.BackendFile,
		"artifacts.model_file":        artifact.DefaultModelFile,
		"artifacts.preprocessor_file": artifact.DefaultPreprocessorFile,

		"training.seed":                  42,
		"training.test_size":             0.2,
		"training.folds":                 3,
		"training.workers":               0,
		"training.early_stopping_rounds": 5,
		"training.validation_fraction":   0.1,
		"training.smote.k_neighbors":     5,
		"training.smote.strategy":        imbalance.StrategyMinority,
		"training.smote.ratio":           1.0,
		"training.report_dir":            "",

		"serving.addr":      ":8080",
		"serving.threshold": churn.DefaultThreshold,

		"log.level":  "info",
		"log.format": "console",
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"data":       "data.path",
	"source":     "data.source",
	"table":      "data.table",
	"models-dir": "artifacts.dir",
	"backend":    "artifacts.backend",
	"seed":       "training.seed",
	"test-size":  "training.test_size",
	"folds":      "training.folds",
	"workers":    "training.workers",
	"report-dir": "training.report_dir",
	"addr":       "serving.addr",
	"threshold":  "serving.threshold",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// Load reads the configuration. path may be empty, in which case DefaultFile
// is used when present. flags may be nil; only flags that were set override.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errors.Wrap(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if len(cfg.Training.Grid) == 0 {
		cfg.Training.Grid = churn.DefaultGrid()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns CHURN_TRAINING__TEST_SIZE into training.test_size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Data.Source {
	case dataset.SourceCSV:
	case dataset.SourceSQLite:
		if c.Data.Table == "" {
			return errors.NewValidationError("data.table", "required for the sqlite source", c.Data.Table)
		}
	default:
		return errors.NewValidationError("data.source", "must be csv or sqlite", c.Data.Source)
	}
	if c.Artifacts.Backend != artifact.BackendFile && c.Artifacts.Backend != artifact.BackendBolt {
		return errors.NewValidationError("artifacts.backend", "must be file or bolt", c.Artifacts.Backend)
	}
	if c.Artifacts.Dir == "" {
		return errors.NewValidationError("artifacts.dir", "must not be empty", c.Artifacts.Dir)
	}
	t := c.Training
	if !(t.TestSize > 0 && t.TestSize < 1) {
		return errors.NewValidationError("training.test_size", "must be in (0, 1)", t.TestSize)
	}
	if t.Folds < 2 {
		return errors.NewValidationError("training.folds", "must be at least 2", t.Folds)
	}
	if t.Workers < 0 {
		return errors.NewValidationError("training.workers", "must not be negative", t.Workers)
	}
	if t.EarlyStoppingRounds < 0 {
		return errors.NewValidationError("training.early_stopping_rounds", "must not be negative", t.EarlyStoppingRounds)
	}
	if t.EarlyStoppingRounds > 0 && !(t.ValidationFraction > 0 && t.ValidationFraction < 1) {
		return errors.NewValidationError("training.validation_fraction", "must be in (0, 1)", t.ValidationFraction)
	}
	if t.SMOTE.KNeighbors < 1 {
		return errors.NewValidationError("training.smote.k_neighbors", "must be at least 1", t.SMOTE.KNeighbors)
	}
	switch t.SMOTE.Strategy {
	case imbalance.StrategyMinority:
	case imbalance.StrategyRatio:
		if !(t.SMOTE.Ratio > 0 && t.SMOTE.Ratio <= 1) {
			return errors.NewValidationError("training.smote.ratio", "must be in (0, 1]", t.SMOTE.Ratio)
		}
	default:
		return errors.NewValidationError("training.smote.strategy", "must be minority or ratio", t.SMOTE.Strategy)
	}
	for name, values := range t.Grid {
		if len(values) == 0 {
			return errors.NewValidationError("training.grid."+name, "must list at least one value", values)
		}
	}
	if !(c.Serving.Threshold >= 0 && c.Serving.Threshold <= 1) {
		return errors.NewValidationError("serving.threshold", "must be in [0, 1]", c.Serving.Threshold)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NewValidationError("log.level", "unknown level", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return errors.NewValidationError("log.format", "must be json or console", c.Log.Format)
	}
	return nil
}

// TrainOptions converts the training section into churn.TrainOptions.
func (c *Config) TrainOptions() churn.TrainOptions {
	opts := churn.DefaultTrainOptions()
	t := c.Training
	opts.Seed = t.Seed
	opts.TestSize = t.TestSize
	opts.Folds = t.Folds
	opts.Workers = t.Workers
	opts.Base.NIterNoChange = t.EarlyStoppingRounds
	opts.Base.ValidationFraction = t.ValidationFraction
	opts.SMOTE = churn.SMOTEOptions{KNeighbors: t.SMOTE.KNeighbors, Strategy: t.SMOTE.Strategy, Ratio: t.SMOTE.Ratio}
	opts.Grid = ms.ParamGrid(t.Grid)
	return opts
}

// ArtifactOptions converts the artifacts section into artifact.Options.
func (c *Config) ArtifactOptions() artifact.Options {
	return artifact.Options{
		Backend:          c.Artifacts.Backend,
		Dir:              c.Artifacts.Dir,
		ModelFile:        c.Artifacts.ModelFile,
		PreprocessorFile: c.Artifacts.PreprocessorFile,
	}
}

// DataSource converts the data section into dataset.Source.
func (c *Config) DataSource() dataset.Source {
	return dataset.Source{Kind: c.Data.Source, Path: c.Data.Path, Table: c.Data.Table}
}
