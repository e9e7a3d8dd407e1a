// Package log defines standard attribute keys for the churn pipeline.
//
// Keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so that training runs and serving traffic can be filtered
// by the same fields.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model or transformer.
	// Examples: "GradientBoostingClassifier", "StandardScaler", "SMOTE"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	// Examples: "training", "validation", "testing", "inference"
	PhaseKey = "ml.phase"

	// RunIDKey identifies a single training run. Every log line of a
	// training invocation carries it.
	RunIDKey = "run.id"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ColumnKey names a single input column.
	ColumnKey = "data.column"

	// PositiveRateKey records the share of churned rows.
	PositiveRateKey = "data.positive_rate"

	// SourceKey names where data was loaded from (file path or table).
	SourceKey = "data.source"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records the loss value during training or evaluation.
	LossKey = "metrics.loss"

	// ScoreKey records a generic evaluation score (F1 during grid search).
	ScoreKey = "metrics.score"

	// AUCKey records ROC AUC.
	AUCKey = "metrics.roc_auc"

	// AveragePrecisionKey records the area under the precision-recall curve.
	AveragePrecisionKey = "metrics.average_precision"

	// IterationKey records the current boosting iteration.
	IterationKey = "training.iteration"

	// FoldKey records the cross-validation fold index.
	FoldKey = "training.fold"
)

// Prediction and Output Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ThresholdKey records the decision threshold used for classification.
	ThresholdKey = "preds.threshold"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Populated automatically when an error is logged.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// HTTP serving
const (
	HTTPMethodKey = "http.method"
	HTTPRouteKey  = "http.route"
	HTTPStatusKey = "http.status"
)

// Standard attribute values.
const (
	OperationFit        = "fit"
	OperationPredict    = "predict"
	OperationResample   = "resample"
	OperationGridSearch = "grid_search"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
