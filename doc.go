// Package churnpredict predicts which telecom customers are likely to leave.
//
// A gradient boosting classifier is trained on tabular customer records
// (demographics, subscribed services, contract and billing, tenure). The fitted
// preprocessor and classifier are persisted as an immutable pair and reused for
// scoring single customers, batches and whole reference populations.
//
// # Installation
//
//	go install github.com/YuminosukeSato/churnpredict/cmd/churn@latest
//
// # Quick Start
//
//	churn generate --rows 7000 --data data/customer_data.csv
//	churn train --report-dir reports
//	churn predict data/new_customers.csv
//	churn serve --addr :8080
//
// Training is also available as a library:
//
//	frame, err := dataset.LoadCSV("data/customer_data.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := churn.Train(ctx, frame, churn.DefaultTrainOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := churn.NewPredictor(res.Pipeline.Artifacts(), churn.DefaultThreshold)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := pred.Predict(frame.Record(0))
//
// # Packages
//
//   - dataset: customer records as raw text frames, CSV and SQLite sources, synthetic data
//   - preprocessing: feature schema inference, StandardScaler, OneHotEncoder, ColumnTransformer
//   - imbalance: SMOTE oversampling of the churned class
//   - sklearn/ensemble: GradientBoostingClassifier with early stopping
//   - sklearn/model_selection: StratifiedKFold, TrainTestSplit, GridSearchCV
//   - metrics: classification report, ROC-AUC, average precision, curves
//   - artifact: versioned blob envelopes, file and bbolt stores
//   - churn: training orchestration, Predictor, reference-population insights
//   - report: go-pretty tables and gonum/plot curve charts
//   - server: chi HTTP API with Prometheus metrics
//   - config: koanf configuration (defaults, churn.yaml, CHURN_ env, flags)
//   - core/model, core/parallel: estimator state, gob persistence, row-range fan-out
//   - pkg/errors, pkg/log: structured errors and zerolog logging
package churnpredict
