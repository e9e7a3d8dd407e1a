// Package artifact persists the fitted preprocessor and classifier as a pair
// of opaque blobs and refuses to load a pair that does not belong together.
package artifact

import (
	"bytes"
	"encoding/gob"

	"github.com/YuminosukeSato/churnpredict/core/model"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
	"github.com/YuminosukeSato/churnpredict/sklearn/ensemble"
)

// Blob kinds.
const (
	KindModel        = "churn.model.gradient_boosting"
	KindPreprocessor = "churn.preprocessor.column_transformer"
)

// Default blob names.
const (
	DefaultModelFile        = "churn_model.gob"
	DefaultPreprocessorFile = "preprocessor.gob"
	SchemaSidecarFile       = "schema.yaml"
)

// Envelope wraps every persisted blob.
type Envelope struct {
	Kind          string
	SchemaVersion int
	// Fingerprint は前処理器の出力レイアウト指紋。モデル側にも同じ値を書く
	Fingerprint string
	NFeatures   int
	Payload     []byte
}

// Pair is the fitted (preprocessor, classifier) pair. It is immutable once
// built; both halves are read-only after fitting.
type Pair struct {
	Preprocessor *preprocessing.ColumnTransformer
	Model        *ensemble.GradientBoostingClassifier
}

// Validate checks that both halves are fitted and agree on feature count.
func (p Pair) Validate() error {
	if p.Preprocessor == nil || !p.Preprocessor.IsFitted() {
		return errors.NewArtifactError(KindPreprocessor, "not fitted", nil)
	}
	if p.Model == nil || !p.Model.IsFitted() {
		return errors.NewArtifactError(KindModel, "not fitted", nil)
	}
	if p.Model.NFeatures != p.Preprocessor.NFeatures {
		return errors.NewArtifactError(KindModel, "feature count mismatch", errors.NewDimensionError("artifact.Pair", p.Preprocessor.NFeatures, p.Model.NFeatures, 1))
	}
	return nil
}

// encodePair renders the two blobs. Nothing is written until both encode.
func encodePair(p Pair) (preprocessor, clf []byte, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	fp := p.Preprocessor.Fingerprint()
	preprocessor, err = encode(KindPreprocessor, fp, p.Preprocessor.NFeatures, p.Preprocessor)
	if err != nil {
		return nil, nil, err
	}
	clf, err = encode(KindModel, fp, p.Model.NFeatures, p.Model)
	if err != nil {
		return nil, nil, err
	}
	return preprocessor, clf, nil
}

func encode(kind, fingerprint string, nFeatures int, v interface{}) ([]byte, error) {
	var payload bytes.Buffer
	if err := model.SaveModelToWriter(v, &payload); err != nil {
		return nil, errors.NewArtifactError(kind, "encode payload", err)
	}
	var out bytes.Buffer
	env := Envelope{
		Kind:          kind,
		SchemaVersion: preprocessing.FeatureSchemaVersion,
		Fingerprint:   fingerprint,
		NFeatures:     nFeatures,
		Payload:       payload.Bytes(),
	}
	if err := gob.NewEncoder(&out).Encode(env); err != nil {
		return nil, errors.NewArtifactError(kind, "encode envelope", err)
	}
	return out.Bytes(), nil
}

func decodeEnvelope(name, kind string, blob []byte) (Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return env, errors.NewArtifactError(name, "corrupt envelope", err)
	}
	if env.Kind != kind {
		return env, errors.NewArtifactError(name, "wrong kind "+env.Kind+", want "+kind, nil)
	}
	if env.SchemaVersion != preprocessing.FeatureSchemaVersion {
		return env, errors.NewArtifactError(name, "unsupported schema version", errors.NewValidationError("schema_version", "does not match this build", env.SchemaVersion))
	}
	return env, nil
}

// decodePair restores and cross-checks the two blobs. names are used in error
// messages only.
func decodePair(preprocessorName string, preprocessorBlob []byte, modelName string, modelBlob []byte) (Pair, error) {
	penv, err := decodeEnvelope(preprocessorName, KindPreprocessor, preprocessorBlob)
	if err != nil {
		return Pair{}, err
	}
	menv, err := decodeEnvelope(modelName, KindModel, modelBlob)
	if err != nil {
		return Pair{}, err
	}

	ct := new(preprocessing.ColumnTransformer)
	if err := model.LoadModelFromReader(ct, bytes.NewReader(penv.Payload)); err != nil {
		return Pair{}, errors.NewArtifactError(preprocessorName, "corrupt payload", err)
	}
	clf := new(ensemble.GradientBoostingClassifier)
	if err := model.LoadModelFromReader(clf, bytes.NewReader(menv.Payload)); err != nil {
		return Pair{}, errors.NewArtifactError(modelName, "corrupt payload", err)
	}

	if fp := ct.Fingerprint(); fp != penv.Fingerprint {
		return Pair{}, errors.NewArtifactError(preprocessorName, "feature fingerprint does not match payload", nil)
	}
	if menv.Fingerprint != penv.Fingerprint {
		return Pair{}, errors.NewArtifactError(modelName, "model was trained with a different feature layout", nil)
	}
	pair := Pair{Preprocessor: ct, Model: clf}
	if err := pair.Validate(); err != nil {
		return Pair{}, err
	}
	return pair, nil
}
