package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnpredict/dataset"
	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
	"github.com/YuminosukeSato/churnpredict/sklearn/ensemble"
)

func fitPair(t *testing.T, drop []string) (Pair, dataset.Frame) {
	t.Helper()
	return fitPairOn(t, dataset.Synthetic(240, 3), drop)
}

func fitPairOn(t *testing.T, raw dataset.Frame, drop []string) (Pair, dataset.Frame) {
	t.Helper()
	frame, y, err := dataset.PrepareTraining(raw)
	require.NoError(t, err)

	ct := preprocessing.NewColumnTransformer(drop)
	X, err := ct.FitTransform(frame)
	require.NoError(t, err)

	params := ensemble.DefaultParams()
	params.NEstimators = 10
	params.NIterNoChange = 0
	clf := ensemble.NewGradientBoostingClassifier(params)
	require.NoError(t, clf.Fit(X, y))
	return Pair{Preprocessor: ct, Model: clf}, frame
}

func probabilities(t *testing.T, p Pair, f dataset.Frame) []float64 {
	t.Helper()
	X, err := p.Preprocessor.Transform(f)
	require.NoError(t, err)
	proba, err := p.Model.PositiveProba(X)
	require.NoError(t, err)
	return proba
}

func requireArtifactError(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	var aerr *errors.ArtifactError
	require.True(t, errors.As(err, &aerr), "got %v", err)
	assert.Contains(t, aerr.Reason, reason)
}

func TestFileStoreRoundTrip(t *testing.T) {
	pair, frame := fitPair(t, dataset.DefaultDropColumns)
	dir := filepath.Join(t.TempDir(), "models")
	store := NewFileStore(dir)

	require.NoError(t, store.Save(context.Background(), pair))
	assert.FileExists(t, filepath.Join(dir, DefaultModelFile))
	assert.FileExists(t, filepath.Join(dir, DefaultPreprocessorFile))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, probabilities(t, pair, frame), probabilities(t, loaded, frame))
	assert.Equal(t, pair.Preprocessor.Schema, loaded.Preprocessor.Schema)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temporary files must be renamed away")
	}

	raw, err := os.ReadFile(filepath.Join(dir, SchemaSidecarFile))
	require.NoError(t, err)
	doc, err := ReadSchemaSidecar(raw)
	require.NoError(t, err)
	assert.Equal(t, pair.Preprocessor.Fingerprint(), doc.Fingerprint)
	assert.Equal(t, pair.Preprocessor.FeatureNames(), doc.FeatureNames)
	assert.Equal(t, pair.Preprocessor.Schema.Columns, doc.Schema.Columns)
}

func TestFileStoreMissingBlob(t *testing.T) {
	pair, _ := fitPair(t, dataset.DefaultDropColumns)
	dir := t.TempDir()
	store := NewFileStore(dir)

	_, err := store.Load(context.Background())
	requireArtifactError(t, err, "missing")

	require.NoError(t, store.Save(context.Background(), pair))
	require.NoError(t, os.Remove(filepath.Join(dir, DefaultModelFile)))
	_, err = store.Load(context.Background())
	requireArtifactError(t, err, "missing")
}

func TestFileStoreCorruptBlob(t *testing.T) {
	pair, _ := fitPair(t, dataset.DefaultDropColumns)
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Save(context.Background(), pair))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPreprocessorFile), []byte("not a gob"), 0o644))
	_, err := store.Load(context.Background())
	requireArtifactError(t, err, "corrupt")
}

func TestFileStoreWrongKind(t *testing.T) {
	pair, _ := fitPair(t, dataset.DefaultDropColumns)
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Save(context.Background(), pair))

	// 前処理器の位置にモデルを置く
	modelBlob, err := os.ReadFile(filepath.Join(dir, DefaultModelFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPreprocessorFile), modelBlob, 0o644))

	_, err = store.Load(context.Background())
	requireArtifactError(t, err, "wrong kind")
}

func TestFileStoreMismatchedPair(t *testing.T) {
	a, _ := fitPair(t, dataset.DefaultDropColumns)
	b, _ := fitPair(t, append(append([]string(nil), dataset.DefaultDropColumns...), "Gender"))

	dirA, dirB := t.TempDir(), t.TempDir()
	require.NoError(t, NewFileStore(dirA).Save(context.Background(), a))
	require.NoError(t, NewFileStore(dirB).Save(context.Background(), b))

	modelB, err := os.ReadFile(filepath.Join(dirB, DefaultModelFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirA, DefaultModelFile), modelB, 0o644))

	_, err = NewFileStore(dirA).Load(context.Background())
	requireArtifactError(t, err, "different feature layout")
}

func TestFileStoreRejectsForeignVocabulary(t *testing.T) {
	a, _ := fitPair(t, dataset.DefaultDropColumns)

	// 列構成と出力次元は同じで、State の語彙だけが異なる
	renamed := dataset.Synthetic(240, 3)
	j := renamed.Index(dataset.StateColumn)
	require.GreaterOrEqual(t, j, 0)
	for _, row := range renamed.Rows {
		row[j] = "zz_" + row[j]
	}
	b, _ := fitPairOn(t, renamed, dataset.DefaultDropColumns)
	require.Equal(t, a.Preprocessor.Schema.Fingerprint(), b.Preprocessor.Schema.Fingerprint())
	require.Equal(t, a.Preprocessor.NFeatures, b.Preprocessor.NFeatures)
	require.NotEqual(t, a.Preprocessor.Fingerprint(), b.Preprocessor.Fingerprint())

	dirA, dirB := t.TempDir(), t.TempDir()
	require.NoError(t, NewFileStore(dirA).Save(context.Background(), a))
	require.NoError(t, NewFileStore(dirB).Save(context.Background(), b))

	prepB, err := os.ReadFile(filepath.Join(dirB, DefaultPreprocessorFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirA, DefaultPreprocessorFile), prepB, 0o644))

	_, err = NewFileStore(dirA).Load(context.Background())
	requireArtifactError(t, err, "different feature layout")
}

func TestSaveRejectsUnfittedPair(t *testing.T) {
	pair, _ := fitPair(t, dataset.DefaultDropColumns)
	dir := t.TempDir()

	err := NewFileStore(dir).Save(context.Background(), Pair{Preprocessor: pair.Preprocessor, Model: ensemble.NewGradientBoostingClassifier(ensemble.DefaultParams())})
	requireArtifactError(t, err, "not fitted")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written when validation fails")
}

func TestBoltStoreRoundTrip(t *testing.T) {
	pair, frame := fitPair(t, dataset.DefaultDropColumns)
	store, err := New(Options{Backend: BackendBolt, Dir: t.TempDir()})
	require.NoError(t, err)
	bolt := store.(*BoltStore)

	_, err = bolt.Load(context.Background())
	requireArtifactError(t, err, "missing")

	require.NoError(t, bolt.Save(context.Background(), pair))
	loaded, err := bolt.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, probabilities(t, pair, frame), probabilities(t, loaded, frame))

	doc, err := bolt.Sidecar()
	require.NoError(t, err)
	assert.Equal(t, pair.Preprocessor.Fingerprint(), doc.Fingerprint)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(Options{Backend: "s3"})
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr))

	s, err := New(Options{Dir: "models"})
	require.NoError(t, err)
	assert.Equal(t, &FileStore{Dir: "models", ModelFile: DefaultModelFile, PreprocessorFile: DefaultPreprocessorFile}, s)
}

func TestPairValidateFeatureMismatch(t *testing.T) {
	pair, _ := fitPair(t, dataset.DefaultDropColumns)
	other := *pair.Model
	other.NFeatures++
	err := Pair{Preprocessor: pair.Preprocessor, Model: &other}.Validate()
	requireArtifactError(t, err, "feature count")
	var derr *errors.DimensionError
	assert.True(t, errors.As(err, &derr))
}
