package artifact

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
	"github.com/YuminosukeSato/churnpredict/preprocessing"
)

// Store persists and restores a Pair. Save is all-or-nothing.
type Store interface {
	Save(ctx context.Context, p Pair) error
	Load(ctx context.Context) (Pair, error)
}

// Backends.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// BoltFile is the database file name used by the bolt backend.
const BoltFile = "artifacts.db"

// Options select a backend and blob names.
type Options struct {
	Backend          string
	Dir              string
	ModelFile        string
	PreprocessorFile string
}

// New returns the store selected by opts.Backend.
func New(opts Options) (Store, error) {
	if opts.ModelFile == "" {
		opts.ModelFile = DefaultModelFile
	}
	if opts.PreprocessorFile == "" {
		opts.PreprocessorFile = DefaultPreprocessorFile
	}
	switch opts.Backend {
	case "", BackendFile:
		return &FileStore{Dir: opts.Dir, ModelFile: opts.ModelFile, PreprocessorFile: opts.PreprocessorFile}, nil
	case BackendBolt:
		return &BoltStore{Path: filepath.Join(opts.Dir, BoltFile), ModelKey: opts.ModelFile, PreprocessorKey: opts.PreprocessorFile}, nil
	default:
		return nil, errors.NewValidationError("artifacts.backend", "must be file or bolt", opts.Backend)
	}
}

// SchemaSidecar is the human-readable description written next to the
// artifacts. It is informational only.
type SchemaSidecar struct {
	Fingerprint  string                      `yaml:"fingerprint"`
	Schema       preprocessing.FeatureSchema `yaml:"schema"`
	FeatureNames []string                    `yaml:"feature_names"`
	SavedAt      time.Time                   `yaml:"saved_at"`
}

func sidecar(p Pair) ([]byte, error) {
	doc := SchemaSidecar{
		Fingerprint:  p.Preprocessor.Fingerprint(),
		Schema:       p.Preprocessor.Schema,
		FeatureNames: p.Preprocessor.FeatureNames(),
		SavedAt:      time.Now().UTC(),
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema sidecar")
	}
	return b, nil
}

// ReadSchemaSidecar parses a schema.yaml document.
func ReadSchemaSidecar(b []byte) (SchemaSidecar, error) {
	var doc SchemaSidecar
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, errors.Wrap(err, "parse schema sidecar")
	}
	return doc, nil
}

// FileStore keeps each blob in its own file under Dir.
type FileStore struct {
	Dir              string
	ModelFile        string
	PreprocessorFile string
}

// NewFileStore uses the default blob names under dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir, ModelFile: DefaultModelFile, PreprocessorFile: DefaultPreprocessorFile}
}

// Save writes both blobs to temporary files and renames them into place. If
// the second rename fails the first blob is removed again.
func (s *FileStore) Save(ctx context.Context, p Pair) error {
	logger := log.GetLoggerWithName("artifact")
	prepBlob, modelBlob, err := encodePair(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.NewArtifactError(s.Dir, "create directory", err)
	}

	prepTmp, err := writeTemp(s.Dir, s.PreprocessorFile, prepBlob)
	if err != nil {
		return err
	}
	modelTmp, err := writeTemp(s.Dir, s.ModelFile, modelBlob)
	if err != nil {
		_ = os.Remove(prepTmp)
		return err
	}

	prepPath := filepath.Join(s.Dir, s.PreprocessorFile)
	modelPath := filepath.Join(s.Dir, s.ModelFile)
	if err := os.Rename(prepTmp, prepPath); err != nil {
		_ = os.Remove(prepTmp)
		_ = os.Remove(modelTmp)
		return errors.NewArtifactError(s.PreprocessorFile, "rename", err)
	}
	if err := os.Rename(modelTmp, modelPath); err != nil {
		_ = os.Remove(modelTmp)
		_ = os.Remove(prepPath)
		return errors.NewArtifactError(s.ModelFile, "rename", err)
	}

	if doc, err := sidecar(p); err != nil {
		logger.Warn("Schema sidecar skipped", err)
	} else if err := os.WriteFile(filepath.Join(s.Dir, SchemaSidecarFile), doc, 0o644); err != nil {
		logger.Warn("Schema sidecar skipped", err)
	}

	logger.Info("Artifacts saved",
		log.SourceKey, s.Dir,
		log.FeaturesKey, p.Model.NFeatures,
		"fingerprint", p.Preprocessor.Fingerprint(),
	)
	return nil
}

func writeTemp(dir, name string, blob []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", errors.NewArtifactError(name, "create temp file", err)
	}
	tmp := f.Name()
	if _, err := f.Write(blob); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return "", errors.NewArtifactError(name, "write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return "", errors.NewArtifactError(name, "sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", errors.NewArtifactError(name, "close", err)
	}
	return tmp, nil
}

// Load reads and cross-checks both blobs.
func (s *FileStore) Load(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}
	prepBlob, err := readBlob(s.Dir, s.PreprocessorFile)
	if err != nil {
		return Pair{}, err
	}
	modelBlob, err := readBlob(s.Dir, s.ModelFile)
	if err != nil {
		return Pair{}, err
	}
	return decodePair(s.PreprocessorFile, prepBlob, s.ModelFile, modelBlob)
}

func readBlob(dir, name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactError(name, "missing", err)
		}
		return nil, errors.NewArtifactError(name, "read", err)
	}
	return b, nil
}

const artifactsBucket = "artifacts"

// BoltStore keeps both blobs and the schema sidecar in one bbolt bucket and
// writes them in a single transaction.
type BoltStore struct {
	Path            string
	ModelKey        string
	PreprocessorKey string
}

func (s *BoltStore) open(readOnly bool) (*bbolt.DB, error) {
	if readOnly {
		if _, err := os.Stat(s.Path); err != nil {
			return nil, errors.NewArtifactError(s.Path, "missing", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, errors.NewArtifactError(s.Path, "create directory", err)
	}
	db, err := bbolt.Open(s.Path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.NewArtifactError(s.Path, "open database", err)
	}
	return db, nil
}

// Save stores both blobs in one update transaction.
func (s *BoltStore) Save(ctx context.Context, p Pair) error {
	prepBlob, modelBlob, err := encodePair(p)
	if err != nil {
		return err
	}
	doc, err := sidecar(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(artifactsBucket))
		if err != nil {
			return errors.Wrap(err, "create artifacts bucket")
		}
		if err := b.Put([]byte(s.PreprocessorKey), prepBlob); err != nil {
			return errors.Wrapf(err, "put %s", s.PreprocessorKey)
		}
		if err := b.Put([]byte(s.ModelKey), modelBlob); err != nil {
			return errors.Wrapf(err, "put %s", s.ModelKey)
		}
		return b.Put([]byte(SchemaSidecarFile), doc)
	})
	if err != nil {
		return errors.NewArtifactError(s.Path, "write transaction", err)
	}
	log.GetLoggerWithName("artifact").Info("Artifacts saved",
		log.SourceKey, s.Path,
		log.FeaturesKey, p.Model.NFeatures,
	)
	return nil
}

// Load reads both blobs in one view transaction.
func (s *BoltStore) Load(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}
	db, err := s.open(true)
	if err != nil {
		return Pair{}, err
	}
	defer db.Close()

	var prepBlob, modelBlob []byte
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(artifactsBucket))
		if b == nil {
			return errors.NewArtifactError(artifactsBucket, "missing bucket", nil)
		}
		// bbolt の値はトランザクション外では無効になるのでコピーする
		if v := b.Get([]byte(s.PreprocessorKey)); v != nil {
			prepBlob = append([]byte(nil), v...)
		}
		if v := b.Get([]byte(s.ModelKey)); v != nil {
			modelBlob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Pair{}, err
	}
	if prepBlob == nil {
		return Pair{}, errors.NewArtifactError(s.PreprocessorKey, "missing", nil)
	}
	if modelBlob == nil {
		return Pair{}, errors.NewArtifactError(s.ModelKey, "missing", nil)
	}
	return decodePair(s.PreprocessorKey, prepBlob, s.ModelKey, modelBlob)
}

// Sidecar returns the stored schema description.
func (s *BoltStore) Sidecar() (SchemaSidecar, error) {
	db, err := s.open(true)
	if err != nil {
		return SchemaSidecar{}, err
	}
	defer db.Close()
	var raw []byte
	err = db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(artifactsBucket)); b != nil {
			raw = append([]byte(nil), b.Get([]byte(SchemaSidecarFile))...)
		}
		return nil
	})
	if err != nil {
		return SchemaSidecar{}, errors.NewArtifactError(s.Path, "read sidecar", err)
	}
	if len(raw) == 0 {
		return SchemaSidecar{}, errors.NewArtifactError(SchemaSidecarFile, "missing", nil)
	}
	return ReadSchemaSidecar(raw)
}
