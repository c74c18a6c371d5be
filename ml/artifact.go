package ml

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	currentFileName = "CURRENT"
	versionsDirName = "versions"
)

// Metadata 与模型一起写入的元数据，推理时的特征顺序和标签表以此为准
type Metadata struct {
	Version      string    `json:"version"`
	FeatureNames []string  `json:"feature_names"`
	TopFeatures  []string  `json:"top_features"`
	ClassLabels  []string  `json:"class_labels"`
	NumTrees     int       `json:"n_estimators"`
	Seed         int64     `json:"random_state"`
	ModelDigest  string    `json:"model_digest"`
	CreatedAt    time.Time `json:"created_at"`
}

// Bundle 模型 + 元数据，作为一个整体发布
type Bundle struct {
	Forest   *RandomForest
	Metadata Metadata
}

func (b *Bundle) validate() error {
	if b.Forest == nil {
		return errors.New("bundle has no forest")
	}
	if err := b.Forest.validate(); err != nil {
		return err
	}
	if len(b.Metadata.FeatureNames) != b.Forest.NumFeatures {
		return fmt.Errorf("%d feature names for a forest of width %d", len(b.Metadata.FeatureNames), b.Forest.NumFeatures)
	}
	if n := len(b.Metadata.ClassLabels); n > 0 && n != b.Forest.NumClasses {
		return fmt.Errorf("%d class labels for a forest with %d classes", n, b.Forest.NumClasses)
	}
	seen := make(map[string]struct{}, len(b.Metadata.FeatureNames))
	for _, name := range b.Metadata.FeatureNames {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate feature name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ArtifactConfig 模型产物目录配置
type ArtifactConfig struct {
	Dir          string
	ModelFile    string
	MetadataFile string
	KeepVersions int
}

// ArtifactStore keeps every bundle in its own version directory and points
// CURRENT at the published one. Readers resolve CURRENT first, so a model
// file is never paired with metadata from another run.
type ArtifactStore struct {
	cfg ArtifactConfig
	log *zap.Logger
}

func NewArtifactStore(cfg ArtifactConfig, log *zap.Logger) *ArtifactStore {
	if cfg.ModelFile == "" {
		cfg.ModelFile = "model.json"
	}
	if cfg.MetadataFile == "" {
		cfg.MetadataFile = "metadata.json"
	}
	if cfg.KeepVersions < 1 {
		cfg.KeepVersions = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ArtifactStore{cfg: cfg, log: log}
}

func (s *ArtifactStore) Dir() string { return s.cfg.Dir }

// CurrentFile is the path of the version pointer.
func (s *ArtifactStore) CurrentFile() string {
	return filepath.Join(s.cfg.Dir, currentFileName)
}

func (s *ArtifactStore) versionDir(version string) string {
	return filepath.Join(s.cfg.Dir, versionsDirName, version)
}

// Save publishes the bundle as a new version. The version id and model
// digest are filled in on b.Metadata. On error CURRENT is left untouched.
func (s *ArtifactStore) Save(b *Bundle) (string, error) {
	if err := b.validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	if b.Metadata.Version == "" {
		b.Metadata.Version = uuid.New().String()
	}
	if b.Metadata.CreatedAt.IsZero() {
		b.Metadata.CreatedAt = time.Now().UTC()
	}
	version := b.Metadata.Version

	if err := os.MkdirAll(filepath.Join(s.cfg.Dir, versionsDirName), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	staging, err := os.MkdirTemp(s.cfg.Dir, ".staging-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(staging)
		}
	}()

	model, err := json.Marshal(b.Forest)
	if err != nil {
		return "", fmt.Errorf("%w: encode model: %v", ErrArtifactWrite, err)
	}
	sum := blake3.Sum256(model)
	b.Metadata.ModelDigest = hex.EncodeToString(sum[:])
	meta, err := json.MarshalIndent(b.Metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata: %v", ErrArtifactWrite, err)
	}

	if err := writeFileSync(filepath.Join(staging, s.cfg.ModelFile), model); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	if err := writeFileSync(filepath.Join(staging, s.cfg.MetadataFile), meta); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	syncDir(staging)

	target := s.versionDir(version)
	if err := os.Rename(staging, target); err != nil {
		return "", fmt.Errorf("%w: publish version %s: %v", ErrArtifactWrite, version, err)
	}
	published = true
	syncDir(filepath.Dir(target))

	if err := s.setCurrent(version); err != nil {
		os.RemoveAll(target)
		return "", fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	s.log.Info("artifact published",
		zap.String("version", version),
		zap.String("dir", target),
		zap.String("digest", b.Metadata.ModelDigest))

	if err := s.prune(version); err != nil {
		s.log.Warn("prune old artifacts failed", zap.Error(err))
	}
	return version, nil
}

func (s *ArtifactStore) setCurrent(version string) error {
	tmp, err := os.CreateTemp(s.cfg.Dir, ".current-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.CurrentFile()); err != nil {
		return err
	}
	syncDir(s.cfg.Dir)
	return nil
}

// CurrentVersion returns the published version id.
func (s *ArtifactStore) CurrentVersion() (string, error) {
	raw, err := os.ReadFile(s.CurrentFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: no artifact in %s", ErrModelNotReady, s.cfg.Dir)
		}
		return "", fmt.Errorf("read %s: %w", s.CurrentFile(), err)
	}
	version := strings.TrimSpace(string(raw))
	if version == "" || strings.ContainsAny(version, `/\`) || version == "." || version == ".." {
		return "", fmt.Errorf("%w: invalid version pointer %q", ErrArtifactCorrupt, version)
	}
	return version, nil
}

// Load reads and verifies the current bundle.
func (s *ArtifactStore) Load() (*Bundle, error) {
	version, err := s.CurrentVersion()
	if err != nil {
		return nil, err
	}
	dir := s.versionDir(version)

	model, err := os.ReadFile(filepath.Join(dir, s.cfg.ModelFile))
	if err != nil {
		return nil, fmt.Errorf("%w: version %s: %v", ErrArtifactCorrupt, version, err)
	}
	meta, err := os.ReadFile(filepath.Join(dir, s.cfg.MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: version %s: %v", ErrArtifactCorrupt, version, err)
	}

	b := &Bundle{Forest: &RandomForest{}}
	if err := json.Unmarshal(meta, &b.Metadata); err != nil {
		return nil, fmt.Errorf("%w: version %s metadata: %v", ErrArtifactCorrupt, version, err)
	}
	if b.Metadata.ModelDigest != "" {
		sum := blake3.Sum256(model)
		if got := hex.EncodeToString(sum[:]); got != b.Metadata.ModelDigest {
			return nil, fmt.Errorf("%w: version %s model digest %s, metadata says %s",
				ErrArtifactCorrupt, version, got, b.Metadata.ModelDigest)
		}
	}
	if err := json.Unmarshal(model, b.Forest); err != nil {
		return nil, fmt.Errorf("%w: version %s model: %v", ErrArtifactCorrupt, version, err)
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("%w: version %s: %v", ErrArtifactCorrupt, version, err)
	}
	if b.Metadata.Version == "" {
		b.Metadata.Version = version
	}
	return b, nil
}

// Versions lists stored version ids, newest first.
func (s *ArtifactStore) Versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.cfg.Dir, versionsDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type entry struct {
		name string
		mod  time.Time
	}
	dirs := make([]entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, entry{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.After(dirs[j].mod) })
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d.name
	}
	return out, nil
}

func (s *ArtifactStore) prune(current string) error {
	versions, err := s.Versions()
	if err != nil {
		return err
	}
	kept := 1
	var errs []error
	for _, v := range versions {
		if v == current {
			continue
		}
		if kept < s.cfg.KeepVersions {
			kept++
			continue
		}
		if err := os.RemoveAll(s.versionDir(v)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Debug("artifact pruned", zap.String("version", v))
	}
	return errors.Join(errs...)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir flushes directory entries; not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
