package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"flowguard/logger"
)

// Config 服务与训练的全部配置
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Log logger.Config `yaml:"log"`
	ML  struct {
		DatasetPath     string `yaml:"dataset_path"`
		LabelColumn     string `yaml:"label_column"`
		DatasetEncoding string `yaml:"dataset_encoding"`
		ArtifactDir     string `yaml:"artifact_dir"`
		ModelFile       string `yaml:"model_file"`
		MetadataFile    string `yaml:"metadata_file"`
		NEstimators     int    `yaml:"n_estimators"`
		RandomState     int64  `yaml:"random_state"`
		MaxDepth        int    `yaml:"max_depth"`
		TopK            int    `yaml:"top_k"`
		MissingFeatures string `yaml:"missing_features"`
		WatchArtifacts  bool   `yaml:"watch_artifacts"`
		KeepVersions    int    `yaml:"keep_versions"`
	} `yaml:"ml"`
	Snapshot struct {
		Dir       string        `yaml:"dir"`
		CacheTTL  time.Duration `yaml:"cache_ttl"`
		CacheSize int           `yaml:"cache_size"`
	} `yaml:"snapshot"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	cfg := preset()
	cfg.applyDefaults()
	return cfg
}

// preset 设置零值也合法的字段，解码只覆盖文件中出现的键
func preset() *Config {
	cfg := &Config{}
	cfg.ML.RandomState = 42
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/flowguard.db"
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.Timeout == 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if c.Http.MaxBodyBytes == 0 {
		c.Http.MaxBodyBytes = 1 << 20
	}
	if len(c.Http.AllowedOrigins) == 0 {
		c.Http.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "pretty"
	}
	if c.ML.DatasetPath == "" {
		c.ML.DatasetPath = "data/Android_Adware_and_General_Malware.csv"
	}
	if c.ML.LabelColumn == "" {
		c.ML.LabelColumn = "calss"
	}
	if c.ML.ArtifactDir == "" {
		c.ML.ArtifactDir = "artifacts"
	}
	if c.ML.ModelFile == "" {
		c.ML.ModelFile = "random_forest_model.json"
	}
	if c.ML.MetadataFile == "" {
		c.ML.MetadataFile = "model_metadata.json"
	}
	if c.ML.NEstimators == 0 {
		c.ML.NEstimators = 50
	}
	if c.ML.TopK == 0 {
		c.ML.TopK = 10
	}
	if c.ML.MissingFeatures == "" {
		c.ML.MissingFeatures = "zero"
	}
	if c.ML.KeepVersions == 0 {
		c.ML.KeepVersions = 3
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "data/snapshot"
	}
	if c.Snapshot.CacheTTL == 0 {
		c.Snapshot.CacheTTL = 30 * time.Second
	}
	if c.Snapshot.CacheSize == 0 {
		c.Snapshot.CacheSize = 64
	}
}

// Load decodes the YAML file at path. When path is the default name and
// does not exist, the parent directory is tried so commands run from cmd/
// still find the repository config. A missing file yields defaults.
func Load(path string) (*Config, error) {
	resolved, err := resolve(path)
	if err != nil {
		return nil, err
	}
	cfg := preset()
	if resolved != "" {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", resolved, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func resolve(path string) (string, error) {
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if filepath.Base(path) == path {
		parent := filepath.Join("..", path)
		if _, err := os.Stat(parent); err == nil {
			return parent, nil
		}
		return "", nil
	}
	return "", fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
}
