package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that cannot drive the pipeline.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "CORPUSIDX_"

// DatasetKinds lists the recognized dataset splits.
var DatasetKinds = []string{"train", "val", "test"}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a JSON or YAML file (chosen by extension), applies defaults,
// then environment overrides. A .env next to the config file or in the
// project root is loaded first and never overrides variables already set.
func Load(path string) (*Config, error) {
	if err := loadEnv(path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
			cfg.DataDir = filepath.Join(filepath.Dir(path), cfg.DataDir)
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnv(path string) error {
	candidates := []string{}
	if path != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(path), ".env"))
	}
	candidates = append(candidates, filepath.Join(findProjectRoot(), ".env"))
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			if err := godotenv.Load(c); err != nil {
				return fmt.Errorf("failed to load %s: %w", c, err)
			}
			return nil
		}
	}
	return nil
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for dir := cwd; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.General.Device == "" {
		cfg.General.Device = "auto"
	}
	p := &cfg.Preprocessing
	if p.Window <= 0 {
		p.Window = 700
	}
	if p.Encoder == "" {
		p.Encoder = "vocab"
	}
	if p.TiktokenEncoding == "" {
		p.TiktokenEncoding = "cl100k_base"
	}
	if p.Splits == nil {
		p.Splits = map[string]SplitConfig{}
	}
	for _, kind := range DatasetKinds {
		s := p.Splits[kind]
		if s.VnFilename == "" {
			s.VnFilename = kind + ".vi"
		}
		if s.EnFilename == "" {
			s.EnFilename = kind + ".en"
		}
		if s.FilenameToSave == "" {
			s.FilenameToSave = kind + "_indices.npy"
		}
		if s.FilenameToSaveNoise == "" {
			s.FilenameToSaveNoise = kind + "_noise.npy"
		}
		p.Splits[kind] = s
	}
	if cfg.Storage.Format == "" {
		cfg.Storage.Format = "npy"
	}
	t := &cfg.Train
	if t.Model == "" {
		t.Model = "attention"
	}
	if t.Epoch <= 0 {
		t.Epoch = 10
	}
	if t.EpochTest <= 0 {
		t.EpochTest = 2
	}
	if t.BatchPrint <= 0 {
		t.BatchPrint = 100
	}
	if t.ModelSaveDir == "" {
		t.ModelSaveDir = "model_save"
	}
	if t.ScoreMargin == nil {
		margin := DefaultScoreMargin
		t.ScoreMargin = &margin
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envPrefix + "DEVICE"); v != "" {
		cfg.General.Device = v
	}
	if v := os.Getenv(envPrefix + "TEST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.General.Test = b
		}
	}
	if v := os.Getenv(envPrefix + "STORAGE_FORMAT"); v != "" {
		cfg.Storage.Format = v
	}
	if v := os.Getenv(envPrefix + "WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Preprocessing.Window = n
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate checks the fields every pipeline stage depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Preprocessing.VnMaxIndices <= 0 {
		problems = append(problems, "preprocessing.vn_max_indices must be > 0")
	}
	if c.Preprocessing.EnMaxIndices <= 0 {
		problems = append(problems, "preprocessing.en_max_indices must be > 0")
	}
	switch c.Preprocessing.Encoder {
	case "vocab", "tiktoken":
	default:
		problems = append(problems, fmt.Sprintf("preprocessing.encoder %q is not one of vocab, tiktoken", c.Preprocessing.Encoder))
	}
	switch c.Storage.Format {
	case "npy", "arrow":
	default:
		problems = append(problems, fmt.Sprintf("storage.format %q is not one of npy, arrow", c.Storage.Format))
	}
	switch c.General.Device {
	case "auto", "cpu", "cuda":
	default:
		problems = append(problems, fmt.Sprintf("general.device %q is not one of auto, cpu, cuda", c.General.Device))
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// IsDatasetKind reports whether kind names a known split.
func IsDatasetKind(kind string) bool {
	for _, k := range DatasetKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Split returns the file names configured for kind.
func (c *Config) Split(kind string) (SplitConfig, bool) {
	if !IsDatasetKind(kind) {
		return SplitConfig{}, false
	}
	s, ok := c.Preprocessing.Splits[kind]
	return s, ok
}

// Resolve joins name onto DataDir unless it is already absolute.
func (c *Config) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// RowWidth is the length of one concatenated source+target row.
func (c *Config) RowWidth() int {
	return c.Preprocessing.VnMaxIndices + c.Preprocessing.EnMaxIndices
}
