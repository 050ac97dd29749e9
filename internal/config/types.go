package config

import "corpusidx/internal/logging"

type Config struct {
	DataDir       string                `json:"data_dir" yaml:"data_dir"`
	General       GeneralConfig         `json:"general" yaml:"general"`
	Preprocessing PreprocessingConfig   `json:"preprocessing" yaml:"preprocessing"`
	Storage       StorageConfig         `json:"storage" yaml:"storage"`
	Train         TrainConfig           `json:"train" yaml:"train"`
	Server        ServerConfig          `json:"server" yaml:"server"`
	Logging       logging.LoggingConfig `json:"logging" yaml:"logging"`
}

type GeneralConfig struct {
	// Test shortens training to EpochTest epochs.
	Test bool `json:"test" yaml:"test"`
	// Device is "auto", "cpu" or "cuda".
	Device string `json:"device" yaml:"device"`
}

type PreprocessingConfig struct {
	VnMaxIndices     int    `json:"vn_max_indices" yaml:"vn_max_indices"`
	EnMaxIndices     int    `json:"en_max_indices" yaml:"en_max_indices"`
	Window           int    `json:"window" yaml:"window"`
	VnVocab          string `json:"vn_vocab" yaml:"vn_vocab"`
	EnVocab          string `json:"en_vocab" yaml:"en_vocab"`
	Encoder          string `json:"encoder" yaml:"encoder"`
	TiktokenEncoding string `json:"tiktoken_encoding" yaml:"tiktoken_encoding"`

	Splits map[string]SplitConfig `json:"splits" yaml:"splits"`
}

// SplitConfig names the inputs and outputs of one dataset split.
type SplitConfig struct {
	VnFilename          string `json:"vn_filename" yaml:"vn_filename"`
	EnFilename          string `json:"en_filename" yaml:"en_filename"`
	FilenameToSave      string `json:"filename_to_save" yaml:"filename_to_save"`
	FilenameToSaveNoise string `json:"filename_to_save_noise" yaml:"filename_to_save_noise"`
}

type StorageConfig struct {
	// Format is "npy" (append in place) or "arrow" (rewrite per flush).
	Format string `json:"format" yaml:"format"`
	// DisableManifest skips the commit manifest that guards resume.
	DisableManifest bool `json:"disable_manifest" yaml:"disable_manifest"`
}

type TrainConfig struct {
	Model        string `json:"model" yaml:"model"`
	Epoch        int    `json:"epoch" yaml:"epoch"`
	EpochTest    int    `json:"epoch_test" yaml:"epoch_test"`
	BatchPrint   int    `json:"batch_print" yaml:"batch_print"`
	ModelSaveDir string `json:"model_save_dir" yaml:"model_save_dir"`
	RunName      string `json:"run_name" yaml:"run_name"`

	// ScoreMargin is unset when nil; 0 is a valid margin.
	ScoreMargin *float64 `json:"score_margin" yaml:"score_margin"`
}

// DefaultScoreMargin is the f1 margin used when train.score_margin is unset.
const DefaultScoreMargin = -0.05

// Margin returns the configured score margin or DefaultScoreMargin.
func (t TrainConfig) Margin() float64 {
	if t.ScoreMargin == nil {
		return DefaultScoreMargin
	}
	return *t.ScoreMargin
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}
