package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"corpusidx/internal/config"
	"corpusidx/internal/fsutil"
	"corpusidx/internal/logging"
)

const (
	ModelFile = "model.ckpt"
	StatsFile = "train_stats.json"
)

// DefaultScoreMargin is the largest f1 drop (exclusive) a save tolerates.
const DefaultScoreMargin = config.DefaultScoreMargin

// Stateful is anything whose state can be snapshotted, e.g. model
// parameters or optimizer moments.
type Stateful interface {
	StateDict() ([]byte, error)
	LoadStateDict(state []byte) error
}

type checkpoint struct {
	Epoch          int       `json:"epoch"`
	ModelState     []byte    `json:"model_state_dict"`
	OptimizerState []byte    `json:"optimizer_state_dict"`
	SavedAt        time.Time `json:"saved_at"`
}

// Manager owns the model checkpoint and stats file of one run folder.
type Manager struct {
	dir    string
	margin float64
	logger *logging.Logger
}

func NewManager(dir string, margin float64, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{dir: dir, margin: margin, logger: logger}
}

func (m *Manager) Dir() string { return m.dir }

// TryResume restores model, optimizer and history when both files exist.
// It returns the last saved epoch, or -1 with an empty history.
func (m *Manager) TryResume(model, optimizer Stateful) (int, *History, error) {
	modelPath := filepath.Join(m.dir, ModelFile)
	statsPath := filepath.Join(m.dir, StatsFile)
	if !exists(modelPath) || !exists(statsPath) {
		return -1, &History{}, nil
	}

	var ckpt checkpoint
	if err := readJSON(modelPath, &ckpt); err != nil {
		return -1, nil, err
	}
	h, err := LoadHistory(statsPath)
	if err != nil {
		return -1, nil, err
	}

	// Stats are written before the model file, so a crash in between
	// leaves stats ahead of the checkpoint by whole epochs.
	want := ckpt.Epoch + 1
	switch {
	case h.Len() < want:
		return -1, nil, fmt.Errorf("%w: checkpoint at epoch %d but stats hold %d epochs", ErrCorruptCheckpoint, ckpt.Epoch, h.Len())
	case h.Len() > want:
		m.logger.Warn("Stats hold %d epochs, checkpoint is at epoch %d; dropping the extra entries", h.Len(), ckpt.Epoch)
		h.truncate(want)
	}

	if err := model.LoadStateDict(ckpt.ModelState); err != nil {
		return -1, nil, fmt.Errorf("failed to restore model state: %w", err)
	}
	if err := optimizer.LoadStateDict(ckpt.OptimizerState); err != nil {
		return -1, nil, fmt.Errorf("failed to restore optimizer state: %w", err)
	}

	m.logger.Info("Resumed from %s at epoch %d", m.dir, ckpt.Epoch)
	return ckpt.Epoch, h, nil
}

// MaybeSave writes the checkpoint and stats when the latest epoch passes
// ShouldSave. It reports whether it saved.
func (m *Manager) MaybeSave(epoch int, model, optimizer Stateful, h *History) (bool, error) {
	if !ShouldSave(h, m.margin) {
		return false, nil
	}
	if err := h.validate(); err != nil {
		return false, err
	}
	if h.Len() != epoch+1 {
		return false, fmt.Errorf("history holds %d epochs at epoch %d", h.Len(), epoch)
	}

	modelState, err := model.StateDict()
	if err != nil {
		return false, fmt.Errorf("failed to snapshot model: %w", err)
	}
	optState, err := optimizer.StateDict()
	if err != nil {
		return false, fmt.Errorf("failed to snapshot optimizer: %w", err)
	}

	stats, err := json.Marshal(h)
	if err != nil {
		return false, fmt.Errorf("failed to marshal stats: %w", err)
	}
	ckpt, err := json.Marshal(checkpoint{
		Epoch:          epoch,
		ModelState:     modelState,
		OptimizerState: optState,
		SavedAt:        time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := fsutil.WriteFile(filepath.Join(m.dir, StatsFile), stats); err != nil {
		return false, fmt.Errorf("failed to write stats: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(m.dir, ModelFile), ckpt); err != nil {
		return false, fmt.Errorf("failed to write checkpoint: %w", err)
	}

	m.logger.Info("Saved checkpoint for epoch %d to %s", epoch, m.dir)
	return true, nil
}

// LoadHistory reads a train_stats.json file.
func LoadHistory(path string) (*History, error) {
	h := &History{}
	if err := readJSON(path, h); err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptCheckpoint, filepath.Base(path), err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
