// Package execctx carries the execution context every pipeline component is
// constructed with: compute device, logger and configuration.
package execctx

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"corpusidx/internal/config"
	"corpusidx/internal/logging"
)

type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// Env is passed explicitly to constructors instead of living in globals.
type Env struct {
	Device Device
	Logger *logging.Logger
	Config *config.Config
}

// detectCUDA is swapped out in tests.
var detectCUDA = func() bool {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) != ""
}

// New resolves the device named in cfg.General.Device ("auto" probes for a
// CUDA GPU) and bundles it with logger and cfg.
func New(cfg *config.Config, logger *logging.Logger) (*Env, error) {
	if cfg == nil {
		return nil, fmt.Errorf("execctx: nil config")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	var device Device
	switch cfg.General.Device {
	case "cpu":
		device = CPU
	case "cuda":
		if !detectCUDA() {
			return nil, fmt.Errorf("%w: cuda requested but no GPU was detected", config.ErrInvalid)
		}
		device = CUDA
	case "", "auto":
		device = CPU
		if detectCUDA() {
			device = CUDA
		}
	default:
		return nil, fmt.Errorf("%w: unknown device %q", config.ErrInvalid, cfg.General.Device)
	}

	logger.Debug("Execution device: %s", device)
	return &Env{Device: device, Logger: logger, Config: cfg}, nil
}

// ForCPU builds an Env pinned to the CPU, for tests and tooling.
func ForCPU(cfg *config.Config, logger *logging.Logger) *Env {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Env{Device: CPU, Logger: logger, Config: cfg}
}

// MemoryUsage describes process and host memory at one instant.
type MemoryUsage struct {
	ProcessRSS  uint64
	HostUsedPct float64
}

func (m MemoryUsage) String() string {
	return fmt.Sprintf("rss=%.1fMiB host=%.1f%%", float64(m.ProcessRSS)/(1<<20), m.HostUsedPct)
}

// ReadMemoryUsage samples memory; fields it cannot read stay zero.
func ReadMemoryUsage() MemoryUsage {
	var usage MemoryUsage
	if vm, err := mem.VirtualMemory(); err == nil {
		usage.HostUsedPct = vm.UsedPercent
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			usage.ProcessRSS = info.RSS
		}
	}
	return usage
}

// LogMemory writes a debug line with the current memory usage.
func (e *Env) LogMemory(label string) {
	if !e.Logger.Enabled(logging.DEBUG) {
		return
	}
	e.Logger.Debug("%s: %s", label, ReadMemoryUsage())
}
