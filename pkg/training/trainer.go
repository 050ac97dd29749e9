// Package training runs the epoch loop of a classifier and keeps its best
// checkpoint, resuming after the last saved epoch.
package training

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"corpusidx/internal/execctx"
)

// EpochRunner performs the actual optimization and evaluation of a model.
type EpochRunner interface {
	TrainEpoch(ctx context.Context, epoch int) (Phase, error)
	Validate(ctx context.Context, epoch int) (Phase, error)
}

// Summary describes a finished Run.
type Summary struct {
	RunName   string   `json:"run_name"`
	Dir       string   `json:"dir"`
	Resumed   int      `json:"resumed_from"`
	LastEpoch int      `json:"last_epoch"`
	Saved     []int    `json:"saved_epochs"`
	History   *History `json:"history"`
}

type Trainer struct {
	env       *execctx.Env
	runner    EpochRunner
	model     Stateful
	optimizer Stateful
	now       func() time.Time
}

func NewTrainer(env *execctx.Env, runner EpochRunner, model, optimizer Stateful) *Trainer {
	return &Trainer{env: env, runner: runner, model: model, optimizer: optimizer, now: time.Now}
}

// RunName returns the configured run name or <model>_<YYYYMMDD-HHMMSS>.
func (t *Trainer) RunName() string {
	tc := t.env.Config.Train
	if tc.RunName != "" {
		return tc.RunName
	}
	return fmt.Sprintf("%s_%s", tc.Model, t.now().Format("20060102-150405"))
}

// RunDir is <model_save_dir>/<model>/<run>.
func RunDir(env *execctx.Env, run string) string {
	tc := env.Config.Train
	return filepath.Join(env.Config.Resolve(tc.ModelSaveDir), tc.Model, run)
}

// Run trains for the configured number of epochs, skipping every epoch up
// to the last saved one.
func (t *Trainer) Run(ctx context.Context) (*Summary, error) {
	cfg := t.env.Config
	log := t.env.Logger

	numEpochs := cfg.Train.Epoch
	if cfg.General.Test {
		numEpochs = cfg.Train.EpochTest
	}
	margin := cfg.Train.Margin()

	run := t.RunName()
	mgr := NewManager(RunDir(t.env, run), margin, log)

	curEpoch, h, err := mgr.TryResume(t.model, t.optimizer)
	if err != nil {
		return nil, err
	}
	sum := &Summary{RunName: run, Dir: mgr.Dir(), Resumed: curEpoch, LastEpoch: curEpoch, History: h}
	log.Info("Training %s on %s for %d epochs (run %s)", cfg.Train.Model, t.env.Device, numEpochs, run)

	for epoch := 0; epoch < numEpochs; epoch++ {
		if epoch <= curEpoch {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		log.Info("----------------------------------------")
		train, err := t.runner.TrainEpoch(ctx, epoch)
		if err != nil {
			return sum, fmt.Errorf("epoch %d training failed: %w", epoch, err)
		}
		val, err := t.runner.Validate(ctx, epoch)
		if err != nil {
			return sum, fmt.Errorf("epoch %d validation failed: %w", epoch, err)
		}
		h.Append(train, val)

		saved, err := mgr.MaybeSave(epoch, t.model, t.optimizer, h)
		if err != nil {
			return sum, err
		}
		if saved {
			sum.Saved = append(sum.Saved, epoch)
		}
		sum.LastEpoch = epoch

		log.Info("Epoch %d:", epoch+1)
		log.Info("Train accuracy: %.4f%% loss: %.4f scores: %v", train.Accuracy, train.Loss, train.Scores)
		log.Info("Val accuracy: %.4f%% loss: %.4f scores: %v", val.Accuracy, val.Loss, val.Scores)
		t.env.LogMemory(fmt.Sprintf("epoch %d", epoch+1))
	}
	return sum, nil
}
