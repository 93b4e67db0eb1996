package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/codekansas/ml-template/internal/checkpoint"
	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/experiment"
	"github.com/codekansas/ml-template/internal/launch"
	"github.com/codekansas/ml-template/internal/metrics"
	"github.com/codekansas/ml-template/internal/state"
	"github.com/codekansas/ml-template/internal/tracking"
)

// Component is any stateful collaborator whose state rides in the
// checkpoint bundle.
type Component interface {
	StateDict() map[string]any
	LoadStateDict(dict map[string]any) error
}

// Task drives the per-step computation. The loop owns all counter and
// phase bookkeeping; the task only computes.
type Task interface {
	Component
	TrainStep(st *state.State) (loss float64, batchSize int, err error)
	EvalStep(st *state.State) (loss float64, err error)
}

// Loop runs the train/valid/test cycle for one worker. Checkpoint and
// config writes happen only on the primary worker; all other ranks treat
// the run directory as read-only.
type Loop struct {
	Worker   launch.Context
	ExpDir   string
	Config   config.Tree
	Settings *config.Settings

	Task    Task
	Model   Component
	Optim   Component
	LRSched Component

	Ckpt     *checkpoint.Manager
	Recorder *tracking.Recorder
	Logger   *log.Logger

	// ShutdownHooks run once, at the step boundary where a shutdown
	// request is observed.
	ShutdownHooks []func()
}

func (l *Loop) Run(ctx context.Context) error {
	maxSteps := l.Config.GetInt("train.max_steps", 100)
	stepsPerEpoch := l.Config.GetInt("train.steps_per_epoch", 0)
	logEvery := l.Config.GetInt("train.log_every_n_steps", 50)
	validEvery := l.Config.GetInt("validation.valid_every_n_steps", 100)
	numInitValid := l.Config.GetInt("validation.num_init_valid_steps", 2)
	numTestSteps := l.Config.GetInt("test.num_steps", 1)

	st, err := l.restore()
	if err != nil {
		return err
	}

	if l.Worker.Primary() {
		if err := experiment.Acquire(l.ExpDir, experiment.LockRunning, true); err != nil {
			return err
		}
		defer func() {
			if _, err := experiment.Release(l.ExpDir, experiment.LockRunning, true); err != nil {
				l.Logger.Printf("WARNING: failed to release running lock: %v", err)
			}
		}()
	}

	l.Recorder.Params(ctx, l.Config.Flatten())

	// Initial validation steps sanity-check the eval path before any
	// training happens.
	if st.NumSteps == 0 {
		for i := int64(0); i < numInitValid; i++ {
			if err := l.validStep(ctx, st); err != nil {
				return err
			}
		}
	}

	var window metrics.Window
	for st.NumSteps < maxSteps {
		// Cancellation takes effect at step boundaries only.
		if err := ctx.Err(); err != nil {
			l.Logger.Printf("Shutdown requested, stopping at step %d", st.NumSteps)
			l.runShutdownHooks()
			return err
		}

		st.Phase = state.PhaseTrain
		start := time.Now()
		loss, batchSize, err := l.Task.TrainStep(st)
		if err != nil {
			return fmt.Errorf("train step %d failed: %w", st.NumSteps, err)
		}
		st.NumSteps++
		st.NumSamples += int64(batchSize)
		if stepsPerEpoch > 0 && st.NumSteps%stepsPerEpoch == 0 {
			st.NumEpochs++
		}
		window.Record(batchSize, time.Since(start), loss)

		if logEvery > 0 && st.NumSteps%logEvery == 0 {
			snap := window.Snapshot()
			l.Logger.Printf("step=%d samples_per_sec=%.1f step_ms=%.2f loss=%.4f",
				st.NumSteps, snap.SamplesPerSec, snap.AvgStepMS, snap.LastLoss)
			now := time.Now()
			l.Recorder.Metrics(ctx, []tracking.Metric{
				{Key: "train/loss", Value: snap.AvgLoss, Timestamp: now, Step: st.NumSteps},
				{Key: "train/samples_per_sec", Value: snap.SamplesPerSec, Timestamp: now, Step: st.NumSteps},
			})
		}

		if validEvery > 0 && st.NumSteps%validEvery == 0 {
			if err := l.validStep(ctx, st); err != nil {
				return err
			}
		}

		if l.shouldCheckpoint(st) {
			if err := l.saveCheckpoint(st); err != nil {
				return err
			}
		}
	}

	st.Phase = state.PhaseTest
	for i := int64(0); i < numTestSteps; i++ {
		loss, err := l.Task.EvalStep(st)
		if err != nil {
			return fmt.Errorf("test step failed: %w", err)
		}
		st.NumTestSteps++
		l.Logger.Printf("test step=%d loss=%.4f", st.NumTestSteps, loss)
		l.Recorder.Metric(ctx, "test/loss", loss, st.NumTestSteps)
	}
	st.Phase = state.PhaseTrain

	if l.Worker.Primary() {
		if err := l.saveCheckpoint(st); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) validStep(ctx context.Context, st *state.State) error {
	st.Phase = state.PhaseValid
	loss, err := l.Task.EvalStep(st)
	if err != nil {
		return fmt.Errorf("valid step failed: %w", err)
	}
	st.NumValidSteps++
	l.Logger.Printf("valid step=%d loss=%.4f", st.NumValidSteps, loss)
	l.Recorder.Metric(ctx, "valid/loss", loss, st.NumValidSteps)
	st.Phase = state.PhaseTrain
	return nil
}

func (l *Loop) shouldCheckpoint(st *state.State) bool {
	if !l.Worker.Primary() {
		return false
	}
	saveEvery := l.Settings.SaveEveryNSteps
	return saveEvery > 0 && st.NumSteps%saveEvery == 0
}

// restore loads the latest checkpoint when one exists, handing each
// component its persisted state back.
func (l *Loop) restore() (*state.State, error) {
	if !l.Ckpt.HasCheckpoint() {
		return state.Init(), nil
	}
	path := l.Ckpt.LatestPath()
	l.Logger.Printf("Resuming from checkpoint %s", path)
	bundle, err := l.Ckpt.Load(path)
	if err != nil {
		if errors.Is(err, checkpoint.ErrCheckpointCorrupt) {
			return nil, fmt.Errorf("cannot resume: %w", err)
		}
		return nil, err
	}
	for _, restore := range []struct {
		component Component
		dict      map[string]any
	}{
		{l.Model, bundle.Model},
		{l.Task, bundle.Task},
		{l.Optim, bundle.Optim},
		{l.LRSched, bundle.LRSched},
	} {
		if err := restore.component.LoadStateDict(restore.dict); err != nil {
			return nil, fmt.Errorf("failed to restore component state: %w", err)
		}
	}
	if bundle.State == nil {
		return nil, fmt.Errorf("%w: missing run state", checkpoint.ErrCheckpointCorrupt)
	}
	return bundle.State, nil
}

func (l *Loop) saveCheckpoint(st *state.State) error {
	stCopy := *st
	return l.Ckpt.Save(&checkpoint.Bundle{
		Model:   l.Model.StateDict(),
		Task:    l.Task.StateDict(),
		Optim:   l.Optim.StateDict(),
		LRSched: l.LRSched.StateDict(),
		State:   &stCopy,
	}, st)
}

func (l *Loop) runShutdownHooks() {
	for _, hook := range l.ShutdownHooks {
		hook()
	}
}

// RequeueHook resubmits the current Slurm job on shutdown when running
// under the scheduler, so preempted jobs resume from their checkpoint.
func RequeueHook(worker launch.Context, logger *log.Logger, run launch.CommandRunner) func() {
	if run == nil {
		run = func(name string, args ...string) (string, error) {
			out, err := exec.Command(name, args...).CombinedOutput()
			return string(out), err
		}
	}
	return func() {
		if !worker.Primary() {
			return
		}
		jobID := os.Getenv("SLURM_JOB_ID")
		if jobID == "" {
			logger.Printf("SLURM_JOB_ID environment variable not found; not requeueing")
			return
		}
		logger.Printf("Requeueing Slurm job %s", jobID)
		if out, err := run("scontrol", "requeue", jobID); err != nil {
			logger.Printf("WARNING: failed to requeue job %s: %v: %s", jobID, err, out)
		}
	}
}
