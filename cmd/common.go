package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codekansas/ml-template/internal/checkpoint"
	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/experiment"
	"github.com/codekansas/ml-template/internal/launch"
	"github.com/codekansas/ml-template/internal/logging"
	"github.com/codekansas/ml-template/internal/tracking"
	"github.com/codekansas/ml-template/internal/trainer"
)

// addConfigFlags registers the run-config flags shared by every launching
// command.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("config", []string{}, "Run config YAML file (repeatable, later files override)")
	cmd.Flags().StringArray("set", []string{}, "Dotlist config override in key.path=value format")
	cmd.Flags().Int("run-id", -1, "Run ID to reuse (default: first unclaimed)")
}

// runSetup is the resolved launch target for one command invocation.
type runSetup struct {
	settings *config.Settings
	cfg      config.Tree
	expDir   string
	runID    int
}

// setupRun resolves settings, the merged run config, and the experiment
// directory for a launching command.
func setupRun(cmd *cobra.Command) (*runSetup, error) {
	settings := config.New()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	paths, _ := cmd.Flags().GetStringArray("config")
	overrides, _ := cmd.Flags().GetStringArray("set")
	cfg, err := config.LoadTree(paths, overrides)
	if err != nil {
		return nil, err
	}

	runID, _ := cmd.Flags().GetInt("run-id")
	if runID < 0 {
		runID, err = experiment.ResolveRunID(settings.RunDir, settings.ExpName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve run ID: %w", err)
		}
	}
	expDir, err := experiment.RunDir(settings.RunDir, settings.ExpName, runID)
	if err != nil {
		return nil, err
	}

	return &runSetup{settings: settings, cfg: cfg, expDir: expDir, runID: runID}, nil
}

// runTraining is the train loop entry point shared by every launch
// strategy. The worker context is threaded explicitly; only the primary
// worker performs side-effecting writes against the run directory.
func runTraining(ctx context.Context, wctx launch.Context, settings *config.Settings, cfg config.Tree, expDir string, hooks []func()) error {
	logger := logging.New(wctx.Rank, wctx.WorldSize)
	logger.Printf("Experiment directory: %s", expDir)

	if wctx.Primary() {
		if err := config.SaveConfig(expDir, cfg, logger); err != nil {
			return err
		}
	}

	var recorder *tracking.Recorder
	if wctx.Primary() {
		recorder = tracking.NewRecorder(ctx, settings, logger, expDir, wctx.WorldSize)
	}

	ckpt := &checkpoint.Manager{
		Dir:                expDir,
		OnlySaveMostRecent: settings.OnlySaveMostRecent,
		Logger:             logger,
		AfterSave: func(path string) {
			recorder.Checkpoint(ctx, path)
		},
	}

	seed := cfg.GetInt("task.seed", 1337)
	model := trainer.NewLinearModel(seed)
	sched := trainer.NewStepLR(cfg)
	optim := &trainer.SGD{Sched: sched}
	task := trainer.NewRegressionTask(cfg, model, optim, seed+int64(wctx.Rank))

	loop := &trainer.Loop{
		Worker:        wctx,
		ExpDir:        expDir,
		Config:        cfg,
		Settings:      settings,
		Task:          task,
		Model:         model,
		Optim:         optim,
		LRSched:       sched,
		Ckpt:          ckpt,
		Recorder:      recorder,
		Logger:        logger,
		ShutdownHooks: hooks,
	}

	err := loop.Run(ctx)
	switch {
	case err == nil:
		recorder.End(context.Background(), tracking.RunStatusFinished)
	case ctx.Err() != nil:
		recorder.End(context.Background(), tracking.RunStatusKilled)
	default:
		recorder.End(context.Background(), tracking.RunStatusFailed)
	}
	return err
}

// loadRunConfig reads the config previously persisted into a run directory.
func loadRunConfig(expDir string) (config.Tree, error) {
	return config.ReadTree(filepath.Join(expDir, config.ConfigFileName))
}
