package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/experiment"
	"github.com/codekansas/ml-template/internal/launch"
	"github.com/codekansas/ml-template/internal/logging"
	"github.com/codekansas/ml-template/internal/stage"
	"github.com/codekansas/ml-template/internal/trainer"
)

var slurmCmd = &cobra.Command{
	Use:   "slurm",
	Short: "Submit a training run to the Slurm scheduler",
	Long: `Stage the working tree and config to an immutable directory, generate an
sbatch script, and submit it. Multiple redundant jobs are chained through
scheduler dependencies.`,
	RunE: runSlurm,
}

var slurmWorkerCmd = &cobra.Command{
	Use:    "slurm-worker",
	Short:  "Internal entry point for Slurm-scheduled workers",
	Hidden: true,
	RunE:   runSlurmWorker,
}

func init() {
	rootCmd.AddCommand(slurmCmd)
	rootCmd.AddCommand(slurmWorkerCmd)
	addConfigFlags(slurmCmd)
	slurmWorkerCmd.Flags().String("exp-dir", "", "Experiment directory (required)")
	slurmWorkerCmd.Flags().String("config", "", "Path to the staged run config (required)")
	slurmWorkerCmd.MarkFlagRequired("exp-dir")
	slurmWorkerCmd.MarkFlagRequired("config")
}

func runSlurm(cmd *cobra.Command, args []string) error {
	setup, err := setupRun(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(0, 1)

	// Freeze the codebase and config before submission so resubmission is
	// reproducible even if the working tree changes afterwards.
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	stageDir, err := stage.Stage(workDir, setup.settings.StageDir)
	if err != nil {
		return err
	}
	logger.Printf("Staged environment to %s", stageDir)
	if _, err := stage.StageConfig(stageDir, setup.cfg); err != nil {
		return err
	}

	// The submitted job reads the config persisted in the run directory.
	if err := config.SaveConfig(setup.expDir, setup.cfg, logger); err != nil {
		return err
	}

	masterPort := setup.settings.MasterPort
	if masterPort == 0 {
		if masterPort, err = launch.UnusedPort(); err != nil {
			return err
		}
	}

	strategy := &launch.Slurm{
		JobName:     setup.settings.ExpName,
		Partition:   setup.settings.Partition,
		TimeLimit:   setup.settings.TimeLimit,
		NumNodes:    setup.settings.NumNodes,
		GPUsPerNode: setup.settings.GPUsPerNode,
		CPUsPerGPU:  setup.settings.CPUsPerGPU,
		GPUType:     setup.settings.GPUType,
		NumJobs:     setup.settings.NumJobs,
		Comment:     setup.settings.Comment,
		MasterPort:  masterPort,
		ExpDir:      setup.expDir,
		StageDir:    stageDir,
		ConfigPath:  filepath.Join(setup.expDir, config.ConfigFileName),
		Logger:      logger,
	}
	return strategy.Launch(cmd.Context())
}

func runSlurmWorker(cmd *cobra.Command, args []string) error {
	expDir, _ := cmd.Flags().GetString("exp-dir")
	configPath, _ := cmd.Flags().GetString("config")

	// Rank and world size come from the scheduler's own environment, not
	// from this process's launch parameters.
	wctx, err := launch.ContextFromSlurm(os.Getenv, launch.FirstHostname)
	if err != nil {
		return err
	}
	logger := logging.New(wctx.Rank, wctx.WorldSize)

	cfg, err := config.ReadTree(configPath)
	if err != nil {
		return err
	}

	if wctx.Primary() {
		if err := experiment.Acquire(expDir, experiment.LockRunning, true); err != nil {
			return err
		}
		if _, err := experiment.Release(expDir, experiment.LockScheduled, true); err != nil {
			return err
		}
	}

	// SIGUSR1 arrives 90 seconds before Slurm preempts the job; the
	// shutdown hook requeues so training resumes from the checkpoint.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer stop()

	hooks := []func(){trainer.RequeueHook(wctx, logger, nil)}
	return runTraining(ctx, wctx, config.New(), cfg, expDir, hooks)
}
