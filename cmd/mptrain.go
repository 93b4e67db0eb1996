package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/launch"
	"github.com/codekansas/ml-template/internal/logging"
)

var mpTrainCmd = &cobra.Command{
	Use:   "mp-train",
	Short: "Launch one training worker per local device",
	Long: `Spawn an independent worker process per available device, each with an
isolated device view, coordinated through rank/world-size environment
variables. The parent blocks until all workers exit.`,
	RunE: runMPTrain,
}

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Internal entry point for spawned training workers",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(mpTrainCmd)
	rootCmd.AddCommand(workerCmd)
	addConfigFlags(mpTrainCmd)
	mpTrainCmd.Flags().Int("world-size", 0, "Number of workers (default: detected device count)")
	workerCmd.Flags().String("exp-dir", "", "Experiment directory (required)")
	workerCmd.MarkFlagRequired("exp-dir")
}

func runMPTrain(cmd *cobra.Command, args []string) error {
	setup, err := setupRun(cmd)
	if err != nil {
		return err
	}

	worldSize, _ := cmd.Flags().GetInt("world-size")
	if worldSize <= 0 {
		worldSize = launch.DeviceCount()
	}
	masterPort := setup.settings.MasterPort
	if masterPort == 0 {
		if masterPort, err = launch.UnusedPort(); err != nil {
			return err
		}
	}

	logger := logging.New(0, 1)

	// Workers read the persisted config rather than re-merging flags, so
	// the parent resolves and saves it up front.
	if err := config.SaveConfig(setup.expDir, setup.cfg, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strategy := &launch.Multiprocess{
		WorldSize:  worldSize,
		MasterAddr: setup.settings.MasterAddr,
		MasterPort: masterPort,
		WorkerArgs: []string{"worker", "--exp-dir", setup.expDir},
		ExtraEnv:   setup.settings.Environ(),
		Worker: func(ctx context.Context, wctx launch.Context) error {
			return runTraining(ctx, wctx, setup.settings, setup.cfg, setup.expDir, nil)
		},
		Logger: logger,
	}
	return strategy.Launch(ctx)
}

func runWorker(cmd *cobra.Command, args []string) error {
	expDir, _ := cmd.Flags().GetString("exp-dir")

	wctx, err := launch.FromEnv()
	if err != nil {
		return err
	}
	cfg, err := loadRunConfig(expDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runTraining(ctx, wctx, config.New(), cfg, expDir, nil)
}
