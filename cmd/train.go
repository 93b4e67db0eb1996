package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codekansas/ml-template/internal/launch"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run training in the current process",
	Long:  "Resolve a run directory and run the train loop with a world size of one",
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	addConfigFlags(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	setup, err := setupRun(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer stop()

	strategy := &launch.SingleProcess{
		Worker: func(ctx context.Context, wctx launch.Context) error {
			return runTraining(ctx, wctx, setup.settings, setup.cfg, setup.expDir, nil)
		},
	}
	return strategy.Launch(ctx)
}
