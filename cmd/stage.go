package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/stage"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Stage the working tree and config to an immutable directory",
	Long:  "Copy the current codebase and resolved config under the stage directory for reproducible resubmission",
	RunE:  runStage,
}

func init() {
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().StringArray("config", []string{}, "Run config YAML file (repeatable, later files override)")
	stageCmd.Flags().StringArray("set", []string{}, "Dotlist config override in key.path=value format")
}

func runStage(cmd *cobra.Command, args []string) error {
	settings := config.New()

	paths, _ := cmd.Flags().GetStringArray("config")
	overrides, _ := cmd.Flags().GetStringArray("set")
	cfg, err := config.LoadTree(paths, overrides)
	if err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	stageDir, err := stage.Stage(workDir, settings.StageDir)
	if err != nil {
		return err
	}
	configPath, err := stage.StageConfig(stageDir, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", stageDir)
	fmt.Fprintf(os.Stderr, "Staged config to %s\n", configPath)
	return nil
}
