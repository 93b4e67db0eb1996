package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Experiment run coordinator",
	Long: `A command line tool for coordinating ML training runs.
Resolves run directories, manages advisory lock files and checkpoints, and
launches single-process, multiprocess, or Slurm-scheduled training.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("run-dir", "", "Base directory for all runs (overrides ML_RUN_DIR)")
	rootCmd.PersistentFlags().String("exp-name", "", "Experiment name (overrides ML_EXP_NAME)")
	rootCmd.PersistentFlags().String("stage-dir", "", "Directory for staged code copies (overrides ML_STAGE_DIR)")
	rootCmd.PersistentFlags().String("tracking-uri", "", "Optional MLflow tracking URI (overrides ML_TRACKING_URI)")
	viper.BindPFlag("run_dir", rootCmd.PersistentFlags().Lookup("run-dir"))
	viper.BindPFlag("exp_name", rootCmd.PersistentFlags().Lookup("exp-name"))
	viper.BindPFlag("stage_dir", rootCmd.PersistentFlags().Lookup("stage-dir"))
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
}

func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("ML")
	viper.AutomaticEnv()

	// Also bind Databricks environment variables for the tracking mirror
	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")
	viper.BindEnv("partition", "SLURM_PARTITION")
	viper.BindEnv("time_limit", "SLURM_TIME_LIMIT")

	// Set defaults
	viper.SetDefault("master_addr", "localhost")
	viper.SetDefault("time_limit", "3-00:00:00")
	viper.SetDefault("num_nodes", 1)
	viper.SetDefault("gpus_per_node", 8)
	viper.SetDefault("cpus_per_gpu", 1)
	viper.SetDefault("num_jobs", 1)
	viper.SetDefault("save_every_n_steps", 0)
	viper.SetDefault("only_save_most_recent", false)
}
