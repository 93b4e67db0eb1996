package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Databricks domain suffixes for URL detection
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

// Settings holds process-level coordinator configuration, resolved from
// flags, environment variables, and defaults via viper. The per-run config
// tree (Tree) is separate: Settings decide where and how runs execute,
// the Tree decides what a run computes.
type Settings struct {
	RunDir   string
	StageDir string
	ExpName  string

	MasterAddr  string
	MasterPort  int
	DeviceCount int

	// Checkpoint policy
	SaveEveryNSteps    int64
	OnlySaveMostRecent bool

	// Slurm submission
	Partition   string
	TimeLimit   string
	NumNodes    int
	GPUsPerNode int
	CPUsPerGPU  int
	GPUType     string
	NumJobs     int
	Comment     string

	// Optional tracking mirror
	TrackingURI     string
	TrackingExpID   string
	DatabricksHost  string
	DatabricksToken string
}

func New() *Settings {
	return &Settings{
		RunDir:   viper.GetString("run_dir"),
		StageDir: viper.GetString("stage_dir"),
		ExpName:  viper.GetString("exp_name"),

		MasterAddr:  viper.GetString("master_addr"),
		MasterPort:  viper.GetInt("master_port"),
		DeviceCount: viper.GetInt("device_count"),

		SaveEveryNSteps:    viper.GetInt64("save_every_n_steps"),
		OnlySaveMostRecent: viper.GetBool("only_save_most_recent"),

		Partition:   viper.GetString("partition"),
		TimeLimit:   viper.GetString("time_limit"),
		NumNodes:    viper.GetInt("num_nodes"),
		GPUsPerNode: viper.GetInt("gpus_per_node"),
		CPUsPerGPU:  viper.GetInt("cpus_per_gpu"),
		GPUType:     viper.GetString("gpu_type"),
		NumJobs:     viper.GetInt("num_jobs"),
		Comment:     viper.GetString("comment"),

		TrackingURI:     viper.GetString("tracking_uri"),
		TrackingExpID:   viper.GetString("tracking_experiment_id"),
		DatabricksHost:  viper.GetString("databricks_host"),
		DatabricksToken: viper.GetString("databricks_token"),
	}
}

// Environ renders the resolved settings as environment variable entries.
// Spawned workers rebuild their settings from the environment, so values the
// parent received through flags must be handed over explicitly.
func (s *Settings) Environ() []string {
	env := []string{
		fmt.Sprintf("ML_SAVE_EVERY_N_STEPS=%d", s.SaveEveryNSteps),
		fmt.Sprintf("ML_ONLY_SAVE_MOST_RECENT=%t", s.OnlySaveMostRecent),
	}
	for _, pair := range []struct{ key, value string }{
		{"ML_RUN_DIR", s.RunDir},
		{"ML_EXP_NAME", s.ExpName},
		{"ML_STAGE_DIR", s.StageDir},
		{"ML_TRACKING_URI", s.TrackingURI},
		{"ML_TRACKING_EXPERIMENT_ID", s.TrackingExpID},
		{"DATABRICKS_HOST", s.DatabricksHost},
		{"DATABRICKS_TOKEN", s.DatabricksToken},
	} {
		if pair.value != "" {
			env = append(env, pair.key+"="+pair.value)
		}
	}
	return env
}

func (s *Settings) Validate() error {
	if s.RunDir == "" {
		return fmt.Errorf("run directory is required (set --run-dir or ML_RUN_DIR)")
	}
	if s.ExpName == "" {
		return fmt.Errorf("experiment name is required (set --exp-name or ML_EXP_NAME)")
	}
	return nil
}

// TrackingEnabled reports whether runs should be mirrored to an MLflow
// tracking server.
func (s *Settings) TrackingEnabled() bool {
	return s.TrackingURI != ""
}

// IsDatabricks checks if the tracking URI points to Databricks
func (s *Settings) IsDatabricks() bool {
	if s.TrackingURI == "databricks" {
		return true
	}

	if strings.HasPrefix(s.TrackingURI, "databricks://") {
		return true
	}

	if strings.HasPrefix(s.TrackingURI, "https://") {
		host := extractHostFromURL(s.TrackingURI)
		return isDatabricksHost(host)
	}

	return false
}

func extractHostFromURL(url string) string {
	host := strings.TrimPrefix(url, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func isDatabricksHost(host string) bool {
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// DatabricksProfile extracts the profile name from databricks://{profile} URI
func (s *Settings) DatabricksProfile() string {
	if !strings.HasPrefix(s.TrackingURI, "databricks://") {
		return ""
	}

	profile := strings.TrimPrefix(s.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}
