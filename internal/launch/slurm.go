package launch

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/codekansas/ml-template/internal/experiment"
)

var sbatchTemplate = template.Must(template.New("sbatch").Parse(`#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --partition={{.Partition}}
#SBATCH --requeue
#SBATCH --signal=USR1@90
#SBATCH --time={{.TimeLimit}}
#SBATCH --comment='{{.Comment}}'
#SBATCH --nodes={{.NumNodes}}
#SBATCH --ntasks-per-node={{.TasksPerNode}}
#SBATCH --cpus-per-task={{.CPUsPerTask}}
#SBATCH --gres={{.Gres}}
#SBATCH --gpu-bind={{.GPUBind}}
#SBATCH --output={{.OutputPath}}
#SBATCH --error={{.ErrorPath}}
#SBATCH --open-mode=append
{{- range .ExtraLines}}
#SBATCH {{.}}
{{- end}}

export MASTER_PORT={{.MasterPort}}

echo "***"
echo "Job ID: ${SLURM_JOBID}"
echo "***"
echo ""

srun \
    --nodes={{.NumNodes}} \
    --ntasks-per-node={{.TasksPerNode}} \
    --cpus-per-task={{.CPUsPerTask}} \
    --gres={{.Gres}} \
    --gpu-bind={{.GPUBind}} \
    {{.Executable}} slurm-worker --exp-dir {{.ExpDir}} --config {{.ConfigPath}}

echo ""
`))

var submittedJobRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// CommandRunner executes an external scheduler command and returns its
// combined output. Injectable for tests.
type CommandRunner func(name string, args ...string) (string, error)

func execRunner(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return string(out), err
}

// Slurm generates a batch-submission script for one run and submits it to
// the cluster scheduler. Before submission the working tree and config are
// staged to an immutable directory so resubmission stays reproducible.
type Slurm struct {
	JobName     string
	Partition   string
	TimeLimit   string
	NumNodes    int
	GPUsPerNode int
	CPUsPerGPU  int
	GPUType     string
	NumJobs     int
	Comment     string
	MasterPort  int

	ExpDir     string
	StageDir   string
	ConfigPath string

	Logger *log.Logger
	Run    CommandRunner
}

type sbatchParams struct {
	JobName      string
	Partition    string
	TimeLimit    string
	Comment      string
	NumNodes     int
	TasksPerNode int
	CPUsPerTask  int
	Gres         string
	GPUBind      string
	OutputPath   string
	ErrorPath    string
	ExtraLines   []string
	MasterPort   int
	Executable   string
	ExpDir       string
	ConfigPath   string
}

func (s *Slurm) params() (*sbatchParams, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}

	gres := fmt.Sprintf("gpu:%d", s.GPUsPerNode)
	if s.GPUType != "" {
		gres = fmt.Sprintf("gpu:%s:%d", s.GPUType, s.GPUsPerNode)
	}
	deviceIDs := make([]string, s.GPUsPerNode)
	for i := range deviceIDs {
		deviceIDs[i] = strconv.Itoa(i)
	}

	var extraLines []string
	if email := os.Getenv("EMAIL"); email != "" {
		extraLines = append(extraLines, fmt.Sprintf("--mail-user=%s", email), "--mail-type=ALL")
	}

	comments := []string{}
	if s.Comment != "" {
		comments = append(comments, s.Comment)
	}
	comments = append(comments,
		fmt.Sprintf("Experiment directory: %s", s.ExpDir),
		fmt.Sprintf("Code location: %s", s.StageDir),
	)

	logDir := filepath.Join(s.ExpDir, "logs")
	return &sbatchParams{
		JobName:      s.JobName,
		Partition:    s.Partition,
		TimeLimit:    s.TimeLimit,
		Comment:      strings.Join(comments, "; "),
		NumNodes:     s.NumNodes,
		TasksPerNode: s.GPUsPerNode,
		CPUsPerTask:  s.CPUsPerGPU,
		Gres:         gres,
		GPUBind:      "map_gpu:" + strings.Join(deviceIDs, ","),
		OutputPath:   filepath.Join(logDir, "slurm_out.txt"),
		ErrorPath:    filepath.Join(logDir, "slurm_err.%j.txt"),
		ExtraLines:   extraLines,
		MasterPort:   s.MasterPort,
		Executable:   executable,
		ExpDir:       s.ExpDir,
		ConfigPath:   s.ConfigPath,
	}, nil
}

// WriteScript renders sbatch.sh into the experiment directory and returns
// its path.
func (s *Slurm) WriteScript() (string, error) {
	params, err := s.params()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(s.ExpDir, "logs"), 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	sbatchPath := filepath.Join(s.ExpDir, "sbatch.sh")
	f, err := os.OpenFile(sbatchPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("failed to create sbatch file: %w", err)
	}
	defer f.Close()
	if err := sbatchTemplate.Execute(f, params); err != nil {
		return "", fmt.Errorf("failed to render sbatch file: %w", err)
	}
	return sbatchPath, nil
}

func (s *Slurm) Launch(ctx context.Context) error {
	run := s.Run
	if run == nil {
		run = execRunner
	}

	sbatchPath, err := s.WriteScript()
	if err != nil {
		return err
	}
	s.Logger.Printf("Wrote sbatch file to %s", sbatchPath)

	numJobs := s.NumJobs
	if numJobs <= 0 {
		numJobs = 1
	}

	// Chain redundant submissions through scheduler-native dependencies so
	// a preempted job is picked up by its successor.
	var jobIDs []string
	for i := 0; i < numJobs; i++ {
		args := []string{sbatchPath}
		if len(jobIDs) > 0 {
			args = append(args, "--dependency", jobIDs[len(jobIDs)-1])
		}
		out, err := run("sbatch", args...)
		if err != nil {
			return fmt.Errorf("%w: sbatch: %v: %s", ErrSubmissionFailure, err, strings.TrimSpace(out))
		}
		matches := submittedJobRe.FindStringSubmatch(out)
		if matches == nil {
			return fmt.Errorf("%w: unexpected sbatch output: %s", ErrSubmissionFailure, strings.TrimSpace(out))
		}
		jobIDs = append(jobIDs, matches[1])
	}

	var lines []string
	for _, jobID := range jobIDs {
		lines = append(lines, fmt.Sprintf(" - %s", jobID))
	}
	s.Logger.Printf("Launched %d job(s):\n%s", len(jobIDs), strings.Join(lines, "\n"))

	// A scheduled run must not be double-submitted.
	return experiment.Acquire(s.ExpDir, experiment.LockScheduled, false)
}

// ContextFromSlurm derives a worker context from the scheduler's own job
// environment rather than from launch parameters. The master address is the
// first host of the job's node list.
func ContextFromSlurm(getenv func(string) string, hostnames func(nodeList string) (string, error)) (Context, error) {
	nodeList := getenv("SLURM_STEP_NODELIST")
	if nodeList == "" {
		nodeList = getenv("SLURM_JOB_NODELIST")
	}
	if nodeList == "" {
		return Context{}, fmt.Errorf("SLURM_JOB_NODELIST environment variable not set")
	}
	masterAddr, err := hostnames(nodeList)
	if err != nil {
		return Context{}, fmt.Errorf("failed to resolve node list %q: %w", nodeList, err)
	}

	nodeID, err := intSlurmEnv(getenv, "SLURM_NODEID")
	if err != nil {
		return Context{}, err
	}
	localID, err := intSlurmEnv(getenv, "SLURM_LOCALID")
	if err != nil {
		return Context{}, err
	}
	tasksPerNode, err := intSlurmEnv(getenv, "SLURM_NTASKS_PER_NODE")
	if err != nil {
		return Context{}, err
	}
	numNodes, err := intSlurmEnv(getenv, "SLURM_NNODES")
	if err != nil {
		return Context{}, err
	}
	masterPort, err := intSlurmEnv(getenv, EnvMasterPort)
	if err != nil {
		return Context{}, err
	}

	return Context{
		Rank:       nodeID*tasksPerNode + localID,
		WorldSize:  numNodes * tasksPerNode,
		MasterAddr: masterAddr,
		MasterPort: masterPort,
	}, nil
}

// FirstHostname resolves a Slurm node list to its first hostname via
// scontrol.
func FirstHostname(nodeList string) (string, error) {
	out, err := exec.Command("scontrol", "show", "hostnames", nodeList).Output()
	if err != nil {
		return "", fmt.Errorf("scontrol show hostnames: %w", err)
	}
	hosts := strings.Fields(string(out))
	if len(hosts) == 0 {
		return "", fmt.Errorf("empty hostname list for %q", nodeList)
	}
	return hosts[0], nil
}

func intSlurmEnv(getenv func(string) string, key string) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%s environment variable not set", key)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return value, nil
}
