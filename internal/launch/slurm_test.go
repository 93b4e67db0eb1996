package launch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/codekansas/ml-template/internal/experiment"
)

func testSlurm(t *testing.T) *Slurm {
	t.Helper()
	return &Slurm{
		JobName:     "exp1",
		Partition:   "gpu",
		TimeLimit:   "1-00:00:00",
		NumNodes:    2,
		GPUsPerNode: 4,
		CPUsPerGPU:  2,
		NumJobs:     1,
		MasterPort:  29501,
		ExpDir:      t.TempDir(),
		StageDir:    "/stage/stage_20240101_000000",
		ConfigPath:  "/runs/exp1/run_0/config.yaml",
		Logger:      log.New(os.Stderr, "", 0),
	}
}

func TestWriteScript(t *testing.T) {
	s := testSlurm(t)
	path, err := s.WriteScript()
	if err != nil {
		t.Fatalf("write script: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	script := string(data)

	for _, want := range []string{
		"#SBATCH --job-name=exp1",
		"#SBATCH --partition=gpu",
		"#SBATCH --time=1-00:00:00",
		"#SBATCH --nodes=2",
		"#SBATCH --ntasks-per-node=4",
		"#SBATCH --cpus-per-task=2",
		"#SBATCH --gres=gpu:4",
		"#SBATCH --gpu-bind=map_gpu:0,1,2,3",
		"export MASTER_PORT=29501",
		"slurm-worker --exp-dir " + s.ExpDir + " --config /runs/exp1/run_0/config.yaml",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
}

func TestWriteScriptGPUType(t *testing.T) {
	s := testSlurm(t)
	s.GPUType = "a100"
	path, err := s.WriteScript()
	if err != nil {
		t.Fatalf("write script: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "--gres=gpu:a100:4") {
		t.Fatalf("expected typed gres directive:\n%s", data)
	}
}

func TestLaunchSubmitsAndLocks(t *testing.T) {
	s := testSlurm(t)
	s.NumJobs = 3

	var calls [][]string
	jobID := 100
	s.Run = func(name string, args ...string) (string, error) {
		calls = append(calls, append([]string{name}, args...))
		jobID++
		return fmt.Sprintf("Submitted batch job %d\n", jobID), nil
	}

	if err := s.Launch(context.Background()); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(calls))
	}
	// Redundant jobs chain through the previous job ID.
	if !strings.Contains(strings.Join(calls[1], " "), "--dependency 101") {
		t.Fatalf("expected dependency on first job, got %v", calls[1])
	}
	if !strings.Contains(strings.Join(calls[2], " "), "--dependency 102") {
		t.Fatalf("expected dependency on second job, got %v", calls[2])
	}

	locked, err := experiment.IsLockedKind(s.ExpDir, experiment.LockScheduled)
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if !locked {
		t.Fatalf("expected scheduled lock after submission")
	}
}

func TestLaunchRejectsUnexpectedOutput(t *testing.T) {
	s := testSlurm(t)
	s.Run = func(name string, args ...string) (string, error) {
		return "sbatch: error: invalid partition\n", nil
	}
	err := s.Launch(context.Background())
	if !errors.Is(err, ErrSubmissionFailure) {
		t.Fatalf("expected ErrSubmissionFailure, got %v", err)
	}
}

func TestLaunchRefusesDoubleSubmission(t *testing.T) {
	s := testSlurm(t)
	s.Run = func(name string, args ...string) (string, error) {
		return "Submitted batch job 7\n", nil
	}
	if err := s.Launch(context.Background()); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	err := s.Launch(context.Background())
	if !errors.Is(err, experiment.ErrLockConflict) {
		t.Fatalf("expected lock conflict on double submission, got %v", err)
	}
}

func TestContextFromSlurm(t *testing.T) {
	env := map[string]string{
		"SLURM_JOB_NODELIST":    "node[0-1]",
		"SLURM_NODEID":          "1",
		"SLURM_LOCALID":         "2",
		"SLURM_NTASKS_PER_NODE": "4",
		"SLURM_NNODES":          "2",
		EnvMasterPort:           "29500",
	}
	hostnames := func(nodeList string) (string, error) {
		if nodeList != "node[0-1]" {
			t.Fatalf("unexpected node list %q", nodeList)
		}
		return "node0", nil
	}

	wctx, err := ContextFromSlurm(func(key string) string { return env[key] }, hostnames)
	if err != nil {
		t.Fatalf("derive context: %v", err)
	}
	want := Context{Rank: 6, WorldSize: 8, MasterAddr: "node0", MasterPort: 29500}
	if wctx != want {
		t.Fatalf("unexpected context %+v, want %+v", wctx, want)
	}
}

func TestContextFromSlurmPrefersStepNodeList(t *testing.T) {
	env := map[string]string{
		"SLURM_STEP_NODELIST":   "stepnodes",
		"SLURM_JOB_NODELIST":    "jobnodes",
		"SLURM_NODEID":          "0",
		"SLURM_LOCALID":         "0",
		"SLURM_NTASKS_PER_NODE": "1",
		"SLURM_NNODES":          "1",
		EnvMasterPort:           "29500",
	}
	var resolved string
	hostnames := func(nodeList string) (string, error) {
		resolved = nodeList
		return "host", nil
	}
	if _, err := ContextFromSlurm(func(key string) string { return env[key] }, hostnames); err != nil {
		t.Fatalf("derive context: %v", err)
	}
	if resolved != "stepnodes" {
		t.Fatalf("expected step node list to win, got %q", resolved)
	}
}

func TestContextFromSlurmMissingNodeList(t *testing.T) {
	if _, err := ContextFromSlurm(func(string) string { return "" }, nil); err == nil {
		t.Fatalf("expected error without node list")
	}
}
