package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

var (
	// ErrWorkerFailure is returned when a spawned training worker exited
	// with an error.
	ErrWorkerFailure = errors.New("training worker failed")

	// ErrSubmissionFailure is returned when the external scheduler did not
	// return an expected job identifier.
	ErrSubmissionFailure = errors.New("batch submission failed")
)

// Environment variable contract handed from launchers to worker processes.
const (
	EnvRank       = "RANK"
	EnvWorldSize  = "WORLD_SIZE"
	EnvMasterAddr = "MASTER_ADDR"
	EnvMasterPort = "MASTER_PORT"
)

// Context identifies one worker within a distributed run. It is resolved
// once at worker startup and threaded explicitly through every entry point;
// nothing below the launch layer reads ambient process state.
type Context struct {
	Rank       int
	WorldSize  int
	MasterAddr string
	MasterPort int
}

// Single returns the context for a world-size-1 run.
func Single() Context {
	return Context{Rank: 0, WorldSize: 1, MasterAddr: "localhost"}
}

// Primary reports whether this worker is the designated rank responsible
// for side-effecting writes (config, checkpoints).
func (c Context) Primary() bool {
	return c.Rank == 0
}

// Environ appends the worker handoff variables to an environment list.
func (c Context) Environ(base []string) []string {
	return append(base,
		fmt.Sprintf("%s=%d", EnvRank, c.Rank),
		fmt.Sprintf("%s=%d", EnvWorldSize, c.WorldSize),
		fmt.Sprintf("%s=%s", EnvMasterAddr, c.MasterAddr),
		fmt.Sprintf("%s=%d", EnvMasterPort, c.MasterPort),
	)
}

// FromEnv reconstructs a worker context from the launcher-supplied
// environment. Used by the hidden worker entry points.
func FromEnv() (Context, error) {
	rank, err := intEnv(EnvRank)
	if err != nil {
		return Context{}, err
	}
	worldSize, err := intEnv(EnvWorldSize)
	if err != nil {
		return Context{}, err
	}
	port, err := intEnv(EnvMasterPort)
	if err != nil {
		return Context{}, err
	}
	addr := os.Getenv(EnvMasterAddr)
	if addr == "" {
		return Context{}, fmt.Errorf("%s environment variable not set", EnvMasterAddr)
	}
	return Context{Rank: rank, WorldSize: worldSize, MasterAddr: addr, MasterPort: port}, nil
}

func intEnv(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%s environment variable not set", key)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return value, nil
}

// WorkerFunc is the train loop entry point every strategy ultimately runs.
type WorkerFunc func(ctx context.Context, wctx Context) error

// Strategy is a pluggable execution backend standing up the workers for
// one run.
type Strategy interface {
	Launch(ctx context.Context) error
}
