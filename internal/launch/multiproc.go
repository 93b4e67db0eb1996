package launch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Multiprocess spawns one worker process per local device. Each worker is
// an independent process with an isolated device view, handed its rank,
// world size, and master address/port through the environment. The parent
// blocks until every child has exited; on failure the first worker error is
// propagated. Siblings of a failed worker are left to finish on their own.
type Multiprocess struct {
	WorldSize  int
	MasterAddr string
	MasterPort int

	// WorkerArgs is the command line (minus the executable) that re-invokes
	// this binary as a worker.
	WorkerArgs []string

	// ExtraEnv carries parent-resolved settings into each worker's
	// environment. Workers rebuild settings from the environment, so
	// flag-supplied values do not survive the process boundary on their own.
	ExtraEnv []string

	// Worker is the in-process fallback used when fewer than two devices
	// are available.
	Worker WorkerFunc

	Logger *log.Logger
}

// workerEnv builds the full environment for one spawned worker: the parent
// environment, the forwarded settings, the worker's device view, and the
// rank/world-size handoff contract.
func (m *Multiprocess) workerEnv(wctx Context) []string {
	env := append(os.Environ(), m.ExtraEnv...)
	env = append(env, fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", wctx.Rank))
	return wctx.Environ(env)
}

func (m *Multiprocess) Launch(ctx context.Context) error {
	if m.WorldSize <= 1 {
		m.Logger.Printf("WARNING: multiprocess launch expects more than one device, running rank 0 in-process")
		wctx := Single()
		wctx.MasterAddr = m.MasterAddr
		wctx.MasterPort = m.MasterPort
		return m.Worker(ctx, wctx)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	m.Logger.Printf("Launching %d training workers", m.WorldSize)
	type worker struct {
		rank   int
		cmd    *exec.Cmd
		stderr *tailBuffer
	}
	workers := make([]worker, 0, m.WorldSize)
	for rank := 0; rank < m.WorldSize; rank++ {
		wctx := Context{
			Rank:       rank,
			WorldSize:  m.WorldSize,
			MasterAddr: m.MasterAddr,
			MasterPort: m.MasterPort,
		}
		tail := &tailBuffer{limit: 8 << 10}
		cmd := exec.CommandContext(ctx, executable, m.WorkerArgs...)
		cmd.Env = m.workerEnv(wctx)
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, tail)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start worker %d: %w", rank, err)
		}
		m.Logger.Printf("Started worker %d (pid %d)", rank, cmd.Process.Pid)
		workers = append(workers, worker{rank: rank, cmd: cmd, stderr: tail})
	}

	// Join every worker before reporting; a failed worker does not take its
	// siblings down.
	var firstErr error
	for _, w := range workers {
		if err := w.cmd.Wait(); err != nil && firstErr == nil {
			detail := strings.TrimSpace(w.stderr.String())
			if detail != "" {
				firstErr = fmt.Errorf("%w: rank %d: %v\n%s", ErrWorkerFailure, w.rank, err, detail)
			} else {
				firstErr = fmt.Errorf("%w: rank %d: %v", ErrWorkerFailure, w.rank, err)
			}
		}
	}
	return firstErr
}

// tailBuffer keeps the trailing bytes of a stream so worker failure output
// can be surfaced in the parent without unbounded buffering.
type tailBuffer struct {
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		data := t.buf.Bytes()
		trimmed := make([]byte, t.limit)
		copy(trimmed, data[len(data)-t.limit:])
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
