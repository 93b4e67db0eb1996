package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/codekansas/ml-template/internal/experiment"
	"github.com/codekansas/ml-template/internal/state"
)

// ErrCheckpointCorrupt is returned when a checkpoint file cannot be
// deserialized. The caller decides whether that is fatal.
var ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

// Bundle is the serialized snapshot of every stateful component needed to
// resume a run. Top-level keys are fixed; Extra carries any additional
// component state contributed through the save hook.
type Bundle struct {
	Model   map[string]any `json:"model"`
	Task    map[string]any `json:"task"`
	Optim   map[string]any `json:"optim"`
	LRSched map[string]any `json:"lr_sched"`
	State   *state.State   `json:"state"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Path returns the checkpoint path for a run state. A nil state denotes the
// "latest" alias, which always references the most recently written
// checkpoint for the run directory.
func Path(dir string, st *state.State) string {
	if st == nil {
		return filepath.Join(dir, "checkpoints", "ckpt.json")
	}
	return filepath.Join(dir, "checkpoints", fmt.Sprintf("ckpt.%d.json", st.NumSteps))
}

// Manager writes and restores checkpoint bundles for one run directory.
// Only the primary worker of a distributed run may call Save.
type Manager struct {
	Dir                string
	OnlySaveMostRecent bool
	Logger             *log.Logger

	// AfterSave runs once a checkpoint is durably written, with the path of
	// the new checkpoint file. AfterLoad runs on a freshly deserialized
	// bundle before component states are handed back.
	AfterSave func(path string)
	AfterLoad func(bundle *Bundle)
}

// LatestPath returns the "latest" alias path for the managed run directory.
func (m *Manager) LatestPath() string {
	return Path(m.Dir, nil)
}

// HasCheckpoint reports whether the latest alias resolves to a checkpoint.
func (m *Manager) HasCheckpoint() bool {
	_, err := os.Stat(m.LatestPath())
	return err == nil
}

// Save serializes the bundle to its step-qualified path and repoints the
// latest alias at it. A failed alias update is logged but not fatal: the
// bundle file itself is already durably written, only the alias bookkeeping
// may be stale.
func (m *Manager) Save(bundle *Bundle, st *state.State) error {
	ckptPath := Path(m.Dir, st)
	if err := os.MkdirAll(filepath.Dir(ckptPath), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	m.logf("Saving checkpoint to %s", ckptPath)

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := os.WriteFile(ckptPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", ckptPath, err)
	}

	// The previous checkpoint and the alias are touched only after the new
	// bundle is on disk; a failed save leaves the old checkpoint loadable.
	latest := m.LatestPath()
	if _, err := os.Lstat(latest); err == nil {
		if m.OnlySaveMostRecent {
			if target, err := filepath.EvalSymlinks(latest); err == nil && target != ckptPath {
				if err := os.Remove(target); err != nil {
					m.logf("Failed to remove previous checkpoint %s: %v", target, err)
				}
			}
		}
		if err := os.Remove(latest); err != nil {
			m.logf("Failed to remove latest alias %s: %v", latest, err)
		}
	}

	if err := os.Symlink(ckptPath, latest); err != nil {
		// A concurrent writer may have recreated the alias; the checkpoint
		// data itself is intact, so carry on.
		m.logf("Failed to update latest alias %s: %v", latest, err)
	}

	if err := experiment.Acquire(m.Dir, experiment.LockCkpt, true); err != nil {
		return err
	}
	if m.AfterSave != nil {
		m.AfterSave(ckptPath)
	}
	return nil
}

// Load deserializes the bundle at path. The after-load hook runs before the
// bundle is returned for component restoration.
func (m *Manager) Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpointCorrupt, path, err)
	}
	if bundle.State != nil {
		if _, err := state.ParsePhase(string(bundle.State.Phase)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCheckpointCorrupt, path, err)
		}
	}
	if m.AfterLoad != nil {
		m.AfterLoad(&bundle)
	}
	return &bundle, nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}
