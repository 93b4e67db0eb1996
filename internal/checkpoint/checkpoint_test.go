package checkpoint

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/codekansas/ml-template/internal/experiment"
	"github.com/codekansas/ml-template/internal/state"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return &Manager{
		Dir:    t.TempDir(),
		Logger: log.New(os.Stderr, "", 0),
	}
}

func testBundle(steps int64) *Bundle {
	st := state.Init()
	st.NumSteps = steps
	st.NumSamples = steps * 32
	return &Bundle{
		Model:   map[string]any{"w": 1.0},
		Task:    map[string]any{},
		Optim:   map[string]any{},
		LRSched: map[string]any{},
		State:   st,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := testManager(t)
	bundle := testBundle(5)
	bundle.State.NumValidSteps = 2
	bundle.State.Phase = state.PhaseValid

	if err := m.Save(bundle, bundle.State); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := m.Load(m.LatestPath())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *loaded.State != *bundle.State {
		t.Fatalf("state mismatch: %+v vs %+v", loaded.State, bundle.State)
	}
	if loaded.Model["w"] != 1.0 {
		t.Fatalf("expected model weight 1.0, got %v", loaded.Model["w"])
	}
}

func TestSaveStepQualifiedPathAndAlias(t *testing.T) {
	m := testManager(t)
	bundle := testBundle(5)

	if err := m.Save(bundle, bundle.State); err != nil {
		t.Fatalf("save: %v", err)
	}

	stepPath := filepath.Join(m.Dir, "checkpoints", "ckpt.5.json")
	if _, err := os.Stat(stepPath); err != nil {
		t.Fatalf("expected step-qualified checkpoint: %v", err)
	}
	target, err := filepath.EvalSymlinks(m.LatestPath())
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	if filepath.Base(target) != "ckpt.5.json" {
		t.Fatalf("alias points at %s, expected %s", target, stepPath)
	}
}

func TestSaveAddsCkptLock(t *testing.T) {
	m := testManager(t)
	if err := m.Save(testBundle(1), testBundle(1).State); err != nil {
		t.Fatalf("save: %v", err)
	}
	locked, err := experiment.IsLockedKind(m.Dir, experiment.LockCkpt)
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if !locked {
		t.Fatalf("expected ckpt lock after save")
	}
	// A second save tolerates the existing lock.
	if err := m.Save(testBundle(2), testBundle(2).State); err != nil {
		t.Fatalf("second save: %v", err)
	}
}

func TestRetainOnlyMostRecent(t *testing.T) {
	m := testManager(t)
	m.OnlySaveMostRecent = true

	if err := m.Save(testBundle(10), testBundle(10).State); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := m.Save(testBundle(20), testBundle(20).State); err != nil {
		t.Fatalf("second save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(m.Dir, "checkpoints"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var dataFiles int
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		dataFiles++
	}
	if dataFiles != 1 {
		t.Fatalf("expected exactly one checkpoint data file, got %d", dataFiles)
	}

	loaded, err := m.Load(m.LatestPath())
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if loaded.State.NumSteps != 20 {
		t.Fatalf("alias resolves to steps=%d, expected 20", loaded.State.NumSteps)
	}
}

func TestKeepsHistoryByDefault(t *testing.T) {
	m := testManager(t)
	if err := m.Save(testBundle(10), testBundle(10).State); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := m.Save(testBundle(20), testBundle(20).State); err != nil {
		t.Fatalf("second save: %v", err)
	}
	for _, steps := range []string{"10", "20"} {
		if _, err := os.Stat(filepath.Join(m.Dir, "checkpoints", "ckpt."+steps+".json")); err != nil {
			t.Fatalf("expected checkpoint at step %s: %v", steps, err)
		}
	}
}

func TestFailedSaveKeepsPreviousCheckpoint(t *testing.T) {
	m := testManager(t)
	m.OnlySaveMostRecent = true

	if err := m.Save(testBundle(10), testBundle(10).State); err != nil {
		t.Fatalf("first save: %v", err)
	}

	bad := testBundle(20)
	bad.Model = map[string]any{"w": func() {}}
	if err := m.Save(bad, bad.State); err == nil {
		t.Fatalf("expected serialization error")
	}

	loaded, err := m.Load(m.LatestPath())
	if err != nil {
		t.Fatalf("previous checkpoint should survive a failed save: %v", err)
	}
	if loaded.State.NumSteps != 10 {
		t.Fatalf("alias resolves to steps=%d, expected 10", loaded.State.NumSteps)
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	m := testManager(t)
	path := filepath.Join(m.Dir, "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Load(path); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Fatalf("expected ErrCheckpointCorrupt, got %v", err)
	}
}

func TestLoadRejectsInvalidPhase(t *testing.T) {
	m := testManager(t)
	path := filepath.Join(m.Dir, "bad_phase.json")
	content := `{"model":{},"task":{},"optim":{},"lr_sched":{},"state":{"num_steps":1,"phase":"deploy"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Load(path); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Fatalf("expected ErrCheckpointCorrupt for bad phase, got %v", err)
	}
}

func TestSaveHooks(t *testing.T) {
	m := testManager(t)
	var savedPath string
	m.AfterSave = func(path string) { savedPath = path }

	bundle := testBundle(3)
	if err := m.Save(bundle, bundle.State); err != nil {
		t.Fatalf("save: %v", err)
	}
	if savedPath != Path(m.Dir, bundle.State) {
		t.Fatalf("after-save hook got %q", savedPath)
	}

	var hookSeen bool
	m.AfterLoad = func(b *Bundle) { hookSeen = b.State.NumSteps == 3 }
	if _, err := m.Load(m.LatestPath()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !hookSeen {
		t.Fatalf("after-load hook did not run before handback")
	}
}
