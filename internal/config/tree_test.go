package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeYAML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTreeMergesFiles(t *testing.T) {
	base := writeYAML(t, "base.yaml", "train:\n  max_steps: 100\n  log_every_n_steps: 10\n")
	override := writeYAML(t, "override.yaml", "train:\n  max_steps: 500\n")

	tree, err := LoadTree([]string{base, override}, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tree.GetInt("train.max_steps", 0); got != 500 {
		t.Fatalf("expected max_steps 500, got %d", got)
	}
	if got := tree.GetInt("train.log_every_n_steps", 0); got != 10 {
		t.Fatalf("expected log_every_n_steps 10 preserved, got %d", got)
	}
}

func TestLoadTreeDotlistOverrides(t *testing.T) {
	tree, err := LoadTree(nil, []string{"task.batch_size=64", "task.name=demo", "optim.lr=0.05", "task.resume=true"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tree.GetInt("task.batch_size", 0); got != 64 {
		t.Fatalf("expected batch_size 64, got %d", got)
	}
	if got := tree.GetString("task.name", ""); got != "demo" {
		t.Fatalf("expected task name demo, got %q", got)
	}
	if value, ok := tree.Get("optim.lr"); !ok || value != 0.05 {
		t.Fatalf("expected lr 0.05, got %v", value)
	}
	if value, ok := tree.Get("task.resume"); !ok || value != true {
		t.Fatalf("expected resume true, got %v", value)
	}
}

func TestLoadTreeRejectsMalformedOverride(t *testing.T) {
	if _, err := LoadTree(nil, []string{"no-equals-sign"}); err == nil {
		t.Fatalf("expected error for malformed override")
	}
}

func TestTreeWriteRoundTrip(t *testing.T) {
	tree := Tree{
		"train": map[string]any{"max_steps": 100},
		"tags":  []any{"a", "b"},
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := tree.Write(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := ReadTree(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	added, removed := Diff(map[string]any(tree), map[string]any(loaded))
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("round trip changed tree: (%v, %v)", added, removed)
	}
}

func TestFlatten(t *testing.T) {
	tree := Tree{
		"optim": map[string]any{"lr": 0.1},
		"tags":  []any{"x", "y"},
		"name":  "exp",
	}
	flat := tree.Flatten()
	want := map[string]string{
		"optim.lr": "0.1",
		"tags.0":   "x",
		"tags.1":   "y",
		"name":     "exp",
	}
	if !reflect.DeepEqual(flat, want) {
		t.Fatalf("unexpected flatten result %v", flat)
	}
}
