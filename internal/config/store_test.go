package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveConfigFreshDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_0")
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	cfg := Tree{"a": 1, "b": 2}
	if err := SaveConfig(dir, cfg, logger); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := ReadTree(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got := loaded.GetInt("b", 0); got != 2 {
		t.Fatalf("expected b=2, got %d", got)
	}
	if !strings.Contains(buf.String(), "Saved config") {
		t.Fatalf("expected save log, got %q", buf.String())
	}
}

func TestSaveConfigOverwritesOnDivergence(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(os.Stderr, "", 0)

	if err := SaveConfig(dir, Tree{"a": 1, "b": 2}, logger); err != nil {
		t.Fatalf("first save: %v", err)
	}

	var buf bytes.Buffer
	warnLogger := log.New(&buf, "", 0)
	if err := SaveConfig(dir, Tree{"a": 1, "c": 3}, warnLogger); err != nil {
		t.Fatalf("second save: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "WARNING") || !strings.Contains(out, "+ c=3") || !strings.Contains(out, "- b=2") {
		t.Fatalf("expected divergence warning with +c/-b, got %q", out)
	}

	final, err := ReadTree(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if _, ok := final.Get("b"); ok {
		t.Fatalf("expected b removed from persisted config")
	}
	if got := final.GetInt("c", 0); got != 3 {
		t.Fatalf("expected c=3 persisted, got %d", got)
	}
}

func TestSaveConfigNoOpWhenIdentical(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(os.Stderr, "", 0)
	cfg := Tree{"a": 1, "nested": map[string]any{"x": "y"}}

	if err := SaveConfig(dir, cfg, logger); err != nil {
		t.Fatalf("first save: %v", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	var buf bytes.Buffer
	if err := SaveConfig(dir, cfg, log.New(&buf, "", 0)); err != nil {
		t.Fatalf("second save: %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("identical config should not be rewritten")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}
