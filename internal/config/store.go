package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ConfigFileName is the persisted run configuration inside a run directory.
const ConfigFileName = "config.yaml"

// SaveConfig persists the resolved config tree to dir/config.yaml. If a
// config was persisted by an earlier invocation of the same run directory,
// the two are diffed; any divergence is logged at warning level before the
// old file is overwritten. An identical config is left untouched.
func SaveConfig(dir string, cfg Tree, logger *log.Logger) error {
	path := filepath.Join(dir, ConfigFileName)
	existing, err := ReadTree(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create run directory %s: %w", dir, err)
		}
		if err := cfg.Write(path); err != nil {
			return err
		}
		logger.Printf("Saved config to %s", path)
		return nil
	}

	added, removed := Diff(map[string]any(cfg), map[string]any(existing))
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	var changes []string
	for _, line := range added {
		changes = append(changes, " + "+line)
	}
	for _, line := range removed {
		changes = append(changes, " - "+line)
	}
	logger.Printf("WARNING: overwriting config %s:\n%s", path, strings.Join(changes, "\n"))
	return cfg.Write(path)
}
