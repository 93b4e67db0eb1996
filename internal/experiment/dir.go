package experiment

import (
	"fmt"
	"path/filepath"
)

// RunDir returns the absolute directory for a single run of an experiment:
// base_dir/exp_name/run_<id>.
func RunDir(baseDir, expName string, runID int) (string, error) {
	dir, err := filepath.Abs(filepath.Join(baseDir, expName, fmt.Sprintf("run_%d", runID)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve run directory: %w", err)
	}
	return dir, nil
}

// ResolveRunID scans run IDs from zero and returns the first whose directory
// either does not exist or holds no lock file. The scan is a plain directory
// walk with no cross-process claim; two processes resolving at the same time
// can land on the same ID.
func ResolveRunID(baseDir, expName string) (int, error) {
	for runID := 0; ; runID++ {
		dir, err := RunDir(baseDir, expName, runID)
		if err != nil {
			return 0, err
		}
		if !isDir(dir) {
			return runID, nil
		}
		locked, err := IsLocked(dir)
		if err != nil {
			return 0, err
		}
		if !locked {
			return runID, nil
		}
	}
}
