package experiment

import (
	"fmt"
	"os"
	"path/filepath"
)

// LockKind tags the purpose a run directory is claimed for.
type LockKind string

const (
	LockRunning   LockKind = "running"
	LockScheduled LockKind = "scheduled"
	LockCkpt      LockKind = "ckpt"
)

var lockKinds = []LockKind{LockRunning, LockScheduled, LockCkpt}

// LockPath returns the marker file for a lock kind inside a run directory.
func LockPath(dir string, kind LockKind) string {
	return filepath.Join(dir, fmt.Sprintf(".lock_%s", kind))
}

// Acquire claims a run directory for the given purpose by creating its
// marker file. The file content records the owning PID as a diagnostic; it
// is not authoritative. The existence check and the create are two separate
// filesystem operations, so two cooperating processes racing on the same
// directory can both succeed.
func Acquire(dir string, kind LockKind, allowExisting bool) error {
	path := LockPath(dir, kind)
	if _, err := os.Stat(path); err == nil {
		if !allowExisting {
			return fmt.Errorf("%w: %s", ErrLockConflict, path)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat lock file %s: %w", path, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("PID: %d", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	return nil
}

// Release removes the marker file for a lock kind. It reports whether a
// removal actually happened.
func Release(dir string, kind LockKind, allowMissing bool) (bool, error) {
	path := LockPath(dir, kind)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if !allowMissing {
				return false, fmt.Errorf("%w: %s", ErrLockNotFound, path)
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to stat lock file %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to remove lock file %s: %w", path, err)
	}
	return true, nil
}

// IsLockedKind reports whether a specific lock kind is held on a directory.
func IsLockedKind(dir string, kind LockKind) (bool, error) {
	if _, err := os.Stat(LockPath(dir, kind)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat lock file: %w", err)
	}
	return true, nil
}

// IsLocked reports whether any lock kind is held on a directory.
func IsLocked(dir string) (bool, error) {
	for _, kind := range lockKinds {
		locked, err := IsLockedKind(dir, kind)
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
	}
	return false, nil
}

// Locks returns the lock kinds currently held on a directory, in a fixed
// order.
func Locks(dir string) ([]LockKind, error) {
	var held []LockKind
	for _, kind := range lockKinds {
		locked, err := IsLockedKind(dir, kind)
		if err != nil {
			return nil, err
		}
		if locked {
			held = append(held, kind)
		}
	}
	return held, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
