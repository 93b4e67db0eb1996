package experiment

import "errors"

var (
	// ErrLockConflict is returned when acquiring a lock that is already held.
	ErrLockConflict = errors.New("lock file already exists")

	// ErrLockNotFound is returned when releasing a lock that is not held.
	ErrLockNotFound = errors.New("lock file not found")
)
