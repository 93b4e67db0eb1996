package launch

import "context"

// SingleProcess runs the worker entry point directly in the calling
// process with a world size of one.
type SingleProcess struct {
	Worker WorkerFunc
}

func (s *SingleProcess) Launch(ctx context.Context) error {
	return s.Worker(ctx, Single())
}
