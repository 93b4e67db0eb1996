package state

import "fmt"

// Phase identifies which segment of the run loop is executing.
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseValid Phase = "valid"
	PhaseTest  Phase = "test"
)

// ParsePhase validates a raw phase string, typically read back from a
// checkpoint bundle.
func ParsePhase(raw string) (Phase, error) {
	switch p := Phase(raw); p {
	case PhaseTrain, PhaseValid, PhaseTest:
		return p, nil
	default:
		return "", fmt.Errorf("invalid phase: %q (valid: train, valid, test)", raw)
	}
}

// State tracks the progress counters for a single run. It is mutated only
// by the training loop driver; all counters are monotonically non-decreasing
// within a run. A copy of the state is persisted in every checkpoint.
type State struct {
	NumEpochs     int64 `json:"num_epochs"`
	NumSteps      int64 `json:"num_steps"`
	NumSamples    int64 `json:"num_samples"`
	NumValidSteps int64 `json:"num_valid_steps"`
	NumTestSteps  int64 `json:"num_test_steps"`
	Phase         Phase `json:"phase"`
}

// Init returns the zero state for a fresh run.
func Init() *State {
	return &State{Phase: PhaseTrain}
}

// Training reports whether the run is currently in the training phase.
func (s *State) Training() bool {
	return s.Phase == PhaseTrain
}
