package state

import "testing"

func TestParsePhase(t *testing.T) {
	for _, valid := range []string{"train", "valid", "test"} {
		phase, err := ParsePhase(valid)
		if err != nil {
			t.Fatalf("parse %s: %v", valid, err)
		}
		if string(phase) != valid {
			t.Fatalf("expected %s, got %s", valid, phase)
		}
	}
	if _, err := ParsePhase("deploy"); err == nil {
		t.Fatalf("expected error for invalid phase")
	}
}

func TestInitState(t *testing.T) {
	st := Init()
	if st.NumSteps != 0 || st.NumEpochs != 0 || st.NumSamples != 0 {
		t.Fatalf("expected zero counters, got %+v", st)
	}
	if !st.Training() {
		t.Fatalf("fresh state should be in training phase")
	}
	st.Phase = PhaseValid
	if st.Training() {
		t.Fatalf("valid phase should not report training")
	}
}
