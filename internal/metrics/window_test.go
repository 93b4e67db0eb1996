package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 1.2)
	w.Record(64, 10*time.Millisecond, 0.8)
	snap := w.Snapshot()
	if math.Abs(snap.SamplesPerSec-4266.6666) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.SamplesPerSec)
	}
	if math.Abs(snap.AvgStepMS-15) > 0.01 {
		t.Fatalf("unexpected step time %.2f", snap.AvgStepMS)
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
	if math.Abs(snap.AvgLoss-1.0) > 1e-9 {
		t.Fatalf("expected average loss 1.0, got %.4f", snap.AvgLoss)
	}
	if w.samples != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
}

func TestWindowEmptySnapshot(t *testing.T) {
	var w Window
	snap := w.Snapshot()
	if snap.SamplesPerSec != 0 || snap.AvgStepMS != 0 || snap.AvgLoss != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}
