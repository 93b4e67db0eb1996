package metrics

import "time"

// Window accumulates loss and timing stats across training steps.
type Window struct {
	samples  int
	elapsed  time.Duration
	steps    int
	lossSum  float64
	lastLoss float64
}

// Record adds one step's measurement to the window.
func (w *Window) Record(batchSize int, stepTime time.Duration, loss float64) {
	w.samples += batchSize
	w.elapsed += stepTime
	w.steps++
	w.lossSum += loss
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{LastLoss: w.lastLoss}
	if w.elapsed > 0 {
		snap.SamplesPerSec = float64(w.samples) / w.elapsed.Seconds()
	}
	if w.steps > 0 {
		snap.AvgStepMS = (w.elapsed.Seconds() * 1000) / float64(w.steps)
		snap.AvgLoss = w.lossSum / float64(w.steps)
	}

	w.samples = 0
	w.elapsed = 0
	w.steps = 0
	w.lossSum = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	SamplesPerSec float64
	AvgStepMS     float64
	AvgLoss       float64
	LastLoss      float64
}
