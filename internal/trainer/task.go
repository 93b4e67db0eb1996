package trainer

import (
	"fmt"
	"math/rand"

	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/state"
)

// LinearModel is a tiny least-squares regressor used as the built-in demo
// workload, so the coordinator can be exercised end to end without an
// external model.
type LinearModel struct {
	Weight float64
	Bias   float64
}

func NewLinearModel(seed int64) *LinearModel {
	rng := rand.New(rand.NewSource(seed))
	return &LinearModel{Weight: (rng.Float64()*2 - 1) * 0.01}
}

func (m *LinearModel) StateDict() map[string]any {
	return map[string]any{"weight": m.Weight, "bias": m.Bias}
}

func (m *LinearModel) LoadStateDict(dict map[string]any) error {
	var err error
	if m.Weight, err = floatEntry(dict, "weight"); err != nil {
		return err
	}
	m.Bias, err = floatEntry(dict, "bias")
	return err
}

// SGD applies plain gradient descent with the scheduler's current rate.
type SGD struct {
	Sched *StepLR
	steps int64
}

func (o *SGD) Apply(m *LinearModel, gradW, gradB float64) {
	lr := o.Sched.Rate()
	m.Weight -= lr * gradW
	m.Bias -= lr * gradB
	o.steps++
	o.Sched.Step()
}

func (o *SGD) StateDict() map[string]any {
	return map[string]any{"steps": float64(o.steps)}
}

func (o *SGD) LoadStateDict(dict map[string]any) error {
	steps, err := floatEntry(dict, "steps")
	if err != nil {
		return err
	}
	o.steps = int64(steps)
	return nil
}

// StepLR decays the learning rate by a fixed factor every N steps.
type StepLR struct {
	Base    float64
	Gamma   float64
	EveryN  int64
	current int64
}

func NewStepLR(cfg config.Tree) *StepLR {
	sched := &StepLR{Base: 0.1, Gamma: 0.5, EveryN: 100}
	if value, ok := cfg.Get("lr_sched.base"); ok {
		if f, ok := asConfigFloat(value); ok {
			sched.Base = f
		}
	}
	if value, ok := cfg.Get("lr_sched.gamma"); ok {
		if f, ok := asConfigFloat(value); ok {
			sched.Gamma = f
		}
	}
	sched.EveryN = cfg.GetInt("lr_sched.every_n_steps", sched.EveryN)
	return sched
}

func (s *StepLR) Rate() float64 {
	rate := s.Base
	for i := s.EveryN; i <= s.current && s.EveryN > 0; i += s.EveryN {
		rate *= s.Gamma
	}
	return rate
}

func (s *StepLR) Step() {
	s.current++
}

func (s *StepLR) StateDict() map[string]any {
	return map[string]any{"current": float64(s.current)}
}

func (s *StepLR) LoadStateDict(dict map[string]any) error {
	current, err := floatEntry(dict, "current")
	if err != nil {
		return err
	}
	s.current = int64(current)
	return nil
}

// RegressionTask fits the demo model to a noisy synthetic line with mean
// squared error.
type RegressionTask struct {
	Model     *LinearModel
	Optim     *SGD
	BatchSize int

	rng    *rand.Rand
	truthW float64
	truthB float64
	noise  float64
}

func NewRegressionTask(cfg config.Tree, model *LinearModel, optim *SGD, seed int64) *RegressionTask {
	return &RegressionTask{
		Model:     model,
		Optim:     optim,
		BatchSize: int(cfg.GetInt("task.batch_size", 32)),
		rng:       rand.New(rand.NewSource(seed)),
		truthW:    3.0,
		truthB:    -1.0,
		noise:     0.05,
	}
}

func (t *RegressionTask) TrainStep(st *state.State) (float64, int, error) {
	loss, gradW, gradB := t.batchLoss()
	t.Optim.Apply(t.Model, gradW, gradB)
	return loss, t.BatchSize, nil
}

func (t *RegressionTask) EvalStep(st *state.State) (float64, error) {
	loss, _, _ := t.batchLoss()
	return loss, nil
}

func (t *RegressionTask) batchLoss() (loss, gradW, gradB float64) {
	for i := 0; i < t.BatchSize; i++ {
		x := t.rng.Float64()*2 - 1
		y := t.truthW*x + t.truthB + t.rng.NormFloat64()*t.noise
		pred := t.Model.Weight*x + t.Model.Bias
		diff := pred - y
		loss += diff * diff
		gradW += 2 * diff * x
		gradB += 2 * diff
	}
	n := float64(t.BatchSize)
	return loss / n, gradW / n, gradB / n
}

func (t *RegressionTask) StateDict() map[string]any {
	return map[string]any{}
}

func (t *RegressionTask) LoadStateDict(dict map[string]any) error {
	return nil
}

func floatEntry(dict map[string]any, key string) (float64, error) {
	value, ok := dict[key]
	if !ok {
		return 0, fmt.Errorf("state dict missing key %q", key)
	}
	f, ok := asConfigFloat(value)
	if !ok {
		return 0, fmt.Errorf("state dict key %q has non-numeric value %v", key, value)
	}
	return f, nil
}

func asConfigFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
