package tracking

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/codekansas/ml-template/internal/config"
)

// A nil Recorder must be safe to use from every call site so callers never
// check whether the mirror is enabled.
func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	ctx := context.Background()

	r.Params(ctx, map[string]string{"lr": "0.1"})
	r.Metric(ctx, "train/loss", 0.5, 10)
	r.Metrics(ctx, []Metric{{Key: "train/loss", Value: 0.5, Timestamp: time.Now(), Step: 10}})
	r.Checkpoint(ctx, "/tmp/ckpt.json")
	r.End(ctx, RunStatusFinished)
}

func TestNewRecorderDisabledWithoutURI(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	settings := &config.Settings{ExpName: "exp1"}
	if r := NewRecorder(context.Background(), settings, logger, "/runs/exp1/run_0", 1); r != nil {
		t.Fatalf("expected nil recorder without a tracking URI")
	}
}
