package tracking

import (
	"context"
	"log"

	"github.com/codekansas/ml-template/internal/config"
)

// Recorder mirrors one coordinator run to the tracking server on a
// best-effort basis. Every tracking failure is logged and swallowed; the
// training run never fails because the mirror is unreachable. A nil
// Recorder is a no-op, so callers need no enabled checks.
type Recorder struct {
	client *Client
	runID  string
	logger *log.Logger
}

// NewRecorder starts a tracking run for the primary worker. Returns nil
// when tracking is not configured or the mirror cannot be reached.
func NewRecorder(ctx context.Context, settings *config.Settings, logger *log.Logger, expDir string, worldSize int) *Recorder {
	if !settings.TrackingEnabled() {
		return nil
	}
	client, err := NewClient(settings)
	if err != nil {
		logger.Printf("WARNING: tracking disabled: %v", err)
		return nil
	}
	info, err := client.StartRun(ctx, settings.ExpName, expDir, worldSize)
	if err != nil {
		logger.Printf("WARNING: tracking disabled: %v", err)
		return nil
	}
	logger.Printf("Mirroring run to tracking server as %s", info.RunID)
	return &Recorder{client: client, runID: info.RunID, logger: logger}
}

func (r *Recorder) Params(ctx context.Context, params map[string]string) {
	if r == nil {
		return
	}
	if err := r.client.LogParams(ctx, r.runID, params); err != nil {
		r.logger.Printf("WARNING: failed to mirror params: %v", err)
	}
}

func (r *Recorder) Metric(ctx context.Context, key string, value float64, step int64) {
	if r == nil {
		return
	}
	if err := r.client.LogMetric(ctx, r.runID, key, value, step); err != nil {
		r.logger.Printf("WARNING: failed to mirror metric %s: %v", key, err)
	}
}

// Metrics mirrors a batch of observations in one call, typically the
// windowed snapshot at log cadence.
func (r *Recorder) Metrics(ctx context.Context, metrics []Metric) {
	if r == nil || len(metrics) == 0 {
		return
	}
	if err := r.client.LogMetrics(ctx, r.runID, metrics); err != nil {
		r.logger.Printf("WARNING: failed to mirror metrics: %v", err)
	}
}

// Checkpoint uploads a freshly written checkpoint file as a run artifact.
// Wired as the checkpoint manager's after-save hook.
func (r *Recorder) Checkpoint(ctx context.Context, path string) {
	if r == nil {
		return
	}
	if err := r.client.UploadArtifact(ctx, r.runID, path, ""); err != nil {
		r.logger.Printf("WARNING: failed to mirror checkpoint %s: %v", path, err)
	}
}

func (r *Recorder) End(ctx context.Context, status RunStatus) {
	if r == nil {
		return
	}
	if err := r.client.EndRun(ctx, r.runID, status); err != nil {
		r.logger.Printf("WARNING: failed to end tracking run: %v", err)
	}
}
