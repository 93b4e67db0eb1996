package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"
)

// StartRun registers a new tracking run mirroring a coordinator run. The
// experiment directory and world size are recorded as tags so the tracking
// view links back to the filesystem state.
func (c *Client) StartRun(ctx context.Context, runName, expDir string, worldSize int) (*RunInfo, error) {
	experimentID := c.settings.TrackingExpID
	if experimentID == "" {
		return nil, fmt.Errorf("tracking experiment ID must be provided")
	}

	if runName == "" {
		runName = "run-" + time.Now().Format("2006-01-02-15-04-05")
	}

	tags := []ml.RunTag{
		{Key: "mlflow.runName", Value: runName},
		{Key: "coordinator.exp_dir", Value: expDir},
		{Key: "coordinator.world_size", Value: fmt.Sprintf("%d", worldSize)},
	}

	startTime := time.Now()
	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags:         tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &RunInfo{
		RunID:        resp.Run.Info.RunId,
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    startTime,
	}, nil
}

// EndRun transitions a tracking run to a terminal status.
func (c *Client) EndRun(ctx context.Context, runID string, status RunStatus) error {
	var mlStatus ml.UpdateRunStatus
	switch status {
	case RunStatusRunning:
		mlStatus = ml.UpdateRunStatusRunning
	case RunStatusFinished:
		mlStatus = ml.UpdateRunStatusFinished
	case RunStatusFailed:
		mlStatus = ml.UpdateRunStatusFailed
	case RunStatusKilled:
		mlStatus = ml.UpdateRunStatusKilled
	default:
		mlStatus = ml.UpdateRunStatusFinished
	}

	updateRun := ml.UpdateRun{
		RunId:  runID,
		Status: mlStatus,
	}
	if status != RunStatusRunning {
		updateRun.EndTime = time.Now().UnixMilli()
	}

	if _, err := c.client.Experiments.UpdateRun(ctx, updateRun); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}
