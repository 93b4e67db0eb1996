package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"
)

// LogParams mirrors the run's flattened config tree as tracking parameters.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]string) error {
	for key, value := range params {
		err := c.client.Experiments.LogParam(ctx, ml.LogParam{
			RunId: runID,
			Key:   key,
			Value: value,
		})
		if err != nil {
			return fmt.Errorf("failed to log parameter %s: %w", key, err)
		}
	}
	return nil
}

// LogMetric records one metric observation at a step.
func (c *Client) LogMetric(ctx context.Context, runID string, key string, value float64, step int64) error {
	err := c.client.Experiments.LogMetric(ctx, ml.LogMetric{
		RunId:     runID,
		Key:       key,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
		Step:      step,
	})
	if err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}

// LogMetrics records a batch of metric observations.
func (c *Client) LogMetrics(ctx context.Context, runID string, metrics []Metric) error {
	for _, metric := range metrics {
		err := c.client.Experiments.LogMetric(ctx, ml.LogMetric{
			RunId:     runID,
			Key:       metric.Key,
			Value:     metric.Value,
			Timestamp: metric.Timestamp.UnixMilli(),
			Step:      metric.Step,
		})
		if err != nil {
			return fmt.Errorf("failed to log metric %s: %w", metric.Key, err)
		}
	}
	return nil
}
