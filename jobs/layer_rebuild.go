package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// LayerRebuildJob replays entry histories into fresh materialized layers.
// Items are independent, so they rebuild in parallel; each item rebuild runs
// under its own lock and transaction.
type LayerRebuildJob struct {
	Costing *costing.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Parallelism bounds concurrent item rebuilds.
	Parallelism int
}

// NewLayerRebuildJob wires dependencies for the rebuild handler.
func NewLayerRebuildJob(svc *costing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *LayerRebuildJob {
	return &LayerRebuildJob{Costing: svc, Logger: logger, Metrics: metrics, Parallelism: 4}
}

// Handle processes layer rebuild tasks.
func (j *LayerRebuildJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Costing == nil {
		return errors.New("layer rebuild: handler not configured")
	}
	var payload LayerRebuildPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCostingLayerRebuild)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	itemIDs := payload.ItemIDs
	if len(itemIDs) == 0 {
		var err error
		itemIDs, err = j.Costing.ItemIDs(ctx)
		if err != nil {
			resultErr = err
			j.logger().Error("list items for rebuild", slog.Any("error", err))
			return resultErr
		}
	}
	if len(itemIDs) == 0 {
		j.logger().Info("no items to rebuild")
		return resultErr
	}

	start := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(j.parallelism())
	for _, itemID := range itemIDs {
		itemID := itemID
		group.Go(func() error {
			return j.Costing.RebuildItem(groupCtx, itemID)
		})
	}
	if err := group.Wait(); err != nil {
		resultErr = err
		j.logger().Error("layer rebuild failed", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("layer rebuild complete", slog.Int("items", len(itemIDs)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *LayerRebuildJob) parallelism() int {
	if j.Parallelism <= 0 {
		return 4
	}
	return j.Parallelism
}

func (j *LayerRebuildJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *LayerRebuildJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
