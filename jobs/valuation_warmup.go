package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// ValuationWarmupJob primes the redis valuation cache so the first morning
// queries do not pay the load cost.
type ValuationWarmupJob struct {
	Costing *costing.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewValuationWarmupJob wires dependencies for the warmup handler.
func NewValuationWarmupJob(svc *costing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ValuationWarmupJob {
	return &ValuationWarmupJob{Costing: svc, Logger: logger, Metrics: metrics}
}

// Handle processes valuation warmup tasks.
func (j *ValuationWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Costing == nil {
		return errors.New("valuation warmup: handler not configured")
	}
	var payload ValuationWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskValuationWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	itemIDs, err := j.Costing.ItemIDs(ctx)
	if err != nil {
		resultErr = err
		j.logger().Error("list items for warmup", slog.Any("error", err))
		return resultErr
	}

	start := time.Now()
	warmed := 0
	for _, itemID := range itemIDs {
		// Bound each item so one slow valuation cannot stall the whole run.
		itemCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := j.Costing.CurrentValue(itemCtx, itemID, false)
		if err == nil {
			_, err = j.Costing.CurrentValue(itemCtx, itemID, true)
		}
		cancel()
		if err != nil {
			resultErr = err
			j.logger().Error("warm item valuation", slog.String("item_id", itemID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	j.logger().Info("valuation warmup complete", slog.Int("items", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *ValuationWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ValuationWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
