package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCostingLayerRebuild replays entry history into fresh cost layers.
	TaskCostingLayerRebuild = "costing:layer_rebuild"
	// TaskValuationWarmup primes the redis valuation cache for active items.
	TaskValuationWarmup = "costing:valuation_warmup"
)

// LayerRebuildPayload selects the items to rebuild. An empty ItemIDs slice
// means every known item.
type LayerRebuildPayload struct {
	ItemIDs      []string  `json:"item_ids,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLayerRebuildTask constructs an Asynq task for a layer rebuild run.
func NewLayerRebuildTask(payload LayerRebuildPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCostingLayerRebuild, body, asynq.Queue(QueueDefault)), nil
}

// ValuationWarmupPayload carries scheduling metadata.
type ValuationWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewValuationWarmupTask constructs an Asynq task for cache warmup.
func NewValuationWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ValuationWarmupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskValuationWarmup, body, asynq.Queue(QueueDefault)), nil
}
