package costing

import (
	"context"
	"log/slog"
)

// ReorderAlerter watches committed entries and logs a warning when an
// outbound movement drops an item's on-hand quantity below its reorder point.
type ReorderAlerter struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewReorderAlerter builds the alerter.
func NewReorderAlerter(repo RepositoryPort, logger *slog.Logger) *ReorderAlerter {
	return &ReorderAlerter{repo: repo, logger: logger}
}

// HandleEntryRecorded implements IntegrationHandler.
func (a *ReorderAlerter) HandleEntryRecorded(ctx context.Context, evt EntryRecordedEvent) error {
	if evt.Quantity.Sign() >= 0 {
		return nil
	}
	item, err := a.repo.GetItem(ctx, evt.ItemID)
	if err != nil {
		return err
	}
	if item.ReorderPoint.IsZero() || evt.OnHandAfter.GreaterThanOrEqual(item.ReorderPoint) {
		return nil
	}
	a.logger.Warn("item below reorder point",
		slog.String("item_id", evt.ItemID),
		slog.String("on_hand", evt.OnHandAfter.String()),
		slog.String("reorder_point", item.ReorderPoint.String()),
		slog.String("entry_id", evt.EntryID),
	)
	return nil
}
