package costing

import (
	"context"
	"fmt"
)

// Rebuild folds an item's entry history, in sequence order, into the layer
// view it implies. The fold applies the layer linkage each entry recorded at
// posting time rather than re-running today's policy: a point-in-time method
// switch changes future consumption only, so history must replay exactly as
// it was costed. The result is therefore a pure, deterministic function of
// the entry sequence.
//
// Cancellation is honoured between entries, never mid-entry, so a partial
// result is never produced.
func Rebuild(ctx context.Context, entries []Entry) ([]Layer, error) {
	var layers []Layer
	index := make(map[string]int)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Inbound() {
			if len(entry.Layers) != 1 {
				return nil, fmt.Errorf("costing: entry %s seq %d: inbound entry must create exactly one layer", entry.ID, entry.Seq)
			}
			link := entry.Layers[0]
			layer := Layer{
				ID:        link.LayerID,
				ItemID:    entry.ItemID,
				Remaining: link.Quantity,
				UnitCost:  entry.UnitCost,
				Seq:       entry.Seq,
				LotID:     entry.LotID,
			}
			index[layer.ID] = len(layers)
			layers = append(layers, layer)
			continue
		}
		for _, link := range entry.Layers {
			i, ok := index[link.LayerID]
			if !ok {
				return nil, fmt.Errorf("costing: entry %s seq %d references unknown layer %s: %w", entry.ID, entry.Seq, link.LayerID, ErrInsufficientLayerQuantity)
			}
			if link.Quantity.GreaterThan(layers[i].Remaining) {
				return nil, fmt.Errorf("costing: entry %s seq %d over-depletes layer %s: %w", entry.ID, entry.Seq, link.LayerID, ErrInsufficientLayerQuantity)
			}
			layers[i].Remaining = layers[i].Remaining.Sub(link.Quantity)
		}
	}
	return layers, nil
}
