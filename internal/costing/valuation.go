package costing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Valuation is the cached payload for a current-value query.
type Valuation struct {
	ItemID   string          `json:"item_id"`
	Value    decimal.Decimal `json:"value"`
	Quantity decimal.Decimal `json:"quantity"`
}

// CurrentValue sums remaining quantity times unit cost over the item's open
// layers. With excludeNonAvailable set, layers backed by quarantined or
// expired lots are left out; by default they still count toward on-hand
// value. Reads take the same per-item lock as writers so they observe a
// consistent snapshot; results are served from the redis cache when present.
func (s *Service) CurrentValue(ctx context.Context, itemID string, excludeNonAvailable bool) (Valuation, error) {
	if itemID == "" {
		return Valuation{}, errors.New("costing: item required")
	}
	loader := func(ctx context.Context) (interface{}, error) {
		return s.loadCurrentValue(ctx, itemID, excludeNonAvailable)
	}
	if s.cache == nil {
		v, err := s.loadCurrentValue(ctx, itemID, excludeNonAvailable)
		if err != nil {
			return Valuation{}, err
		}
		return v, nil
	}
	key, err := s.cache.BuildKey(ctx, "costing", "value", itemID, strconv.FormatBool(excludeNonAvailable))
	if err != nil {
		return Valuation{}, err
	}
	var out Valuation
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return Valuation{}, err
	}
	return out, nil
}

func (s *Service) loadCurrentValue(ctx context.Context, itemID string, excludeNonAvailable bool) (Valuation, error) {
	release, err := s.locks.Acquire(ctx, itemID)
	if err != nil {
		return Valuation{}, err
	}
	defer release()

	layers, err := s.repo.ListLayers(ctx, itemID)
	if err != nil {
		return Valuation{}, err
	}
	lots, err := s.repo.ListLots(ctx, itemID)
	if err != nil {
		return Valuation{}, err
	}
	now := s.now().UTC()
	value := decimal.Zero
	qty := decimal.Zero
	for _, layer := range layers {
		if !layer.Open() {
			continue
		}
		if excludeNonAvailable && layer.LotID != "" {
			lot, ok := lots[layer.LotID]
			if !ok || EffectiveStatus(lot, now) != LotAvailable {
				continue
			}
		}
		value = value.Add(layer.Value())
		qty = qty.Add(layer.Remaining)
	}
	return Valuation{ItemID: itemID, Value: value, Quantity: qty}, nil
}

// ValueAsOf replays the item's entry history through the given instant and
// values the layers it implies. Replay is a pure function of the entry
// sequence, so the same history always yields the same snapshot. The context
// is checked between entry replays.
func (s *Service) ValueAsOf(ctx context.Context, itemID string, at time.Time) (Valuation, error) {
	if itemID == "" {
		return Valuation{}, errors.New("costing: item required")
	}
	entries, err := s.repo.ListEntriesThrough(ctx, itemID, at)
	if err != nil {
		return Valuation{}, err
	}
	layers, err := Rebuild(ctx, entries)
	if err != nil {
		return Valuation{}, fmt.Errorf("costing: value as of %s: %w", at.Format(time.RFC3339), err)
	}
	value := decimal.Zero
	qty := decimal.Zero
	for _, layer := range layers {
		value = value.Add(layer.Value())
		qty = qty.Add(layer.Remaining)
	}
	return Valuation{ItemID: itemID, Value: value, Quantity: qty}, nil
}

// Layers lists an item's cost layers in creation order, exhausted layers
// included.
func (s *Service) Layers(ctx context.Context, itemID string) ([]Layer, error) {
	if itemID == "" {
		return nil, errors.New("costing: item required")
	}
	return s.repo.ListLayers(ctx, itemID)
}

// UnitCostBasis returns the item's current unit cost under its own policy:
// the oldest open layer for FIFO, the newest for LIFO, and the weighted
// average of remaining layers otherwise. Assemblies use this as the live
// component valuation basis.
func (s *Service) UnitCostBasis(ctx context.Context, itemID string) (decimal.Decimal, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	layers, err := s.repo.ListLayers(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	open := make([]Layer, 0, len(layers))
	for _, layer := range layers {
		if layer.Open() {
			open = append(open, layer)
		}
	}
	if len(open) == 0 {
		return decimal.Zero, nil
	}
	switch item.Method {
	case MethodFIFO:
		return open[0].UnitCost, nil
	case MethodLIFO:
		return open[len(open)-1].UnitCost, nil
	default:
		total := decimal.Zero
		qty := decimal.Zero
		for _, layer := range open {
			total = total.Add(layer.Value())
			qty = qty.Add(layer.Remaining)
		}
		return total.Div(qty), nil
	}
}
