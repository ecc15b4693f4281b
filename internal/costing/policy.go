package costing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Take records a single depletion against one layer.
type Take struct {
	LayerID  string
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// ConsumeInput carries everything a policy needs to cost a withdrawal.
// Layers arrive in creation order; policies must not mutate them.
type ConsumeInput struct {
	Layers   []Layer
	Lots     map[string]Lot
	Quantity decimal.Decimal
	LotID    string
	AsOf     time.Time
}

// Policy selects which layers a withdrawal consumes and computes the
// quantity-weighted unit cost of the withdrawal. Implementations are pure
// functions of their input: no clock, no I/O, no hidden state.
type Policy interface {
	Method() Method
	Consume(in ConsumeInput) ([]Take, decimal.Decimal, error)
}

// PolicyFor returns the policy implementation for the given method.
func PolicyFor(m Method) (Policy, error) {
	switch m {
	case MethodFIFO:
		return fifoPolicy{}, nil
	case MethodLIFO:
		return lifoPolicy{}, nil
	case MethodAverage:
		return averagePolicy{}, nil
	case MethodSpecific:
		return specificPolicy{}, nil
	default:
		return nil, ErrInvalidMethod
	}
}

// eligible reports whether a layer may be consumed automatically: it must be
// open and, when lot-tracked, its lot must be effectively available as of the
// withdrawal time (expiry is checked lazily here, not by a background clock).
func eligible(layer Layer, lots map[string]Lot, asOf time.Time) bool {
	if !layer.Open() {
		return false
	}
	if layer.LotID == "" {
		return true
	}
	lot, ok := lots[layer.LotID]
	if !ok {
		return false
	}
	return EffectiveStatus(lot, asOf) == LotAvailable
}

// weightedUnitCost divides the accumulated cost by the withdrawal quantity.
func weightedUnitCost(takes []Take, qty decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, t := range takes {
		total = total.Add(t.Quantity.Mul(t.UnitCost))
	}
	return total.Div(qty)
}

// walk consumes layers in the supplied order until qty is covered.
func walk(layers []Layer, lots map[string]Lot, qty decimal.Decimal, asOf time.Time) ([]Take, error) {
	remaining := qty
	var takes []Take
	for _, layer := range layers {
		if remaining.Sign() == 0 {
			break
		}
		if !eligible(layer, lots, asOf) {
			continue
		}
		take := decimal.Min(remaining, layer.Remaining)
		takes = append(takes, Take{LayerID: layer.ID, Quantity: take, UnitCost: layer.UnitCost})
		remaining = remaining.Sub(take)
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientStock
	}
	return takes, nil
}

type fifoPolicy struct{}

func (fifoPolicy) Method() Method { return MethodFIFO }

func (fifoPolicy) Consume(in ConsumeInput) ([]Take, decimal.Decimal, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, decimal.Zero, ErrInvalidQuantity
	}
	takes, err := walk(in.Layers, in.Lots, in.Quantity, in.AsOf)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return takes, weightedUnitCost(takes, in.Quantity), nil
}

type lifoPolicy struct{}

func (lifoPolicy) Method() Method { return MethodLIFO }

func (lifoPolicy) Consume(in ConsumeInput) ([]Take, decimal.Decimal, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, decimal.Zero, ErrInvalidQuantity
	}
	reversed := make([]Layer, len(in.Layers))
	for i, layer := range in.Layers {
		reversed[len(in.Layers)-1-i] = layer
	}
	takes, err := walk(reversed, in.Lots, in.Quantity, in.AsOf)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return takes, weightedUnitCost(takes, in.Quantity), nil
}

// averagePolicy exposes the item as a single average-cost pool. Physical
// layers are still depleted oldest-first so the audit trail stays layered,
// but every take is costed at the pool rate.
type averagePolicy struct{}

func (averagePolicy) Method() Method { return MethodAverage }

func (averagePolicy) Consume(in ConsumeInput) ([]Take, decimal.Decimal, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, decimal.Zero, ErrInvalidQuantity
	}
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for _, layer := range in.Layers {
		if !eligible(layer, in.Lots, in.AsOf) {
			continue
		}
		totalQty = totalQty.Add(layer.Remaining)
		totalValue = totalValue.Add(layer.Value())
	}
	if in.Quantity.GreaterThan(totalQty) {
		return nil, decimal.Zero, ErrInsufficientStock
	}
	avg := totalValue.Div(totalQty)
	takes, err := walk(in.Layers, in.Lots, in.Quantity, in.AsOf)
	if err != nil {
		return nil, decimal.Zero, err
	}
	for i := range takes {
		takes[i].UnitCost = avg
	}
	return takes, avg, nil
}

// specificPolicy deducts from the exact lot named by the caller. No fallback
// to other layers is performed.
type specificPolicy struct{}

func (specificPolicy) Method() Method { return MethodSpecific }

func (specificPolicy) Consume(in ConsumeInput) ([]Take, decimal.Decimal, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, decimal.Zero, ErrInvalidQuantity
	}
	if in.LotID == "" {
		return nil, decimal.Zero, ErrLotRequired
	}
	lot, ok := in.Lots[in.LotID]
	if !ok {
		return nil, decimal.Zero, ErrLotNotFound
	}
	if EffectiveStatus(lot, in.AsOf) != LotAvailable {
		return nil, decimal.Zero, ErrLotNotAvailable
	}
	for _, layer := range in.Layers {
		if layer.LotID != in.LotID {
			continue
		}
		if in.Quantity.GreaterThan(layer.Remaining) {
			return nil, decimal.Zero, ErrLotNotAvailable
		}
		take := Take{LayerID: layer.ID, Quantity: in.Quantity, UnitCost: layer.UnitCost}
		return []Take{take}, layer.UnitCost, nil
	}
	return nil, decimal.Zero, ErrLotNotAvailable
}
