package costing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func twoPurchaseLayers() []Layer {
	return []Layer{
		{ID: "L1", ItemID: "widget", Remaining: dec("100"), UnitCost: dec("24.00"), Seq: 1},
		{ID: "L2", ItemID: "widget", Remaining: dec("75"), UnitCost: dec("27.00"), Seq: 2},
	}
}

func TestFIFOConsumesOldestFirst(t *testing.T) {
	policy, err := PolicyFor(MethodFIFO)
	require.NoError(t, err)

	takes, unitCost, err := policy.Consume(ConsumeInput{
		Layers:   twoPurchaseLayers(),
		Quantity: dec("120"),
		AsOf:     time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, takes, 2)
	require.Equal(t, "L1", takes[0].LayerID)
	require.True(t, takes[0].Quantity.Equal(dec("100")))
	require.Equal(t, "L2", takes[1].LayerID)
	require.True(t, takes[1].Quantity.Equal(dec("20")))
	// (100*24 + 20*27)/120
	require.True(t, unitCost.Equal(dec("24.50")), "got %s", unitCost)
}

func TestLIFOConsumesNewestFirst(t *testing.T) {
	policy, err := PolicyFor(MethodLIFO)
	require.NoError(t, err)

	takes, unitCost, err := policy.Consume(ConsumeInput{
		Layers:   twoPurchaseLayers(),
		Quantity: dec("120"),
		AsOf:     time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, takes, 2)
	require.Equal(t, "L2", takes[0].LayerID)
	require.True(t, takes[0].Quantity.Equal(dec("75")))
	require.Equal(t, "L1", takes[1].LayerID)
	require.True(t, takes[1].Quantity.Equal(dec("45")))
	// (75*27 + 45*24)/120
	require.True(t, unitCost.Equal(dec("25.875")), "got %s", unitCost)
}

func TestAverageUsesPoolRate(t *testing.T) {
	policy, err := PolicyFor(MethodAverage)
	require.NoError(t, err)

	takes, unitCost, err := policy.Consume(ConsumeInput{
		Layers:   twoPurchaseLayers(),
		Quantity: dec("120"),
		AsOf:     time.Now(),
	})
	require.NoError(t, err)
	// (100*24 + 75*27)/175
	expected := dec("4425").Div(dec("175"))
	require.True(t, unitCost.Sub(expected).Abs().LessThan(dec("0.0001")), "got %s", unitCost)
	for _, take := range takes {
		require.True(t, take.UnitCost.Equal(unitCost), "every take carries the pool rate")
	}
}

func TestAverageRateUnchangedByWithdrawal(t *testing.T) {
	policy, err := PolicyFor(MethodAverage)
	require.NoError(t, err)

	layers := twoPurchaseLayers()
	takes, first, err := policy.Consume(ConsumeInput{Layers: layers, Quantity: dec("50"), AsOf: time.Now()})
	require.NoError(t, err)
	for _, take := range takes {
		for i := range layers {
			if layers[i].ID == take.LayerID {
				layers[i].Remaining = layers[i].Remaining.Sub(take.Quantity)
			}
		}
	}

	_, second, err := policy.Consume(ConsumeInput{Layers: layers, Quantity: dec("50"), AsOf: time.Now()})
	require.NoError(t, err)
	require.True(t, first.Sub(second).Abs().LessThan(dec("0.0001")), "withdrawal at the pool rate must not move the rate")
}

func TestInsufficientStock(t *testing.T) {
	for _, method := range []Method{MethodFIFO, MethodLIFO, MethodAverage} {
		policy, err := PolicyFor(method)
		require.NoError(t, err)
		_, _, err = policy.Consume(ConsumeInput{
			Layers:   twoPurchaseLayers(),
			Quantity: dec("176"),
			AsOf:     time.Now(),
		})
		require.ErrorIs(t, err, ErrInsufficientStock, "method %s", method)
	}
}

func TestQuarantinedLotExcludedFromConsumption(t *testing.T) {
	layers := []Layer{
		{ID: "L1", ItemID: "widget", Remaining: dec("10"), UnitCost: dec("5.00"), Seq: 1, LotID: "LOT-1"},
		{ID: "L2", ItemID: "widget", Remaining: dec("10"), UnitCost: dec("6.00"), Seq: 2},
	}
	lots := map[string]Lot{
		"LOT-1": {ID: "LOT-1", ItemID: "widget", Status: LotQuarantine},
	}
	policy, err := PolicyFor(MethodFIFO)
	require.NoError(t, err)

	takes, _, err := policy.Consume(ConsumeInput{Layers: layers, Lots: lots, Quantity: dec("10"), AsOf: time.Now()})
	require.NoError(t, err)
	require.Len(t, takes, 1)
	require.Equal(t, "L2", takes[0].LayerID)

	_, _, err = policy.Consume(ConsumeInput{Layers: layers, Lots: lots, Quantity: dec("11"), AsOf: time.Now()})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestExpiredLotExcludedFromConsumption(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	layers := []Layer{
		{ID: "L1", ItemID: "widget", Remaining: dec("10"), UnitCost: dec("5.00"), Seq: 1, LotID: "LOT-1"},
	}
	lots := map[string]Lot{
		"LOT-1": {ID: "LOT-1", ItemID: "widget", Status: LotAvailable, ExpiresAt: &past},
	}
	policy, err := PolicyFor(MethodFIFO)
	require.NoError(t, err)
	_, _, err = policy.Consume(ConsumeInput{Layers: layers, Lots: lots, Quantity: dec("1"), AsOf: time.Now()})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestSpecificRequiresLot(t *testing.T) {
	policy, err := PolicyFor(MethodSpecific)
	require.NoError(t, err)
	_, _, err = policy.Consume(ConsumeInput{Layers: twoPurchaseLayers(), Quantity: dec("1"), AsOf: time.Now()})
	require.ErrorIs(t, err, ErrLotRequired)
}

func TestSpecificRejectsUnavailableLot(t *testing.T) {
	layers := []Layer{
		{ID: "L1", ItemID: "widget", Remaining: dec("10"), UnitCost: dec("5.00"), Seq: 1, LotID: "LOT-1"},
	}
	policy, err := PolicyFor(MethodSpecific)
	require.NoError(t, err)

	lots := map[string]Lot{"LOT-1": {ID: "LOT-1", ItemID: "widget", Status: LotQuarantine}}
	_, _, err = policy.Consume(ConsumeInput{Layers: layers, Lots: lots, Quantity: dec("1"), LotID: "LOT-1", AsOf: time.Now()})
	require.ErrorIs(t, err, ErrLotNotAvailable)

	// Over-draw against an available lot is the same failure, not a partial take.
	lots["LOT-1"] = Lot{ID: "LOT-1", ItemID: "widget", Status: LotAvailable}
	_, _, err = policy.Consume(ConsumeInput{Layers: layers, Lots: lots, Quantity: dec("11"), LotID: "LOT-1", AsOf: time.Now()})
	require.ErrorIs(t, err, ErrLotNotAvailable)
}

func TestSpecificTakesExactLot(t *testing.T) {
	layers := []Layer{
		{ID: "L1", ItemID: "widget", Remaining: dec("10"), UnitCost: dec("5.00"), Seq: 1, LotID: "LOT-1"},
		{ID: "L2", ItemID: "widget", Remaining: dec("10"), UnitCost: dec("6.00"), Seq: 2, LotID: "LOT-2"},
	}
	lots := map[string]Lot{
		"LOT-1": {ID: "LOT-1", ItemID: "widget", Status: LotAvailable},
		"LOT-2": {ID: "LOT-2", ItemID: "widget", Status: LotAvailable},
	}
	policy, err := PolicyFor(MethodSpecific)
	require.NoError(t, err)

	takes, unitCost, err := policy.Consume(ConsumeInput{Layers: layers, Lots: lots, Quantity: dec("4"), LotID: "LOT-2", AsOf: time.Now()})
	require.NoError(t, err)
	require.Len(t, takes, 1)
	require.Equal(t, "L2", takes[0].LayerID)
	require.True(t, unitCost.Equal(dec("6.00")))
}

func TestPolicyForInvalidMethod(t *testing.T) {
	_, err := PolicyFor(Method("RETAIL"))
	require.ErrorIs(t, err, ErrInvalidMethod)
}
