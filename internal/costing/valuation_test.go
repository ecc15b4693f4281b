package costing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCurrentValue(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedPurchases(t, svc, "widget")

	valuation, err := svc.CurrentValue(ctx, "widget", false)
	require.NoError(t, err)
	// 100*24 + 75*27
	require.True(t, valuation.Value.Equal(dec("4425")), "got %s", valuation.Value)
	require.True(t, valuation.Quantity.Equal(dec("175")))

	_, err = svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("120"), Code: "S1"})
	require.NoError(t, err)

	valuation, err = svc.CurrentValue(ctx, "widget", false)
	require.NoError(t, err)
	// 55*27
	require.True(t, valuation.Value.Equal(dec("1485")), "got %s", valuation.Value)
}

func TestCurrentValueExcludesUnavailableLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.RecordPurchase(ctx, PurchaseInput{ItemID: "serum", Quantity: dec("10"), UnitCost: dec("40.00"), LotID: "LOT-A", Code: "P1"})
	require.NoError(t, err)
	_, err = svc.RecordPurchase(ctx, PurchaseInput{ItemID: "serum", Quantity: dec("5"), UnitCost: dec("44.00"), Code: "P2"})
	require.NoError(t, err)
	_, err = svc.SetLotStatus(ctx, "LOT-A", LotQuarantine, 0)
	require.NoError(t, err)

	all, err := svc.CurrentValue(ctx, "serum", false)
	require.NoError(t, err)
	require.True(t, all.Value.Equal(dec("620")), "quarantined stock still counts by default, got %s", all.Value)

	available, err := svc.CurrentValue(ctx, "serum", true)
	require.NoError(t, err)
	require.True(t, available.Value.Equal(dec("220")), "got %s", available.Value)
	require.True(t, available.Quantity.Equal(dec("5")))
}

func TestValueAsOf(t *testing.T) {
	repo := newMemoryRepo()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(repo)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := svc.RecordPurchase(ctx, PurchaseInput{ItemID: "widget", Quantity: dec("100"), UnitCost: dec("24.00"), Code: "P1"})
	require.NoError(t, err)
	afterFirst := clock

	clock = clock.Add(24 * time.Hour)
	_, err = svc.RecordPurchase(ctx, PurchaseInput{ItemID: "widget", Quantity: dec("75"), UnitCost: dec("27.00"), Code: "P2"})
	require.NoError(t, err)

	clock = clock.Add(24 * time.Hour)
	_, err = svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("120"), Code: "S1"})
	require.NoError(t, err)

	snapshot, err := svc.ValueAsOf(ctx, "widget", afterFirst)
	require.NoError(t, err)
	require.True(t, snapshot.Value.Equal(dec("2400")), "got %s", snapshot.Value)
	require.True(t, snapshot.Quantity.Equal(dec("100")))

	snapshot, err = svc.ValueAsOf(ctx, "widget", clock)
	require.NoError(t, err)
	require.True(t, snapshot.Value.Equal(dec("1485")), "got %s", snapshot.Value)
}

func TestUnitCostBasis(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedPurchases(t, svc, "widget")

	basis, err := svc.UnitCostBasis(ctx, "widget")
	require.NoError(t, err)
	require.True(t, basis.Equal(dec("24.00")), "FIFO basis is the oldest open layer")

	require.NoError(t, svc.SetCostingMethod(ctx, "widget", MethodLIFO, 0))
	basis, err = svc.UnitCostBasis(ctx, "widget")
	require.NoError(t, err)
	require.True(t, basis.Equal(dec("27.00")))

	require.NoError(t, svc.SetCostingMethod(ctx, "widget", MethodAverage, 0))
	basis, err = svc.UnitCostBasis(ctx, "widget")
	require.NoError(t, err)
	require.True(t, basis.Sub(dec("25.2857")).Abs().LessThan(dec("0.001")), "got %s", basis)

	basis, err = svc.UnitCostBasis(ctx, "empty-item")
	require.ErrorIs(t, err, ErrItemNotFound)
	require.True(t, basis.IsZero())
}
