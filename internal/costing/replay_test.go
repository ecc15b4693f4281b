package costing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRebuildMatchesLiveStore(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedPurchases(t, svc, "widget")
	_, err := svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("120"), Code: "S1"})
	require.NoError(t, err)
	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{ItemID: "widget", Quantity: dec("30"), UnitCost: dec("26.00"), Code: "A1"})
	require.NoError(t, err)
	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{ItemID: "widget", Quantity: dec("-10"), Code: "A2"})
	require.NoError(t, err)

	live := copyLayers(repo.layers["widget"])

	rebuilt, err := Rebuild(ctx, repo.entries["widget"])
	require.NoError(t, err)
	require.Len(t, rebuilt, len(live))
	for i := range live {
		require.Equal(t, live[i].ID, rebuilt[i].ID)
		require.True(t, live[i].Remaining.Equal(rebuilt[i].Remaining), "layer %s: live %s vs rebuilt %s", live[i].ID, live[i].Remaining, rebuilt[i].Remaining)
		require.True(t, live[i].UnitCost.Equal(rebuilt[i].UnitCost))
	}
}

func TestRebuildRepeatable(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedPurchases(t, svc, "widget")
	_, err := svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("60"), Code: "S1"})
	require.NoError(t, err)

	once, err := Rebuild(ctx, repo.entries["widget"])
	require.NoError(t, err)
	twice, err := Rebuild(ctx, repo.entries["widget"])
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestRebuildUsesRecordedTakesAfterMethodSwitch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedPurchases(t, svc, "widget")
	_, err := svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("50"), Code: "S1"})
	require.NoError(t, err)
	require.NoError(t, svc.SetCostingMethod(ctx, "widget", MethodLIFO, 0))

	// Replay must keep the FIFO allocation recorded before the switch, not
	// re-run history under LIFO.
	rebuilt, err := Rebuild(ctx, repo.entries["widget"])
	require.NoError(t, err)
	require.True(t, rebuilt[0].Remaining.Equal(dec("50")))
	require.True(t, rebuilt[1].Remaining.Equal(dec("75")))
}

func TestRebuildItemReplacesStore(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedPurchases(t, svc, "widget")
	_, err := svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("120"), Code: "S1"})
	require.NoError(t, err)

	// Corrupt the materialized view, then rebuild from the ledger.
	repo.layers["widget"][1].Remaining = dec("9999")
	require.NoError(t, svc.RebuildItem(ctx, "widget"))
	require.True(t, repo.layers["widget"][1].Remaining.Equal(dec("55")))
}

func TestRebuildOverDepletionFails(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{ID: "E1", ItemID: "widget", Seq: 1, RecordedAt: now, Type: EntryPurchase, Quantity: dec("10"), UnitCost: dec("5.00"), Layers: []EntryLayer{{LayerID: "L1", Quantity: dec("10")}}},
		{ID: "E2", ItemID: "widget", Seq: 2, RecordedAt: now, Type: EntrySale, Quantity: dec("-12"), Layers: []EntryLayer{{LayerID: "L1", Quantity: dec("12")}}},
	}
	_, err := Rebuild(context.Background(), entries)
	require.ErrorIs(t, err, ErrInsufficientLayerQuantity)
}

func TestRebuildUnknownLayerFails(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{ID: "E1", ItemID: "widget", Seq: 1, RecordedAt: now, Type: EntrySale, Quantity: dec("-1"), Layers: []EntryLayer{{LayerID: "missing", Quantity: dec("1")}}},
	}
	_, err := Rebuild(context.Background(), entries)
	require.ErrorIs(t, err, ErrInsufficientLayerQuantity)
}

func TestRebuildHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	now := time.Now()
	entries := []Entry{
		{ID: "E1", ItemID: "widget", Seq: 1, RecordedAt: now, Type: EntryPurchase, Quantity: dec("10"), UnitCost: dec("5.00"), Layers: []EntryLayer{{LayerID: "L1", Quantity: dec("10")}}},
	}
	_, err := Rebuild(ctx, entries)
	require.ErrorIs(t, err, context.Canceled)
}
