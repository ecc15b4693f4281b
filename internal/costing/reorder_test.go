package costing

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newReorderService(repo *memoryRepo, buf *bytes.Buffer) *Service {
	logger := slog.New(slog.NewTextHandler(buf, nil))
	alerter := NewReorderAlerter(repo, logger)
	return NewService(repo, nil, nil, NewItemLocks(time.Second), nil, alerter)
}

func TestReorderAlertFiresBelowThreshold(t *testing.T) {
	repo := newMemoryRepo()
	buf := new(bytes.Buffer)
	svc := newReorderService(repo, buf)
	ctx := context.Background()

	seedPurchases(t, svc, "widget")
	item := repo.items["widget"]
	item.ReorderPoint = dec("60")
	repo.items["widget"] = item

	_, err := svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("120"), Code: "S1"})
	require.NoError(t, err)

	require.Contains(t, buf.String(), "item below reorder point")
	require.Contains(t, buf.String(), "on_hand=55")
}

func TestReorderAlertSilentAboveThreshold(t *testing.T) {
	repo := newMemoryRepo()
	buf := new(bytes.Buffer)
	svc := newReorderService(repo, buf)
	ctx := context.Background()

	seedPurchases(t, svc, "widget")
	item := repo.items["widget"]
	item.ReorderPoint = dec("30")
	repo.items["widget"] = item

	_, err := svc.RecordSale(ctx, SaleInput{ItemID: "widget", Quantity: dec("120"), Code: "S1"})
	require.NoError(t, err)
	require.Empty(t, buf.String())
}

func TestReorderAlertIgnoresInbound(t *testing.T) {
	repo := newMemoryRepo()
	buf := new(bytes.Buffer)
	svc := newReorderService(repo, buf)
	ctx := context.Background()

	_, err := svc.RecordPurchase(ctx, PurchaseInput{ItemID: "widget", Quantity: dec("5"), UnitCost: dec("1.00"), Code: "P1"})
	require.NoError(t, err)
	require.Empty(t, buf.String())
}
