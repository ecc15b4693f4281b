package costing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestItemLocksSerializePerItem(t *testing.T) {
	locks := NewItemLocks(time.Second)
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "widget")
	require.NoError(t, err)

	// A different item is not blocked.
	other, err := locks.Acquire(ctx, "gadget")
	require.NoError(t, err)
	other()

	var acquired sync.WaitGroup
	acquired.Add(1)
	go func() {
		defer acquired.Done()
		second, err := locks.Acquire(ctx, "widget")
		require.NoError(t, err)
		second()
	}()
	release()
	acquired.Wait()
}

func TestItemLocksTimeout(t *testing.T) {
	locks := NewItemLocks(20 * time.Millisecond)
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "widget")
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = locks.Acquire(ctx, "widget")
	require.ErrorIs(t, err, ErrLockTimeout)
	require.Less(t, time.Since(start), time.Second)
}
