package app

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/config"
	"almanac/internal/order"
	"almanac/internal/recurrence"
	"almanac/internal/storage"
	"almanac/internal/wake"
	logx "almanac/pkg/logx"
)

func TestOfflineAddAssignsIDsAboveStored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.Save(ctx, order.WorkOrder{ID: 120, Tag: "x", StartTime: ms(9000)}))
	x := NewOffline(st, recurrence.NewManualClock(ms(2000)), 100)

	id, err := x.Add(ctx, order.WorkOrder{ID: order.NoID, Tag: "x", StartTime: ms(5000)})
	require.NoError(t, err)
	assert.Equal(t, order.ID(121), id)

	id, err = x.Add(ctx, order.WorkOrder{ID: order.NoID, Tag: "x", StartTime: ms(1000)})
	require.NoError(t, err)
	assert.Equal(t, order.DeadID, id)

	orders, err := x.Orders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	n, err := x.RemoveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	orders, err = x.Orders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOfflinePreview(t *testing.T) {
	t.Parallel()

	x := NewOffline(storage.NewMemory(), recurrence.NewManualClock(ms(2000)), 1)
	occ := x.Preview(order.WorkOrder{Tag: "x", StartTime: ms(1000), Interval: time.Second}, 3)
	require.Len(t, occ, 3)
	assert.True(t, ms(2000).Equal(occ[0].At))
	assert.True(t, ms(4000).Equal(occ[2].At))
}

func TestOpenOfflineMemory(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: "memory"}
	x, err := OpenOffline(cfg, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), x.offset)
	require.NoError(t, x.Close())
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "./almanac.db", BusyTimeout: time.Second}, sc)

	cfg.Storage = config.StorageConfig{Driver: "oracle", Path: "x"}
	_, err = mapStorageConfig(cfg)
	assert.True(t, errors.Is(err, storage.ErrUnknownDriver))
}

func TestMapClockOffset(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Scheduler.ClockOffset = "-1h"
	clock, off, err := mapClock(cfg)
	require.NoError(t, err)
	assert.Equal(t, -time.Hour, off)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), clock.Now(), time.Minute)
}

func TestMapWakeConfigDefaultsToTwoMinutes(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Wake.MaxHold = ""
	wc, err := mapWakeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, wc.MaxHold)
	assert.Equal(t, wake.DefaultMaxHold, wc.MaxHold)

	cfg.Wake.MaxHold = "30s"
	wc, err = mapWakeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, wc.MaxHold)
}
