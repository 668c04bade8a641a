package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

var plus7 = time.FixedZone("+07:00", 7*3600)

func sampleOrder(t *testing.T, id order.ID) order.WorkOrder {
	t.Helper()
	o, err := order.New("remind").
		ID(id).
		StartAt(time.Date(2024, 3, 4, 8, 0, 0, 123, plus7)).
		EndAt(time.Date(2024, 6, 4, 8, 0, 0, 0, plus7)).
		On(time.Monday, time.Friday).
		Every(order.Week).
		Put("msg", "stand-up").
		Put("count", 2).
		Build()
	require.NoError(t, err)
	return o
}

func assertSameOrder(t *testing.T, want, got order.WorkOrder) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Tag, got.Tag)
	assert.Equal(t, want.Payload, got.Payload)
	assert.True(t, want.StartTime.Equal(got.StartTime), "start %v != %v", got.StartTime, want.StartTime)
	_, wo := want.StartTime.Zone()
	_, gotOff := got.StartTime.Zone()
	assert.Equal(t, wo, gotOff, "start offset")
	assert.True(t, want.EndTime.Equal(got.EndTime), "end %v != %v", got.EndTime, want.EndTime)
	assert.Equal(t, want.Days, got.Days)
	assert.Equal(t, want.Interval, got.Interval)
}

type storeFactory func(t *testing.T) Store

func drivers() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "almanac.db"), CompactEvery: 3}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			o1 := sampleOrder(t, 1)
			require.NoError(t, st.Save(ctx, o1))
			got, ok, err := st.Find(ctx, 1)
			require.NoError(t, err)
			require.True(t, ok)
			assertSameOrder(t, o1, got)

			_, ok, err = st.Find(ctx, 99)
			require.NoError(t, err)
			assert.False(t, ok)

			// replacement keeps one row per id
			o1b := o1
			o1b.Tag = "remind-v2"
			o1b.EndTime = time.Time{}
			require.NoError(t, st.Save(ctx, o1b))
			got, _, err = st.Find(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "remind-v2", got.Tag)
			assert.False(t, got.HasEnd())

			oneShot := order.WorkOrder{ID: 2, Tag: "ping", StartTime: time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)}
			o3 := sampleOrder(t, 3)
			require.NoError(t, st.SaveAll(ctx, []order.WorkOrder{o3, oneShot}))

			list, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []order.ID{1, 2, 3}, []order.ID{list[0].ID, list[1].ID, list[2].ID})
			assert.Nil(t, list[1].Payload)

			mon := time.Monday
			ev := order.Event{
				WorkID:        3,
				ScheduledTime: time.Date(2024, 3, 4, 8, 0, 0, 0, plus7),
				DeliveredTime: time.Date(2024, 3, 4, 8, 0, 1, 0, plus7),
				Day:           &mon,
				Kind:          order.EventSuccess,
			}
			require.NoError(t, st.AppendEvent(ctx, ev))
			require.NoError(t, st.AppendEvent(ctx, order.Event{WorkID: 3, ScheduledTime: ev.ScheduledTime, DeliveredTime: ev.DeliveredTime, Kind: order.EventNoHandler, Detail: "no handler for tag remind"}))
			require.NoError(t, st.AppendEvent(ctx, order.Event{WorkID: 2, ScheduledTime: ev.ScheduledTime, DeliveredTime: ev.DeliveredTime, Kind: order.EventSuccess}))

			events, err := st.Events(ctx, 3)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, order.EventSuccess, events[0].Kind)
			require.NotNil(t, events[0].Day)
			assert.Equal(t, time.Monday, *events[0].Day)
			assert.True(t, ev.DeliveredTime.Equal(events[0].DeliveredTime))
			assert.Equal(t, order.EventNoHandler, events[1].Kind)
			assert.Nil(t, events[1].Day)
			assert.Equal(t, "no handler for tag remind", events[1].Detail)

			require.NoError(t, st.Delete(ctx, 3))
			events, err = st.Events(ctx, 3)
			require.NoError(t, err)
			assert.Empty(t, events, "deleting an order purges its events")
			require.NoError(t, st.Delete(ctx, 3))

			require.NoError(t, st.DeleteAll(ctx, []order.ID{1, 2, 42}))
			list, err = st.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")
	for _, every := range []int{2, 1000} {
		st, err := Open(Config{Driver: "file", Path: path, CompactEvery: every}, logx.Nop())
		require.NoError(t, err)
		require.NoError(t, st.DeleteAll(ctx, []order.ID{1, 2, 3}))
		require.NoError(t, st.SaveAll(ctx, []order.WorkOrder{sampleOrder(t, 1), sampleOrder(t, 2), sampleOrder(t, 3)}))
		require.NoError(t, st.Delete(ctx, 2))
		require.NoError(t, st.AppendEvent(ctx, order.Event{WorkID: 1, ScheduledTime: time.Now(), DeliveredTime: time.Now(), Kind: order.EventSuccess}))
		require.NoError(t, st.Close())

		st, err = Open(Config{Driver: "file", Path: path, CompactEvery: every}, logx.Nop())
		require.NoError(t, err)
		list, err := st.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assertSameOrder(t, sampleOrder(t, 1), list[0])
		assert.Equal(t, order.ID(3), list[1].ID)
		events, err := st.Events(ctx, 1)
		require.NoError(t, err)
		assert.NotEmpty(t, events)
		require.NoError(t, st.Close())
	}
}

func TestClosedStores(t *testing.T) {
	for name, open := range drivers() {
		if name == "sqlite" {
			continue
		}
		open := open
		t.Run(name, func(t *testing.T) {
			st := open(t)
			require.NoError(t, st.Close())
			assert.ErrorIs(t, st.Save(context.Background(), sampleOrder(t, 1)), ErrClosed)
			_, err := st.List(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

func TestOpenFileRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}
