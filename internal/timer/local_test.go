package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

type fireSink struct {
	mu    sync.Mutex
	fires []Fire
	ch    chan Fire
}

func newSink() *fireSink { return &fireSink{ch: make(chan Fire, 16)} }

func (s *fireSink) put(f Fire) {
	s.mu.Lock()
	s.fires = append(s.fires, f)
	s.mu.Unlock()
	s.ch <- f
}

func TestLocalArmExactDelivers(t *testing.T) {
	t.Parallel()

	sink := newSink()
	l := NewLocal(sink.put, logx.Nop())
	l.Start()
	defer l.Stop(context.Background())

	at := time.Now().Add(20 * time.Millisecond)
	require.NoError(t, l.ArmExact(context.Background(), at, Alarm{Key: order.PlainKey(7), OrderID: 7}))

	select {
	case f := <-sink.ch:
		assert.Equal(t, order.PlainKey(7), f.Key)
		assert.True(t, at.Equal(f.Scheduled))
		assert.False(t, f.Delivered.Before(at.Truncate(time.Millisecond)))
	case <-time.After(2 * time.Second):
		t.Fatal("alarm not delivered")
	}
	assert.Empty(t, l.Pending())
}

func TestLocalCancelAndReplace(t *testing.T) {
	t.Parallel()

	sink := newSink()
	l := NewLocal(sink.put, logx.Nop())
	l.Start()
	defer l.Stop(context.Background())

	ctx := context.Background()
	require.NoError(t, l.ArmExact(ctx, time.Now().Add(30*time.Millisecond), Alarm{Key: order.PlainKey(1), OrderID: 1}))
	require.NoError(t, l.Cancel(ctx, order.PlainKey(1)))
	require.NoError(t, l.Cancel(ctx, order.PlainKey(1)))

	far := time.Now().Add(time.Hour)
	require.NoError(t, l.ArmExact(ctx, time.Now().Add(30*time.Millisecond), Alarm{Key: order.PlainKey(2), OrderID: 2}))
	require.NoError(t, l.ArmExact(ctx, far, Alarm{Key: order.PlainKey(2), OrderID: 2}))

	select {
	case f := <-sink.ch:
		t.Fatalf("unexpected delivery %+v", f)
	case <-time.After(150 * time.Millisecond):
	}
	p := l.Pending()
	require.Len(t, p, 1)
	assert.True(t, far.Equal(p[0].Next))
}

func TestLocalStopRejectsArming(t *testing.T) {
	t.Parallel()

	l := NewLocal(nil, logx.Nop())
	l.Start()
	l.Stop(context.Background())
	err := l.ArmExact(context.Background(), time.Now(), Alarm{Key: order.PlainKey(1)})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestLocalArmRepeatingRejectsZeroInterval(t *testing.T) {
	t.Parallel()

	l := NewLocal(nil, logx.Nop())
	assert.Error(t, l.ArmRepeating(context.Background(), time.Now(), 0, Alarm{Key: order.PlainKey(1)}))
}

func TestRepeatSchedule(t *testing.T) {
	t.Parallel()

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := repeatSchedule{first: first, every: time.Hour}

	assert.Equal(t, first, s.Next(first.Add(-time.Minute)))
	assert.Equal(t, first.Add(time.Hour), s.Next(first))
	assert.Equal(t, first.Add(3*time.Hour), s.Next(first.Add(150*time.Minute)))
	assert.Equal(t, first.Add(2*time.Hour), s.latest(first.Add(150*time.Minute)))
	assert.Equal(t, first, s.latest(first))
}
