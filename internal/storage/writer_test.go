package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

func TestWriterKeepsIssueOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewWriter(NewMemory(), 4, logx.Nop())
	defer w.Close(ctx)

	o := sampleOrder(t, 1)
	for i := 0; i < 50; i++ {
		w.Enqueue("save", func(ctx context.Context, st Store) error { return st.Save(ctx, o) })
		w.Enqueue("delete", func(ctx context.Context, st Store) error { return st.Delete(ctx, o.ID) })
	}
	w.Enqueue("save", func(ctx context.Context, st Store) error { return st.Save(ctx, o) })
	require.NoError(t, w.Barrier(ctx))

	_, ok, err := w.Store().Find(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok, "last write was a save")
}

func TestWriterDoReturnsError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewWriter(NewMemory(), 0, logx.Nop())
	defer w.Close(ctx)

	boom := errors.New("boom")
	err := w.Do(ctx, "fail", func(context.Context, Store) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWriterConcurrentDo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewWriter(NewMemory(), 2, logx.Nop())

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		o := sampleOrder(t, order.ID(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Do(ctx, "save", func(ctx context.Context, st Store) error { return st.Save(ctx, o) }))
		}()
	}
	wg.Wait()

	list, err := w.Store().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 20)

	require.NoError(t, w.Close(ctx))
	assert.ErrorIs(t, w.Do(ctx, "late", func(context.Context, Store) error { return nil }), ErrClosed)
	w.Enqueue("late", func(context.Context, Store) error { return nil })
	require.NoError(t, w.Close(ctx))
}
