package dispatch

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/order"
	"almanac/internal/task/engine"
)

// inline runs tasks synchronously.
type inline struct{ err error }

func (e inline) Submit(ctx context.Context, t engine.Task) error {
	if e.err != nil {
		return e.err
	}
	err := t.Run(ctx)
	if t.Done != nil {
		t.Done(err)
	}
	return nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	h := HandlerFunc(func(context.Context, Work) error { return nil })
	require.NoError(t, r.Register("ping", h))
	err := r.Register("ping", h)
	assert.True(t, errors.Is(err, ErrDuplicateTag))
	assert.Error(t, r.Register("", h))
	assert.Error(t, r.Register("nil", nil))

	_, ok := r.Lookup(" ping ")
	assert.True(t, ok)
	assert.Equal(t, []string{"ping"}, r.Tags())
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var got Work
	require.NoError(t, r.Register("ping", HandlerFunc(func(_ context.Context, w Work) error {
		got = w
		return errors.New("handler failed")
	})))

	d := New(r, inline{})
	w := Work{Order: order.WorkOrder{ID: 5, Tag: "ping"}}
	var doneErr error
	require.NoError(t, d.Dispatch(context.Background(), w, func(err error) { doneErr = err }))
	assert.Equal(t, order.ID(5), got.Order.ID)
	assert.EqualError(t, doneErr, "handler failed")

	err := d.Dispatch(context.Background(), Work{Order: order.WorkOrder{ID: 6, Tag: "missing"}}, nil)
	assert.True(t, errors.Is(err, ErrNoHandler))

	d = New(r, inline{err: engine.ErrQueueFull})
	err = d.Dispatch(context.Background(), w, nil)
	assert.True(t, errors.Is(err, engine.ErrQueueFull))
}
