package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

func newMockStore(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, logx.Nop()), mock
}

func TestSQLSaveAllRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	boom := errors.New("disk full")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO work_orders")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(boom)
	mock.ExpectRollback()

	err := st.SaveAll(context.Background(), []order.WorkOrder{sampleOrder(t, 1), sampleOrder(t, 2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "save order 2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSaveAllCommits(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO work_orders")
	prep.ExpectExec().WithArgs(int64(1), "remind", sqlmock.AnyArg(), "2024-03-04T08:00:00.000000123+07:00", "2024-06-04T08:00:00+07:00", "1,5", int64(order.Week)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, st.SaveAll(context.Background(), []order.WorkOrder{sampleOrder(t, 1)}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDeletePurgesEventsInOneTransaction(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM order_events").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM work_orders").WithArgs(int64(7)).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err := st.Delete(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete order 7")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLFindMissing(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM work_orders WHERE id").WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)

	_, ok, err := st.Find(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLFindDecodesRow(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "tag", "payload", "start_time", "end_time", "days_of_week", "interval_ns"}).
		AddRow(int64(5), "ping", `{"n":{"type":"int","value":3}}`, "2024-03-04T08:00:00+07:00", nil, "", int64(time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM work_orders WHERE id").WithArgs(int64(5)).WillReturnRows(rows)

	o, ok, err := st.Find(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.ID(5), o.ID)
	assert.Equal(t, time.Hour, o.Interval)
	assert.False(t, o.HasEnd())
	n, _ := o.Payload.Int("n")
	assert.EqualValues(t, 3, n)
}

func TestSQLAppendEventPropagatesError(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO order_events").WillReturnError(errors.New("readonly"))

	err := st.AppendEvent(context.Background(), order.Event{WorkID: 1, Kind: order.EventSuccess, ScheduledTime: time.Now(), DeliveredTime: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append event for order 1")
	require.NoError(t, mock.ExpectationsWereMet())
}
