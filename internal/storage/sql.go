package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	upsertOrderSQL = `INSERT INTO work_orders(id, tag, payload, start_time, end_time, days_of_week, interval_ns)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tag=excluded.tag, payload=excluded.payload, start_time=excluded.start_time,
			end_time=excluded.end_time, days_of_week=excluded.days_of_week, interval_ns=excluded.interval_ns`
	selectOrderSQL  = `SELECT id, tag, payload, start_time, end_time, days_of_week, interval_ns FROM work_orders`
	deleteOrderSQL  = `DELETE FROM work_orders WHERE id = ?`
	deleteEventsSQL = `DELETE FROM order_events WHERE work_id = ?`
	insertEventSQL  = `INSERT INTO order_events(work_id, scheduled_time, delivered_time, day_of_week, kind, detail) VALUES(?,?,?,?,?,?)`
	selectEventsSQL = `SELECT work_id, scheduled_time, delivered_time, day_of_week, kind, detail FROM order_events WHERE work_id = ? ORDER BY seq`
)

// sqlStore serves both SQLite drivers; they differ only in the registered
// driver name.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQL(driver string, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite drivers")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create storage dir")
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}

	st := newSQLStore(db, log)
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func newSQLStore(db *sql.DB, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, log: log}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err = s.db.ExecContext(ctx, string(b)); err != nil {
		return errors.Wrap(err, "migrate")
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Save(ctx context.Context, o order.WorkOrder) error {
	r, err := toRecord(o)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertOrderSQL, orderArgs(r)...); err != nil {
		return errors.Wrapf(err, "save order %d", r.ID)
	}
	return nil
}

func (s *sqlStore) SaveAll(ctx context.Context, orders []order.WorkOrder) error {
	if len(orders) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertOrderSQL)
		if err != nil {
			return errors.Wrap(err, "prepare upsert")
		}
		defer stmt.Close()
		for _, o := range orders {
			r, err := toRecord(o)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, orderArgs(r)...); err != nil {
				return errors.Wrapf(err, "save order %d", r.ID)
			}
		}
		return nil
	})
}

func (s *sqlStore) Find(ctx context.Context, id order.ID) (order.WorkOrder, bool, error) {
	row := s.db.QueryRowContext(ctx, selectOrderSQL+` WHERE id = ?`, int64(id))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.WorkOrder{}, false, nil
	}
	if err != nil {
		return order.WorkOrder{}, false, errors.Wrapf(err, "find order %d", id)
	}
	return o, true, nil
}

func (s *sqlStore) List(ctx context.Context) ([]order.WorkOrder, error) {
	rows, err := s.db.QueryContext(ctx, selectOrderSQL+` ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	var out []order.WorkOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "list orders")
}

func (s *sqlStore) Delete(ctx context.Context, id order.ID) error {
	return s.DeleteAll(ctx, []order.ID{id})
}

func (s *sqlStore) DeleteAll(ctx context.Context, ids []order.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, deleteEventsSQL, int64(id)); err != nil {
				return errors.Wrapf(err, "delete events of order %d", id)
			}
			if _, err := tx.ExecContext(ctx, deleteOrderSQL, int64(id)); err != nil {
				return errors.Wrapf(err, "delete order %d", id)
			}
		}
		return nil
	})
}

func (s *sqlStore) AppendEvent(ctx context.Context, e order.Event) error {
	r := toEventRecord(e)
	var day any
	if r.Day != nil {
		day = *r.Day
	}
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		r.WorkID, r.ScheduledTime, r.DeliveredTime, day, r.Kind, nullStr(r.Detail))
	return errors.Wrapf(err, "append event for order %d", r.WorkID)
}

func (s *sqlStore) Events(ctx context.Context, id order.ID) ([]order.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEventsSQL, int64(id))
	if err != nil {
		return nil, errors.Wrapf(err, "list events of order %d", id)
	}
	defer rows.Close()
	var out []order.Event
	for rows.Next() {
		var (
			r      eventRecord
			day    sql.NullInt64
			detail sql.NullString
		)
		if err := rows.Scan(&r.WorkID, &r.ScheduledTime, &r.DeliveredTime, &day, &r.Kind, &detail); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if day.Valid {
			d := int(day.Int64)
			r.Day = &d
		}
		r.Detail = detail.String
		e, err := fromEventRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list events")
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.log.Warn("rollback failed", logx.Err(rerr))
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.WorkOrder, error) {
	var (
		r       orderRecord
		payload string
		end     sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Tag, &payload, &r.StartTime, &end, &r.Days, &r.IntervalNS); err != nil {
		return order.WorkOrder{}, err
	}
	r.Payload = []byte(payload)
	r.EndTime = end.String
	return fromRecord(r)
}

func orderArgs(r orderRecord) []any {
	return []any{r.ID, r.Tag, string(r.Payload), r.StartTime, nullStr(r.EndTime), r.Days, r.IntervalNS}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
