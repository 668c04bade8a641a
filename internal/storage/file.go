package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.orders.snapshot.json (periodic snapshot of orders and events)
//   - <prefix>.orders.journal.jsonl (append-only journal)
//
// Every mutation is one journal line, so a batch is applied entirely or not
// at all on replay. The journal is compacted into the snapshot every
// CompactEvery records.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	orders map[order.ID]orderRecord
	events map[order.ID][]eventRecord

	writes       int
	compactEvery int
}

type journalOp string

const (
	opSave   journalOp = "save"
	opDelete journalOp = "delete"
	opEvent  journalOp = "event"
)

type journalRecord struct {
	Op     journalOp     `json:"op"`
	Orders []orderRecord `json:"orders,omitempty"`
	IDs    []int64       `json:"ids,omitempty"`
	Event  *eventRecord  `json:"event,omitempty"`
}

type fileSnapshot struct {
	Orders []orderRecord `json:"orders"`
	Events []eventRecord `json:"events"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".orders.snapshot.json",
		orders:       map[order.ID]orderRecord{},
		events:       map[order.ID][]eventRecord{},
		compactEvery: cfg.CompactEvery,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = 1000
	}
	journalPath := prefix + ".orders.journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load snapshot")
	}
	if err := s.replayJournal(journalPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "replay journal")
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("orders", len(s.orders)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Save(ctx context.Context, o order.WorkOrder) error {
	return s.SaveAll(ctx, []order.WorkOrder{o})
}

func (s *fileStore) SaveAll(_ context.Context, orders []order.WorkOrder) error {
	if len(orders) == 0 {
		return nil
	}
	recs := make([]orderRecord, 0, len(orders))
	for _, o := range orders {
		r, err := toRecord(o)
		if err != nil {
			return err
		}
		recs = append(recs, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opSave, Orders: recs}); err != nil {
		return err
	}
	s.apply(journalRecord{Op: opSave, Orders: recs})
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Find(_ context.Context, id order.ID) (order.WorkOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return order.WorkOrder{}, false, ErrClosed
	}
	r, ok := s.orders[id]
	if !ok {
		return order.WorkOrder{}, false, nil
	}
	o, err := fromRecord(r)
	if err != nil {
		return order.WorkOrder{}, false, err
	}
	return o, true, nil
}

func (s *fileStore) List(_ context.Context) ([]order.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]order.WorkOrder, 0, len(s.orders))
	for _, r := range s.orders {
		o, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) Delete(ctx context.Context, id order.ID) error {
	return s.DeleteAll(ctx, []order.ID{id})
}

func (s *fileStore) DeleteAll(_ context.Context, ids []order.ID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := journalRecord{Op: opDelete, IDs: raw}
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	s.apply(rec)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) AppendEvent(_ context.Context, e order.Event) error {
	er := toEventRecord(e)
	rec := journalRecord{Op: opEvent, Event: &er}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(rec); err != nil {
		return err
	}
	s.apply(rec)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Events(_ context.Context, id order.ID) ([]order.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	recs := s.events[id]
	out := make([]order.Event, 0, len(recs))
	for _, r := range recs {
		e, err := fromEventRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode journal record")
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return errors.Wrap(err, "append journal")
	}
	return nil
}

func (s *fileStore) apply(rec journalRecord) {
	switch rec.Op {
	case opSave:
		for _, r := range rec.Orders {
			s.orders[order.ID(r.ID)] = r
		}
	case opDelete:
		for _, id := range rec.IDs {
			delete(s.orders, order.ID(id))
			delete(s.events, order.ID(id))
		}
	case opEvent:
		if rec.Event != nil {
			id := order.ID(rec.Event.WorkID)
			s.events[id] = append(s.events[id], *rec.Event)
		}
	}
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%s.compactEvery != 0 {
		return
	}
	// Best-effort compact.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{
		Orders: make([]orderRecord, 0, len(s.orders)),
	}
	for _, r := range s.orders {
		snap.Orders = append(snap.Orders, r)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	ids := make([]order.ID, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snap.Events = append(snap.Events, s.events[id]...)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Orders {
		s.orders[order.ID(r.ID)] = r
	}
	for _, e := range snap.Events {
		id := order.ID(e.WorkID)
		s.events[id] = append(s.events[id], e)
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail from a crash mid-write
			s.log.Warn("skipping unreadable journal line", logx.Err(err))
			continue
		}
		s.apply(r)
	}
	return sc.Err()
}
