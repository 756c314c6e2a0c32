package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. With AutoCreate, unknown ids are
// treated as freshly scheduled sessions, which is what local development
// and the tests want.
type MemoryStore struct {
	AutoCreate bool

	mu      sync.Mutex
	records map[string]*Record
	fail    func(op, id string) error
}

func NewMemoryStore(autoCreate bool) *MemoryStore {
	return &MemoryStore{AutoCreate: autoCreate, records: make(map[string]*Record)}
}

// Put inserts or replaces a record.
func (m *MemoryStore) Put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = cloneRecord(&r)
}

// FailWith installs a hook consulted before every operation. A non-nil
// return is handed to the caller instead of touching the record.
func (m *MemoryStore) FailWith(fn func(op, id string) error) {
	m.mu.Lock()
	m.fail = fn
	m.mu.Unlock()
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup("get", id)
	if err != nil {
		return nil, err
	}
	return cloneRecord(r), nil
}

func (m *MemoryStore) SetActiveStartedAt(_ context.Context, id string, ts time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup("set_started", id)
	if err != nil {
		return time.Time{}, err
	}
	if r.ActiveStartedAt == nil {
		ts = ts.UTC()
		r.ActiveStartedAt = &ts
	}
	return *r.ActiveStartedAt, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup("set_status", id)
	if err != nil {
		return err
	}
	r.Status = status
	return nil
}

func (m *MemoryStore) lookup(op, id string) (*Record, error) {
	if m.fail != nil {
		if err := m.fail(op, id); err != nil {
			return nil, err
		}
	}
	r, ok := m.records[id]
	if !ok {
		if !m.AutoCreate {
			return nil, ErrNotFound
		}
		r = &Record{ID: id, Status: StatusScheduled}
		m.records[id] = r
	}
	return r, nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.ActiveStartedAt != nil {
		t := *r.ActiveStartedAt
		c.ActiveStartedAt = &t
	}
	return &c
}
