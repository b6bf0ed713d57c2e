package remote

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a Client operation, for fault injection and stats.
type Op string

const (
	OpPull   Op = "pull"
	OpPush   Op = "push"
	OpDelete Op = "delete"
)

// FaultFunc is consulted before every Memory operation. A non-nil error is
// returned to the caller and the operation has no effect.
// For OpPull only rec.Type is set; for OpDelete only rec.ID.
// The hook runs with the service locked and must not call back into it.
type FaultFunc func(op Op, rec Record) error

// Stats counts calls made against a Memory service.
type Stats struct {
	Pulls   int
	Pushes  int
	Deletes int
}

// Memory is an in-process remote service.
//
// Pushing a payload identical to the stored one is a no-op: the change
// time does not move, so the record is not pulled again.
type Memory struct {
	mu      sync.Mutex
	clock   func() time.Time
	records map[string]*Record // by remote ID
	keys    map[string]string  // type/key -> remote ID
	last    time.Time
	stats   Stats
	fault   FaultFunc
}

// NewMemory creates an empty in-process service using the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an empty in-process service whose change
// times come from clock.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		clock:   clock,
		records: make(map[string]*Record),
		keys:    make(map[string]string),
	}
}

// SetFault installs a fault hook. Pass nil to remove it.
func (m *Memory) SetFault(fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// Stats returns the call counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ResetStats zeroes the call counters.
func (m *Memory) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = Stats{}
}

// Pull implements Client.
func (m *Memory) Pull(ctx context.Context, recordType string, since time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Pulls++
	if err := m.injected(OpPull, Record{Type: recordType}); err != nil {
		return nil, err
	}

	var out []Record
	for _, rec := range m.records {
		if rec.Type == recordType && rec.ChangedAt.After(since) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChangedAt.Before(out[j].ChangedAt)
	})
	return out, nil
}

// Push implements Client.
func (m *Memory) Push(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Pushes++
	if err := m.injected(OpPush, rec); err != nil {
		return "", err
	}
	return m.store(rec, false)
}

// Delete implements Client.
func (m *Memory) Delete(ctx context.Context, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Deletes++
	if err := m.injected(OpDelete, Record{ID: remoteID}); err != nil {
		return err
	}

	rec, ok := m.records[remoteID]
	if !ok || rec.Deleted {
		return nil
	}
	rec.Deleted = true
	rec.Fields = nil
	rec.ChangedAt = m.nextChange()
	return nil
}

// Put stores rec as another device would, always moving its change time.
// It bypasses fault injection and stats. Returns the stored record.
func (m *Memory) Put(rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.store(rec, true)
	if err != nil {
		return Record{}, err
	}
	return copyRecord(m.records[id]), nil
}

// Get returns the record with the given remote ID.
func (m *Memory) Get(ctx context.Context, remoteID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[remoteID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	return copyRecord(rec), nil
}

// Lookup returns the record stored under (recordType, key).
func (m *Memory) Lookup(recordType, key string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.keys[recordKey(recordType, key)]
	if !ok {
		return Record{}, false
	}
	return copyRecord(m.records[id]), true
}

// Records returns every record of recordType ordered by key.
func (m *Memory) Records(recordType string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.records {
		if rec.Type == recordType {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// store upserts rec by (Type, Key). Caller holds m.mu.
func (m *Memory) store(rec Record, force bool) (string, error) {
	if rec.Type == "" || rec.Key == "" {
		return "", fmt.Errorf("%w: record type and key are required", ErrRejected)
	}
	fields, err := rec.Fields.Normalize()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	k := recordKey(rec.Type, rec.Key)
	if id, ok := m.keys[k]; ok {
		cur := m.records[id]
		if !force && !cur.Deleted && !rec.Deleted && reflect.DeepEqual(cur.Fields, fields) {
			return id, nil
		}
		cur.Fields = fields
		cur.Deleted = rec.Deleted
		cur.ChangedAt = m.nextChange()
		return id, nil
	}

	id := rec.ID
	if _, taken := m.records[id]; id == "" || taken {
		id = uuid.NewString()
	}
	m.records[id] = &Record{
		ID:        id,
		Type:      rec.Type,
		Key:       rec.Key,
		Deleted:   rec.Deleted,
		ChangedAt: m.nextChange(),
		Fields:    fields,
	}
	m.keys[k] = id
	return id, nil
}

// nextChange returns a change time strictly after every earlier one.
func (m *Memory) nextChange() time.Time {
	now := m.clock()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

func (m *Memory) injected(op Op, rec Record) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, rec)
}

func recordKey(recordType, key string) string {
	return recordType + "/" + key
}

func copyRecord(rec *Record) Record {
	c := *rec
	c.Fields = rec.Fields.Clone()
	return c
}
