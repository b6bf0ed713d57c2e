package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testType = "TodoTask"

func TestMemory_PushPull(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"title": "one"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	records, err := m.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, "k1", records[0].Key)
	assert.Equal(t, "one", records[0].Fields.String("title").Value)

	// Same key, new payload: same ID, later change time
	before := records[0].ChangedAt
	id2, err := m.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"title": "uno"}})
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	records, err = m.Pull(ctx, testType, before)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "uno", records[0].Fields.String("title").Value)

	other, err := m.Pull(ctx, "OtherType", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemory_UnchangedPushIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"sortOrder": 1}})
	require.NoError(t, err)
	rec, ok := m.Lookup(testType, "k1")
	require.True(t, ok)

	// int vs float64 after JSON must compare equal
	_, err = m.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"sortOrder": float64(1)}})
	require.NoError(t, err)

	again, _ := m.Lookup(testType, "k1")
	assert.True(t, again.ChangedAt.Equal(rec.ChangedAt), "unchanged push moved change time")
	assert.Equal(t, 2, m.Stats().Pushes)

	records, err := m.Pull(ctx, testType, rec.ChangedAt)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"title": "x"}})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, id))
	require.NoError(t, m.Delete(ctx, id), "second delete succeeds")
	require.NoError(t, m.Delete(ctx, "unknown"), "unknown delete succeeds")

	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Deleted)
	assert.Nil(t, rec.Fields)

	records, err := m.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Deleted)

	_, err = m.Get(ctx, "unknown")
	assert.True(t, IsNotFound(err))
}

func TestMemory_Rejects(t *testing.T) {
	m := NewMemory()
	_, err := m.Push(context.Background(), Record{Key: "k1"})
	assert.True(t, IsRejected(err))
}

func TestMemory_Fault(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.SetFault(func(op Op, rec Record) error {
		if op == OpPush && rec.Key == "bad" {
			return ErrRejected
		}
		if op == OpPull {
			return ErrTransient
		}
		return nil
	})

	_, err := m.Push(ctx, Record{Type: testType, Key: "bad"})
	assert.True(t, IsRejected(err))
	_, err = m.Push(ctx, Record{Type: testType, Key: "good"})
	assert.NoError(t, err)
	_, err = m.Pull(ctx, testType, time.Time{})
	assert.True(t, IsTransient(err))

	m.SetFault(nil)
	records, err := m.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 1, "faulted push must not be stored")
}

func TestMemory_ChangeTimesMonotonic(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return frozen })

	a, err := m.Put(Record{Type: testType, Key: "a", Fields: Fields{"v": 1}})
	require.NoError(t, err)
	b, err := m.Put(Record{Type: testType, Key: "b", Fields: Fields{"v": 1}})
	require.NoError(t, err)
	assert.True(t, b.ChangedAt.After(a.ChangedAt))

	// Put always moves the change time, even for an identical payload
	a2, err := m.Put(Record{Type: testType, Key: "a", Fields: Fields{"v": 1}})
	require.NoError(t, err)
	assert.True(t, a2.ChangedAt.After(b.ChangedAt))
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Pull(ctx, testType, time.Time{})
	assert.True(t, errors.Is(err, context.Canceled))
}
