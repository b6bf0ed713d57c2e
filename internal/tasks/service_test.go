package tasks

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
)

var (
	now      = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	today    = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	tomorrow = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	lastWeek = time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
)

type testEnv struct {
	db      *store.DB
	svc     *Service
	clockAt time.Time
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{clockAt: now}
	clock := func() time.Time { return env.clockAt }

	db, err := store.OpenWithConfig(filepath.Join(t.TempDir(), "tasks.db"), &store.Config{
		Clock:  clock,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n := 0
	env.db = db
	env.svc = NewService(db, &Config{
		Clock:    clock,
		Location: time.UTC,
		NewID: func() string {
			n++
			return fmt.Sprintf("t-%d", n)
		},
	})
	return env
}

func (e *testEnv) create(t *testing.T, title string, due time.Time) string {
	t.Helper()
	id, err := e.svc.Create(context.Background(), title, "", due)
	require.NoError(t, err)
	return id
}

func titles(tasks []*record.TaskRecord) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func TestCreate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	id, err := env.svc.Create(ctx, "  Buy milk ", "", today)
	require.NoError(t, err)

	task, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", task.Title)
	assert.Nil(t, task.Subtitle, "empty subtitle is stored as absent")
	assert.Equal(t, 0, task.SortOrder)
	assert.True(t, task.IsDirty())

	second, err := env.svc.Create(ctx, "Call mom", "evening", today)
	require.NoError(t, err)
	task, err = env.svc.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "evening", task.SubtitleValue())
	assert.Equal(t, 1, task.SortOrder, "appended to end of group")

	other, err := env.svc.Create(ctx, "Dentist", "", tomorrow)
	require.NoError(t, err)
	task, err = env.svc.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 0, task.SortOrder, "first task of its own group")
}

func TestCreate_EmptyTitle(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.Create(context.Background(), "   ", "", today)
	assert.ErrorIs(t, err, record.ErrInvalid)

	counts, err := env.db.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Live)
}

func TestUpdate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	a := env.create(t, "A", today)
	env.create(t, "B", tomorrow)
	env.create(t, "C", tomorrow)

	t.Run("same group keeps order", func(t *testing.T) {
		require.NoError(t, env.svc.Update(ctx, a, "A2", "note", today.Add(time.Hour)))
		task, err := env.svc.Get(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "A2", task.Title)
		assert.Equal(t, "note", task.SubtitleValue())
		assert.Equal(t, 0, task.SortOrder)
	})

	t.Run("moving group appends", func(t *testing.T) {
		require.NoError(t, env.svc.Update(ctx, a, "A2", "", tomorrow))
		task, err := env.svc.Get(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 2, task.SortOrder)
		assert.Nil(t, task.Subtitle, "cleared subtitle")
	})

	t.Run("missing", func(t *testing.T) {
		err := env.svc.Update(ctx, "nope", "X", "", today)
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("empty title", func(t *testing.T) {
		assert.ErrorIs(t, env.svc.Update(ctx, a, "", "", today), record.ErrInvalid)
	})
}

func TestDelete(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	id := env.create(t, "A", today)
	require.NoError(t, env.svc.Delete(ctx, id))

	_, err := env.svc.Get(ctx, id)
	assert.True(t, store.IsNotFound(err))

	groups, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Zero(t, groups.Len())

	// The tombstone is kept for sync
	task, err := env.db.FetchByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, task.IsDeleted)

	assert.True(t, store.IsNotFound(env.svc.Delete(ctx, id)), "deleting twice")
}

func TestToggleCompletion(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	id := env.create(t, "A", today)

	done, err := env.svc.ToggleCompletion(ctx, id)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = env.svc.ToggleCompletion(ctx, id)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, env.svc.Delete(ctx, id))
	_, err = env.svc.ToggleCompletion(ctx, id)
	assert.True(t, store.IsNotFound(err))
}

func TestList_Groups(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	env.create(t, "old", lastWeek)
	env.create(t, "later today", today)
	env.create(t, "tomorrow", tomorrow)
	env.create(t, "earlier today", now.Add(-time.Hour))

	groups, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, titles(groups.Past))
	assert.Equal(t, []string{"earlier today", "later today"}, titles(groups.Today))
	assert.Equal(t, []string{"tomorrow"}, titles(groups.Upcoming))
	assert.Equal(t, 4, groups.Len())

	// A day later, today's tasks are past
	env.clockAt = now.Add(24 * time.Hour)
	groups, err = env.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, groups.Past, 3)
	assert.Equal(t, []string{"tomorrow"}, titles(groups.Today))
}

func TestReorder(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	a := env.create(t, "A", today)
	b := env.create(t, "B", today)
	c := env.create(t, "C", today)
	env.create(t, "D", tomorrow)

	require.NoError(t, env.svc.Reorder(ctx, []string{c, a, b}, record.GroupToday))

	groups, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titles(groups.Today))
	for i, task := range groups.Today {
		assert.Equal(t, i, task.SortOrder)
	}
}

func TestReorder_UnchangedRowsNotRewritten(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	a := env.create(t, "A", today)
	b := env.create(t, "B", today)
	c := env.create(t, "C", today)

	before, err := env.svc.Get(ctx, a)
	require.NoError(t, err)

	env.clockAt = now.Add(time.Minute)
	require.NoError(t, env.svc.Reorder(ctx, []string{a, c, b}, record.GroupToday))

	after, err := env.svc.Get(ctx, a)
	require.NoError(t, err)
	assert.True(t, before.LastModifiedDate.Equal(after.LastModifiedDate), "A kept index 0")

	moved, err := env.svc.Get(ctx, c)
	require.NoError(t, err)
	assert.True(t, moved.LastModifiedDate.After(before.LastModifiedDate))
}

func TestReorder_Mismatch(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	a := env.create(t, "A", today)
	b := env.create(t, "B", today)
	d := env.create(t, "D", tomorrow)

	tests := []struct {
		name string
		ids  []string
	}{
		{"missing member", []string{a}},
		{"foreign task", []string{a, d}},
		{"duplicate", []string{a, a}},
		{"unknown id", []string{a, "zzz"}},
		{"extra id", []string{a, b, d}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, env.svc.Reorder(ctx, tt.ids, record.GroupToday), ErrGroupMismatch)
		})
	}

	groups, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(groups.Today), "failed reorder changed nothing")
}

func TestMove(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	env.create(t, "A", today)
	env.create(t, "B", today)
	c := env.create(t, "C", today)

	require.NoError(t, env.svc.Move(ctx, c, 0))
	groups, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titles(groups.Today))

	require.NoError(t, env.svc.Move(ctx, c, 99))
	groups, err = env.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles(groups.Today))
}

func TestResolve(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.svc.newID = func() string { return "abc-" + fmt.Sprint(time.Now().UnixNano()) }

	id, err := env.svc.Create(ctx, "A", "", today)
	require.NoError(t, err)

	task, err := env.svc.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)

	task, err = env.svc.Resolve(ctx, id[:len(id)-2])
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)

	_, err = env.svc.Resolve(ctx, "zzz")
	assert.True(t, store.IsNotFound(err))

	env.svc.newID = func() string { return "abd-1" }
	_, err = env.svc.Create(ctx, "B", "", today)
	require.NoError(t, err)
	_, err = env.svc.Resolve(ctx, "ab")
	assert.ErrorContains(t, err, "ambiguous")
}
