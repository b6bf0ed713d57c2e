package remote

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(filepath.Join(t.TempDir(), "remote"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return d
}

func TestDir_PushPullDelete(t *testing.T) {
	ctx := context.Background()
	d := setupDir(t)

	id, err := d.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"title": "on disk", "sortOrder": 1}})
	require.NoError(t, err)
	assert.Equal(t, testType+"/k1", id)
	assert.FileExists(t, filepath.Join(d.Root(), testType, "k1.json"))

	records, err := d.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "k1", records[0].Key)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, 1, records[0].Fields.Int("sortOrder").Value)

	// Unchanged payload leaves the file alone
	changed := records[0].ChangedAt
	_, err = d.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"title": "on disk", "sortOrder": 1}})
	require.NoError(t, err)
	records, err = d.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, changed.Equal(records[0].ChangedAt))

	require.NoError(t, d.Delete(ctx, id))
	require.NoError(t, d.Delete(ctx, id))
	require.NoError(t, d.Delete(ctx, testType+"/missing"))

	records, err = d.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Deleted)
	assert.FileExists(t, filepath.Join(d.Root(), testType, "k1.json"), "tombstone file kept")
}

// Devices sharing a folder stamp files with their own clocks, so a file
// written after another device's fast-clock write can carry an older time.
func TestDir_PullReturnsFilesBehindCursor(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "remote")

	fast, err := NewDir(root, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	fast.clock = func() time.Time { return time.Now().Add(time.Hour) }

	slow, err := NewDir(root, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	_, err = fast.Push(ctx, Record{Type: testType, Key: "k1", Fields: Fields{"title": "ahead"}})
	require.NoError(t, err)
	records, err := slow.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	cursor := records[0].ChangedAt

	_, err = slow.Push(ctx, Record{Type: testType, Key: "k2", Fields: Fields{"title": "on time"}})
	require.NoError(t, err)

	records, err = slow.Pull(ctx, testType, cursor)
	require.NoError(t, err)
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)
}

func TestDir_SkipsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	d := setupDir(t)

	_, err := d.Push(ctx, Record{Type: testType, Key: "good", Fields: Fields{"title": "ok"}})
	require.NoError(t, err)

	dir := filepath.Join(d.Root(), testType)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	records, err := d.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].Key)
}

func TestDir_RejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	d := setupDir(t)

	for _, key := range []string{"", "..", "a/b", `a\b`, ".hidden"} {
		_, err := d.Push(ctx, Record{Type: testType, Key: key})
		assert.True(t, IsRejected(err), "key %q: %v", key, err)
	}
	assert.True(t, IsRejected(d.Delete(ctx, "no-separator")))
}

func TestDir_EmptyType(t *testing.T) {
	records, err := setupDir(t).Pull(context.Background(), testType, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)
}
