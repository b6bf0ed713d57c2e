package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// Dir is a remote service backed by a shared folder, for setups where the
// folder itself is replicated (Syncthing, Dropbox, a network mount).
//
// Layout: <root>/<type>/<key>.json, one Record per file. Deletions are kept
// as tombstone files so other devices observe them. The remote ID of a
// record is "<type>/<key>".
type Dir struct {
	root   string
	clock  func() time.Time
	logger *log.Logger
	mu     sync.Mutex
}

// NewDir opens (creating if needed) a folder remote at root.
// If logger is nil, uses default stderr logger.
func NewDir(root string, logger *log.Logger) (*Dir, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}
	return &Dir{root: root, clock: time.Now, logger: logger}, nil
}

// Root returns the folder the remote lives in.
func (d *Dir) Root() string {
	return d.root
}

// Pull implements Client. It returns every record of recordType and ignores
// since: ChangedAt in a shared folder comes from the clock of whichever
// device wrote the file, so no cursor over it is safe. Files that fail to
// parse are logged and skipped.
func (d *Dir) Pull(ctx context.Context, recordType string, _ time.Time) ([]Record, error) {
	if err := validName(recordType); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.root, recordType)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", ErrTransient, dir, err)
	}

	var out []Record
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}

		rec, err := d.read(filepath.Join(dir, name))
		if err != nil {
			d.logger.Printf("Warning: skipping %s: %v", name, err)
			continue
		}
		rec.Type = recordType
		rec.Key = strings.TrimSuffix(name, ".json")
		rec.ID = recordKey(recordType, rec.Key)
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ChangedAt.Before(out[j].ChangedAt)
	})
	return out, nil
}

// Push implements Client. An unchanged payload is not rewritten.
func (d *Dir) Push(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validName(rec.Type); err != nil {
		return "", err
	}
	if err := validName(rec.Key); err != nil {
		return "", err
	}
	fields, err := rec.Fields.Normalize()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := recordKey(rec.Type, rec.Key)
	path := d.path(rec.Type, rec.Key)

	cur, err := d.read(path)
	switch {
	case err == nil:
		if !cur.Deleted && !rec.Deleted && reflect.DeepEqual(cur.Fields, fields) {
			return id, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		d.logger.Printf("Warning: replacing unreadable %s: %v", path, err)
	}

	stored := Record{
		ID:        id,
		Type:      rec.Type,
		Key:       rec.Key,
		Deleted:   rec.Deleted,
		ChangedAt: d.nextChange(cur.ChangedAt),
		Fields:    fields,
	}
	if err := d.write(path, stored); err != nil {
		return "", err
	}
	return id, nil
}

// Delete implements Client. Unknown records succeed.
func (d *Dir) Delete(ctx context.Context, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recordType, key, ok := strings.Cut(remoteID, "/")
	if !ok {
		return fmt.Errorf("%w: malformed remote id %q", ErrRejected, remoteID)
	}
	if err := validName(recordType); err != nil {
		return err
	}
	if err := validName(key); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.path(recordType, key)
	cur, err := d.read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		d.logger.Printf("Warning: tombstoning unreadable %s: %v", path, err)
	}
	if err == nil && cur.Deleted {
		return nil
	}

	return d.write(path, Record{
		ID:        remoteID,
		Type:      recordType,
		Key:       key,
		Deleted:   true,
		ChangedAt: d.nextChange(cur.ChangedAt),
	})
}

func (d *Dir) path(recordType, key string) string {
	return filepath.Join(d.root, recordType, key+".json")
}

// read loads one record file. A missing file returns an error wrapping
// fs.ErrNotExist.
func (d *Dir) read(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse record: %w", err)
	}
	return rec, nil
}

// write replaces path atomically: temp file in the same directory, then
// rename.
func (d *Dir) write(path string, rec Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", ErrTransient, dir, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode record: %v", ErrRejected, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrTransient, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: failed to write record: %v", ErrTransient, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to write record: %v", ErrTransient, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: failed to replace record: %v", ErrTransient, err)
	}
	return nil
}

// nextChange returns now, or just after prev if the clock is behind it.
func (d *Dir) nextChange(prev time.Time) time.Time {
	now := d.clock().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// validName rejects names that would escape the type directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: invalid name %q", ErrRejected, name)
	}
	return nil
}
