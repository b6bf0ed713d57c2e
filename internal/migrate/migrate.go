// Package migrate moves task records in and out of the local store as JSONL
// or YAML files, for backups and for seeding a new device.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
)

// Format is a file encoding for exported records.
type Format string

const (
	// FormatJSONL writes one JSON record per line.
	FormatJSONL Format = "jsonl"
	// FormatYAML writes a YAML sequence of records.
	FormatYAML Format = "yaml"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jsonl", "json", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want jsonl or yaml)", s)
	}
}

// FormatFromPath picks a Format from a file extension, defaulting to JSONL.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSONL
	}
}

// ExportOptions controls Export.
type ExportOptions struct {
	Format         Format
	IncludeDeleted bool // Include tombstones
}

// ImportOptions controls Import.
type ImportOptions struct {
	// DryRun reports what would change without writing
	DryRun bool

	// KeepSyncState keeps remote IDs and sync stamps from the file. By
	// default they are dropped so imported records are pushed as local
	// changes.
	KeepSyncState bool

	// BackupPath, when set, receives a JSONL export of the whole store
	// (tombstones included) before anything is written.
	BackupPath string
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Inserted      int
	Updated       int
	Skipped       int
	BackupCreated string
	Errors        []string
}

// Export writes the store's records to w and returns how many were written.
func Export(ctx context.Context, db *store.DB, w io.Writer, opts ExportOptions) (int, error) {
	fetch := db.FetchAll
	if opts.IncludeDeleted {
		fetch = db.FetchAllIncludingDeleted
	}
	tasks, err := fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read tasks: %w", err)
	}

	switch opts.Format {
	case FormatYAML:
		err = WriteYAML(w, tasks)
	case FormatJSONL, "":
		err = WriteJSONL(w, tasks)
	default:
		err = fmt.Errorf("unknown format %q", opts.Format)
	}
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// ExportFile exports to path, replacing it atomically. The format defaults
// to the one implied by the path's extension.
func ExportFile(ctx context.Context, db *store.DB, path string, opts ExportOptions) (int, error) {
	if opts.Format == "" {
		opts.Format = FormatFromPath(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, db, file, opts)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// WriteJSONL encodes tasks one per line.
func WriteJSONL(w io.Writer, tasks []*record.TaskRecord) error {
	bw := bufio.NewWriter(w)
	encoder := json.NewEncoder(bw)
	for _, task := range tasks {
		if err := encoder.Encode(utcRecord(task)); err != nil {
			return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
		}
	}
	return bw.Flush()
}

// WriteYAML encodes tasks as a YAML sequence.
func WriteYAML(w io.Writer, tasks []*record.TaskRecord) error {
	out := make([]*record.TaskRecord, len(tasks))
	for i, task := range tasks {
		out[i] = utcRecord(task)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode tasks: %w", err)
	}
	return encoder.Close()
}

// ReadJSONL decodes one record per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]*record.TaskRecord, error) {
	var tasks []*record.TaskRecord
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var task record.TaskRecord
		if err := decoder.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++
		tasks = append(tasks, &task)
	}

	return tasks, nil
}

// ReadYAML decodes a YAML sequence of records. An empty document yields no
// records.
func ReadYAML(r io.Reader) ([]*record.TaskRecord, error) {
	var tasks []*record.TaskRecord
	if err := yaml.NewDecoder(r).Decode(&tasks); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return tasks, nil
}

// ReadFile reads records from path in the format implied by its extension.
func ReadFile(path string) ([]*record.TaskRecord, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	if FormatFromPath(path) == FormatYAML {
		return ReadYAML(file)
	}
	return ReadJSONL(file)
}

// Import merges records into the store. A record whose ID is unknown is
// inserted. A known record is replaced only when the file's copy has a
// strictly newer LastModifiedDate, and never when the stored copy is a
// tombstone. Invalid records are skipped and listed in Errors.
func Import(ctx context.Context, db *store.DB, tasks []*record.TaskRecord, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if opts.BackupPath != "" && !opts.DryRun {
		if _, err := ExportFile(ctx, db, opts.BackupPath, ExportOptions{Format: FormatJSONL, IncludeDeleted: true}); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = opts.BackupPath
	}

	for _, in := range tasks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := in.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("skipped %q: %v", in.ID, err))
			continue
		}

		incoming := prepare(in, opts.KeepSyncState)

		var outcome string
		_, err := db.Reconcile(ctx, incoming.ID, func(cur *record.TaskRecord) (*record.TaskRecord, error) {
			switch {
			case cur == nil:
				outcome = "inserted"
			case cur.IsDeleted || !incoming.LastModifiedDate.After(cur.LastModifiedDate):
				outcome = "skipped"
				return nil, nil
			default:
				outcome = "updated"
				if !opts.KeepSyncState {
					incoming.RemoteRecordID = cur.RemoteRecordID
					incoming.LastSyncDate = cur.LastSyncDate
				}
			}
			if opts.DryRun {
				return nil, nil
			}
			return incoming, nil
		})
		if err != nil {
			if errors.Is(err, store.ErrStorageUnavailable) || ctx.Err() != nil {
				return result, fmt.Errorf("failed to import task %s: %w", incoming.ID, err)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("failed to import %s: %v", incoming.ID, err))
			continue
		}

		switch outcome {
		case "inserted":
			result.Inserted++
		case "updated":
			result.Updated++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

// prepare copies an incoming record, dropping sync bookkeeping unless keep
// is set. A zero LastModifiedDate is treated as the oldest possible edit.
func prepare(in *record.TaskRecord, keep bool) *record.TaskRecord {
	out := in.Clone()
	out.RejectReason = ""
	if !keep {
		out.RemoteRecordID = ""
		out.LastSyncDate = nil
	}
	if out.LastModifiedDate.IsZero() {
		out.LastModifiedDate = time.Unix(0, 0).UTC()
	}
	return out
}

func utcRecord(task *record.TaskRecord) *record.TaskRecord {
	out := task.Clone()
	out.DueDate = out.DueDate.UTC()
	out.LastModifiedDate = out.LastModifiedDate.UTC()
	if out.LastSyncDate != nil {
		t := out.LastSyncDate.UTC()
		out.LastSyncDate = &t
	}
	return out
}
