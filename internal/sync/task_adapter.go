package sync

import (
	"context"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/remote"
	"github.com/tinytodo/tasksync/internal/store"
)

// Remote field names of a task record.
const (
	FieldTitle            = "title"
	FieldSubtitle         = "subtitle"
	FieldDueDate          = "dueDate"
	FieldIsCompleted      = "isCompleted"
	FieldSortOrder        = "sortOrder"
	FieldLastModifiedDate = "lastModifiedDate"
)

// TaskAdapter maps task records to and from the remote service.
type TaskAdapter struct{}

var _ Adapter[*record.TaskRecord] = TaskAdapter{}

// Kind implements Adapter.
func (TaskAdapter) Kind() string { return record.Kind }

// Key implements Adapter.
func (TaskAdapter) Key(r *record.TaskRecord) string { return r.ID }

// Meta implements Adapter.
func (TaskAdapter) Meta(r *record.TaskRecord) Meta {
	return Meta{
		LastModified: r.LastModifiedDate,
		LastSync:     r.LastSyncDate,
		RemoteID:     r.RemoteRecordID,
		Deleted:      r.IsDeleted,
	}
}

// Validate implements Adapter.
func (TaskAdapter) Validate(r *record.TaskRecord) error { return r.Validate() }

// ToRemote implements Adapter. The subtitle is omitted when absent and
// isCompleted is sent as 0/1.
func (TaskAdapter) ToRemote(r *record.TaskRecord) remote.Fields {
	completed := 0
	if r.IsCompleted {
		completed = 1
	}

	fields := remote.Fields{
		FieldTitle:            r.Title,
		FieldDueDate:          r.DueDate.UTC(),
		FieldIsCompleted:      completed,
		FieldSortOrder:        r.SortOrder,
		FieldLastModifiedDate: r.LastModifiedDate.UTC(),
	}
	if r.Subtitle != nil {
		fields[FieldSubtitle] = *r.Subtitle
	}
	return fields
}

// FromRemote implements Adapter. Missing title reads as "", missing dates
// as now, missing isCompleted as false and missing sortOrder as 0.
func (TaskAdapter) FromRemote(key string, fields remote.Fields, now time.Time) *record.TaskRecord {
	r := &record.TaskRecord{
		ID:               key,
		Title:            fields.String(FieldTitle).Or(""),
		DueDate:          fields.Time(FieldDueDate).Or(now),
		IsCompleted:      fields.Bool(FieldIsCompleted).Or(false),
		SortOrder:        fields.Int(FieldSortOrder).Or(0),
		LastModifiedDate: fields.Time(FieldLastModifiedDate).Or(now),
	}
	if s, ok := fields.String(FieldSubtitle).Get(); ok {
		r.Subtitle = &s
	}
	return r
}

// ApplyRemote implements Adapter. Fields absent from the payload keep the
// values of into, including the subtitle.
func (TaskAdapter) ApplyRemote(fields remote.Fields, into *record.TaskRecord) *record.TaskRecord {
	r := into.Clone()
	if v, ok := fields.String(FieldTitle).Get(); ok {
		r.Title = v
	}
	if v, ok := fields.String(FieldSubtitle).Get(); ok {
		r.Subtitle = &v
	}
	if v, ok := fields.Time(FieldDueDate).Get(); ok {
		r.DueDate = v
	}
	if v, ok := fields.Bool(FieldIsCompleted).Get(); ok {
		r.IsCompleted = v
	}
	if v, ok := fields.Int(FieldSortOrder).Get(); ok {
		r.SortOrder = v
	}
	if v, ok := fields.Time(FieldLastModifiedDate).Get(); ok {
		r.LastModifiedDate = v
	}
	return r
}

// RemoteModified implements Adapter.
func (TaskAdapter) RemoteModified(fields remote.Fields) time.Time {
	return fields.Time(FieldLastModifiedDate).Or(time.Time{})
}

// Resolve implements Adapter.
//
// The newer lastModifiedDate wins; a payload without one counts as
// earliest. On an exact tie the remote wins only when it is completed and
// the local copy is not, so a completion is never undone by a tie.
func (a TaskAdapter) Resolve(local *record.TaskRecord, fields remote.Fields) Resolution[*record.TaskRecord] {
	remoteModified := a.RemoteModified(fields)

	switch {
	case remoteModified.After(local.LastModifiedDate):
		return Resolution[*record.TaskRecord]{Outcome: UseRemote, Record: a.ApplyRemote(fields, local)}
	case remoteModified.Before(local.LastModifiedDate):
		return Resolution[*record.TaskRecord]{Outcome: UseLocal}
	}

	if fields.Bool(FieldIsCompleted).Or(false) && !local.IsCompleted {
		return Resolution[*record.TaskRecord]{Outcome: UseRemote, Record: a.ApplyRemote(fields, local)}
	}
	return Resolution[*record.TaskRecord]{Outcome: UseLocal}
}

// MarkSynced implements Adapter.
func (TaskAdapter) MarkSynced(r *record.TaskRecord, remoteID string, now time.Time) *record.TaskRecord {
	c := r.Clone()
	if remoteID != "" {
		c.RemoteRecordID = remoteID
	}
	stamp := c.SyncStamp(now)
	c.LastSyncDate = &stamp
	c.RejectReason = ""
	return c
}

// AttachRemoteID implements Adapter.
func (TaskAdapter) AttachRemoteID(r *record.TaskRecord, remoteID string) *record.TaskRecord {
	c := r.Clone()
	c.RemoteRecordID = remoteID
	return c
}

// MarkDeleted implements Adapter.
func (TaskAdapter) MarkDeleted(r *record.TaskRecord) *record.TaskRecord {
	c := r.Clone()
	c.IsDeleted = true
	return c
}

// MarkRejected implements Adapter.
func (TaskAdapter) MarkRejected(r *record.TaskRecord, reason string) *record.TaskRecord {
	c := r.Clone()
	if reason == "" {
		reason = "rejected by remote"
	}
	c.RejectReason = reason
	return c
}

// taskRepository adapts the record store to Repository.
type taskRepository struct {
	db *store.DB
}

var _ Repository[*record.TaskRecord] = taskRepository{}

func (r taskRepository) Dirty(ctx context.Context) ([]*record.TaskRecord, error) {
	return r.db.Dirty(ctx)
}

func (r taskRepository) Reconcile(ctx context.Context, key string, fn ReconcileFunc[*record.TaskRecord]) error {
	_, err := r.db.Reconcile(ctx, key, func(cur *record.TaskRecord) (*record.TaskRecord, error) {
		next, write, err := fn(cur, cur != nil)
		if err != nil || !write {
			return nil, err
		}
		return next, nil
	})
	return err
}

func (r taskRepository) Cursor(ctx context.Context, kind string) (time.Time, error) {
	return r.db.Cursor(ctx, kind)
}

func (r taskRepository) SetCursor(ctx context.Context, kind string, since time.Time) error {
	return r.db.SetCursor(ctx, kind, since)
}

// NewTaskCoordinator builds the coordinator for task records and
// registers it as the store's change listener, so every local mutation
// schedules a pass.
func NewTaskCoordinator(db *store.DB, client remote.Client, config *Config) *Coordinator[*record.TaskRecord] {
	c := New[*record.TaskRecord](taskRepository{db: db}, TaskAdapter{}, client, config)
	db.OnChange(c.Trigger)
	return c
}
