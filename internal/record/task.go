package record

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the record type name used on the wire for task records.
const Kind = "TodoTask"

// MaxTitleLength bounds the title length accepted by Validate.
const MaxTitleLength = 500

// ErrInvalid is returned (wrapped) when a record fails validation.
var ErrInvalid = errors.New("invalid record")

// TaskRecord is the unit of synchronization.
type TaskRecord struct {
	// ===== Identity =====
	ID string `json:"id" yaml:"id"`

	// ===== Task Content =====
	Title       string    `json:"title" yaml:"title"`
	Subtitle    *string   `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	DueDate     time.Time `json:"due_date" yaml:"due_date"`
	IsCompleted bool      `json:"is_completed" yaml:"is_completed"`
	SortOrder   int       `json:"sort_order" yaml:"sort_order"`

	// ===== Sync Bookkeeping =====
	LastModifiedDate time.Time  `json:"last_modified_date" yaml:"last_modified_date"`
	RemoteRecordID   string     `json:"remote_record_id,omitempty" yaml:"remote_record_id,omitempty"`
	LastSyncDate     *time.Time `json:"last_sync_date,omitempty" yaml:"last_sync_date,omitempty"`
	IsDeleted        bool       `json:"is_deleted,omitempty" yaml:"is_deleted,omitempty"`

	// RejectReason is set when the remote permanently refused this record.
	// Rejected records are skipped by outbound sync until the next local edit.
	RejectReason string `json:"reject_reason,omitempty" yaml:"reject_reason,omitempty"`
}

// Validate checks the fields every stored record must satisfy.
func (t *TaskRecord) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(t.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title must be %d characters or less (got %d)", ErrInvalid, MaxTitleLength, len(t.Title))
	}
	if t.DueDate.IsZero() {
		return fmt.Errorf("%w: due date is required", ErrInvalid)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (t *TaskRecord) Clone() *TaskRecord {
	c := *t
	if t.Subtitle != nil {
		s := *t.Subtitle
		c.Subtitle = &s
	}
	if t.LastSyncDate != nil {
		ls := *t.LastSyncDate
		c.LastSyncDate = &ls
	}
	return &c
}

// IsDirty reports whether the record has local changes the remote has not seen.
func (t *TaskRecord) IsDirty() bool {
	return t.LastSyncDate == nil || t.LastModifiedDate.After(*t.LastSyncDate)
}

// IsRejected reports whether the remote permanently refused the record.
func (t *TaskRecord) IsRejected() bool {
	return t.RejectReason != ""
}

// NextModified returns the LastModifiedDate a local mutation performed at now
// must stamp. The result is strictly after both the current LastModifiedDate
// and LastSyncDate, so every local mutation leaves the record dirty even when
// the wall clock is behind a timestamp received from the remote.
func (t *TaskRecord) NextModified(now time.Time) time.Time {
	next := now
	if floor := t.LastModifiedDate.Add(time.Nanosecond); next.Before(floor) {
		next = floor
	}
	if t.LastSyncDate != nil {
		if floor := t.LastSyncDate.Add(time.Nanosecond); next.Before(floor) {
			next = floor
		}
	}
	return next
}

// SyncStamp returns the LastSyncDate to record after a reconciliation at now.
// It never precedes LastModifiedDate, so a just-synced record is clean.
func (t *TaskRecord) SyncStamp(now time.Time) time.Time {
	if now.Before(t.LastModifiedDate) {
		return t.LastModifiedDate
	}
	return now
}

// SubtitleValue returns the subtitle or "" when absent.
func (t *TaskRecord) SubtitleValue() string {
	if t.Subtitle == nil {
		return ""
	}
	return *t.Subtitle
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Equal reports whether two records hold identical field values.
// Times are compared with Equal so location and monotonic readings are ignored.
func Equal(a, b *TaskRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	if (a.Subtitle == nil) != (b.Subtitle == nil) {
		return false
	}
	if a.Subtitle != nil && *a.Subtitle != *b.Subtitle {
		return false
	}
	if (a.LastSyncDate == nil) != (b.LastSyncDate == nil) {
		return false
	}
	if a.LastSyncDate != nil && !a.LastSyncDate.Equal(*b.LastSyncDate) {
		return false
	}
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.DueDate.Equal(b.DueDate) &&
		a.IsCompleted == b.IsCompleted &&
		a.SortOrder == b.SortOrder &&
		a.LastModifiedDate.Equal(b.LastModifiedDate) &&
		a.RemoteRecordID == b.RemoteRecordID &&
		a.IsDeleted == b.IsDeleted &&
		a.RejectReason == b.RejectReason
}
