package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
	"github.com/tinytodo/tasksync/internal/sync"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fixedGroups implements GroupedTasks over a map.
type fixedGroups map[record.Group][]*record.TaskRecord

func (g fixedGroups) Get(group record.Group) []*record.TaskRecord { return g[group] }

func TestFormatDue(t *testing.T) {
	tests := []struct {
		due  time.Time
		want string
	}{
		{time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "today"},
		{time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC), "today 17:30"},
		{time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), "tomorrow 09:00"},
		{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), "yesterday"},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "Apr 1"},
		{time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), "Jan 5 2027"},
	}

	for _, tt := range tests {
		if got := formatDue(tt.due, now); got != tt.want {
			t.Errorf("formatDue(%v) = %q, want %q", tt.due, got, tt.want)
		}
	}
}

func TestPrinter_Groups(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false) // a buffer is not a terminal: plain output

	synced := now
	groups := fixedGroups{
		record.GroupToday: {
			{ID: "0123456789", Title: "Buy milk", DueDate: now, LastModifiedDate: now, LastSyncDate: &synced},
			{ID: "abc", Title: "Call mom", Subtitle: record.StringPtr("evening"), DueDate: now, IsCompleted: true, LastModifiedDate: now},
		},
		record.GroupUpcoming: {
			{ID: "def", Title: "Dentist", DueDate: now.Add(24 * time.Hour), LastModifiedDate: now, RejectReason: "bad"},
		},
	}
	p.Groups(groups, now, true)

	out := buf.String()
	for _, want := range []string{
		"Today (2)",
		"01234567 [ ] Buy milk today 12:00",
		"[x] Call mom - evening",
		"Upcoming (1)",
		"Dentist tomorrow 12:00 rejected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Past") {
		t.Errorf("empty group rendered:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("non-terminal output contains escape codes:\n%q", out)
	}
}

func TestPrinter_GroupsEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Groups(fixedGroups{}, now, false)

	if got := strings.TrimSpace(buf.String()); got != "No tasks." {
		t.Errorf("output = %q, want %q", got, "No tasks.")
	}
}

func TestPrinter_Report(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Report(&sync.Report{Started: now, Finished: now.Add(1500 * time.Millisecond), Pulled: 3, Inserted: 1, Pushed: 2})
	p.Report(&sync.Report{Started: now, Finished: now, Err: errors.New("offline"), Error: "offline", Rejected: 1})
	p.Report(nil)

	out := buf.String()
	for _, want := range []string{
		"✓ Sync: pulled 3 (inserted 1, updated 0, deleted 0), pushed 2, removed 0 in 1.5s",
		"✗ Sync stopped: offline",
		"! 1 task(s) rejected by the remote",
		"No sync pass yet.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_Status(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Status(store.Counts{Live: 4, Deleted: 1, Dirty: 2}, time.Time{}, "memory")

	out := buf.String()
	for _, want := range []string{"tasks: 4 live, 1 deleted", "pending: 2", "rejected: 0", "remote: memory", "pulled up to: never"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_Task(t *testing.T) {
	var buf bytes.Buffer
	task := &record.TaskRecord{ID: "t-1", Title: "Buy milk", Subtitle: record.StringPtr("2 liters"), DueDate: now, LastModifiedDate: now}
	NewPrinter(&buf, true).Task(task, now)

	out := buf.String()
	for _, want := range []string{"Buy milk", "2 liters", "id: t-1", "due: today 12:00 (Today)", "sync: pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
