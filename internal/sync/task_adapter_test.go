package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/remote"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func fullTask() *record.TaskRecord {
	return &record.TaskRecord{
		ID:               "t-1",
		Title:            "Write report",
		Subtitle:         record.StringPtr("Q1 numbers"),
		DueDate:          time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
		IsCompleted:      true,
		SortOrder:        4,
		LastModifiedDate: t0,
	}
}

// viaJSON returns fields as they look after crossing an HTTP transport.
func viaJSON(t *testing.T, f remote.Fields) remote.Fields {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out remote.Fields
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestTaskAdapter_RoundTrip(t *testing.T) {
	a := TaskAdapter{}
	now := t1.Add(time.Hour)

	for _, tc := range []struct {
		name string
		task *record.TaskRecord
	}{
		{"with subtitle", fullTask()},
		{"without subtitle", func() *record.TaskRecord { r := fullTask(); r.Subtitle = nil; r.IsCompleted = false; return r }()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, fields := range []remote.Fields{a.ToRemote(tc.task), viaJSON(t, a.ToRemote(tc.task))} {
				got := a.FromRemote(tc.task.ID, fields, now)
				if !record.Equal(got, tc.task) {
					t.Errorf("FromRemote(ToRemote(r)) = %+v, want %+v", got, tc.task)
				}
			}
		})
	}
}

func TestTaskAdapter_ToRemote(t *testing.T) {
	fields := TaskAdapter{}.ToRemote(fullTask())

	if got := fields[FieldIsCompleted]; got != 1 {
		t.Errorf("isCompleted = %v, want 1", got)
	}
	noSub := fullTask()
	noSub.Subtitle = nil
	if _, ok := (TaskAdapter{}).ToRemote(noSub)[FieldSubtitle]; ok {
		t.Error("absent subtitle must be omitted")
	}
}

func TestTaskAdapter_FromRemoteDefaults(t *testing.T) {
	now := t1
	got := TaskAdapter{}.FromRemote("k", remote.Fields{}, now)

	if got.ID != "k" || got.Title != "" || got.IsCompleted || got.SortOrder != 0 || got.Subtitle != nil {
		t.Errorf("FromRemote(empty) = %+v", got)
	}
	if !got.DueDate.Equal(now) || !got.LastModifiedDate.Equal(now) {
		t.Errorf("missing dates = %v / %v, want %v", got.DueDate, got.LastModifiedDate, now)
	}
}

func TestTaskAdapter_ApplyRemote(t *testing.T) {
	local := fullTask()

	t.Run("absent fields keep local values", func(t *testing.T) {
		got := TaskAdapter{}.ApplyRemote(remote.Fields{FieldTitle: "Renamed"}, local)
		want := local.Clone()
		want.Title = "Renamed"
		if !record.Equal(got, want) {
			t.Errorf("ApplyRemote() = %+v, want %+v", got, want)
		}
		if local.Title != "Write report" {
			t.Error("ApplyRemote mutated its input")
		}
	})

	t.Run("null subtitle keeps local subtitle", func(t *testing.T) {
		got := TaskAdapter{}.ApplyRemote(remote.Fields{FieldSubtitle: nil}, local)
		if got.SubtitleValue() != "Q1 numbers" {
			t.Errorf("Subtitle = %q, want local value", got.SubtitleValue())
		}
	})
}

func TestTaskAdapter_Resolve(t *testing.T) {
	a := TaskAdapter{}

	tests := []struct {
		name           string
		localModified  time.Time
		localCompleted bool
		fields         remote.Fields
		want           Outcome
	}{
		{
			name:          "remote newer",
			localModified: t0,
			fields:        remote.Fields{FieldLastModifiedDate: t1, FieldTitle: "remote"},
			want:          UseRemote,
		},
		{
			name:          "local newer",
			localModified: t1,
			fields:        remote.Fields{FieldLastModifiedDate: t0, FieldTitle: "remote"},
			want:          UseLocal,
		},
		{
			name:          "remote missing timestamp counts as earliest",
			localModified: t0,
			fields:        remote.Fields{FieldTitle: "remote"},
			want:          UseLocal,
		},
		{
			name:          "tie, remote completed, local open",
			localModified: t0,
			fields:        remote.Fields{FieldLastModifiedDate: t0, FieldIsCompleted: 1},
			want:          UseRemote,
		},
		{
			name:           "tie, both completed",
			localModified:  t0,
			localCompleted: true,
			fields:         remote.Fields{FieldLastModifiedDate: t0, FieldIsCompleted: 1},
			want:           UseLocal,
		},
		{
			name:           "tie, local completed, remote open",
			localModified:  t0,
			localCompleted: true,
			fields:         remote.Fields{FieldLastModifiedDate: t0, FieldIsCompleted: 0},
			want:           UseLocal,
		},
		{
			name:          "tie via JSON string timestamp",
			localModified: t0,
			fields:        remote.Fields{FieldLastModifiedDate: t0.Format(time.RFC3339Nano), FieldIsCompleted: true},
			want:          UseRemote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := fullTask()
			local.LastModifiedDate = tt.localModified
			local.IsCompleted = tt.localCompleted
			before := local.Clone()

			got := a.Resolve(local, tt.fields)
			if got.Outcome != tt.want {
				t.Fatalf("Resolve() = %v, want %v", got.Outcome, tt.want)
			}
			if !record.Equal(local, before) {
				t.Error("Resolve() mutated local")
			}
			if got.Outcome == UseRemote && got.Record == nil {
				t.Error("UseRemote without merged record")
			}
			if got.Outcome == UseLocal && got.Record != nil {
				t.Error("UseLocal carries a record")
			}

			// Deterministic
			again := a.Resolve(local, tt.fields)
			if again.Outcome != got.Outcome {
				t.Error("Resolve() not deterministic")
			}
		})
	}
}

func TestTaskAdapter_Bookkeeping(t *testing.T) {
	a := TaskAdapter{}
	r := fullTask()
	r.RejectReason = "nope"

	synced := a.MarkSynced(r, "rec-1", t0.Add(-time.Hour))
	if synced.RemoteRecordID != "rec-1" || synced.IsDirty() || synced.IsRejected() {
		t.Errorf("MarkSynced() = %+v", synced)
	}
	if !synced.LastSyncDate.Equal(r.LastModifiedDate) {
		t.Errorf("sync stamp behind lastModified: %v", synced.LastSyncDate)
	}

	kept := a.MarkSynced(synced, "", t1)
	if kept.RemoteRecordID != "rec-1" {
		t.Error("MarkSynced with empty id dropped remote id")
	}

	if !a.MarkDeleted(r).IsDeleted || r.IsDeleted {
		t.Error("MarkDeleted() copy semantics")
	}
	if a.MarkRejected(fullTask(), "").RejectReason == "" {
		t.Error("MarkRejected() with empty reason left record unmarked")
	}
}
