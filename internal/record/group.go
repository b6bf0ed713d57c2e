package record

import (
	"sort"
	"strings"
	"time"
)

// Group is the due-date section a live task is listed under.
type Group int

const (
	// GroupPast holds tasks due on a calendar day before today.
	GroupPast Group = iota
	// GroupToday holds tasks due today.
	GroupToday
	// GroupUpcoming holds tasks due after today.
	GroupUpcoming
)

// Groups lists every group in display order.
var Groups = []Group{GroupPast, GroupToday, GroupUpcoming}

// String returns the display name of the group.
func (g Group) String() string {
	switch g {
	case GroupPast:
		return "Past"
	case GroupToday:
		return "Today"
	case GroupUpcoming:
		return "Upcoming"
	default:
		return "Unknown"
	}
}

// ParseGroup maps a group name (case-insensitive, "overdue" accepted for past)
// back to a Group.
func ParseGroup(s string) (Group, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "past", "overdue":
		return GroupPast, true
	case "today":
		return GroupToday, true
	case "upcoming":
		return GroupUpcoming, true
	default:
		return 0, false
	}
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// GroupOf classifies a due date against now. Both are compared as calendar
// days in now's location.
func GroupOf(due, now time.Time) Group {
	today := StartOfDay(now)
	day := StartOfDay(due.In(now.Location()))

	switch {
	case day.Before(today):
		return GroupPast
	case day.Equal(today):
		return GroupToday
	default:
		return GroupUpcoming
	}
}

// GroupByDueDate buckets live records by due date. Tombstones are dropped.
// Each bucket keeps (due date, sort order) order.
func GroupByDueDate(tasks []*TaskRecord, now time.Time) map[Group][]*TaskRecord {
	groups := map[Group][]*TaskRecord{
		GroupPast:     {},
		GroupToday:    {},
		GroupUpcoming: {},
	}

	for _, task := range tasks {
		if task.IsDeleted {
			continue
		}
		g := GroupOf(task.DueDate, now)
		groups[g] = append(groups[g], task)
	}

	for _, g := range Groups {
		SortTasks(groups[g])
	}
	return groups
}

// SortTasks orders tasks by (due date asc, sort order asc), the store's
// listing order. Ties keep their relative order.
func SortTasks(tasks []*TaskRecord) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].DueDate.Equal(tasks[j].DueDate) {
			return tasks[i].DueDate.Before(tasks[j].DueDate)
		}
		return tasks[i].SortOrder < tasks[j].SortOrder
	})
}
