// Package tasks is the command layer: the operations the user interface
// performs on tasks. Every operation writes the local store immediately;
// synchronization happens in the background through the store's change
// notifications.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
)

// ErrGroupMismatch is returned by Reorder when the given IDs are not
// exactly live members of the named group.
var ErrGroupMismatch = errors.New("tasks do not belong to group")

// Config holds optional service settings.
type Config struct {
	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	// Location is the time zone calendar days are computed in
	// (default: time.Local)
	Location *time.Location

	// NewID generates task IDs (default: random UUID)
	NewID func() string
}

// Groups is the listing of live tasks by due date.
type Groups struct {
	Past     []*record.TaskRecord `json:"past"`
	Today    []*record.TaskRecord `json:"today"`
	Upcoming []*record.TaskRecord `json:"upcoming"`
}

// Get returns the tasks of one group.
func (g Groups) Get(group record.Group) []*record.TaskRecord {
	switch group {
	case record.GroupPast:
		return g.Past
	case record.GroupToday:
		return g.Today
	default:
		return g.Upcoming
	}
}

// Len returns the number of listed tasks.
func (g Groups) Len() int {
	return len(g.Past) + len(g.Today) + len(g.Upcoming)
}

// Service implements the task commands on top of the record store.
type Service struct {
	db    *store.DB
	clock func() time.Time
	loc   *time.Location
	newID func() string
}

// NewService creates a Service. If config is nil, defaults are used.
func NewService(db *store.DB, config *Config) *Service {
	s := &Service{
		db:    db,
		clock: time.Now,
		loc:   time.Local,
		newID: uuid.NewString,
	}
	if config != nil {
		if config.Clock != nil {
			s.clock = config.Clock
		}
		if config.Location != nil {
			s.loc = config.Location
		}
		if config.NewID != nil {
			s.newID = config.NewID
		}
	}
	return s
}

// Now returns the service's current time in its location.
func (s *Service) Now() time.Time {
	return s.clock().In(s.loc)
}

// Create adds a task at the end of its due-date group and returns its ID.
// An empty subtitle is stored as absent.
func (s *Service) Create(ctx context.Context, title, subtitle string, due time.Time) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", record.ErrInvalid)
	}

	order, err := s.nextSortOrder(ctx, due, "")
	if err != nil {
		return "", err
	}

	task := &record.TaskRecord{
		ID:        s.newID(),
		Title:     title,
		Subtitle:  record.StringPtr(strings.TrimSpace(subtitle)),
		DueDate:   due,
		SortOrder: order,
	}
	if err := s.db.Insert(ctx, task); err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return task.ID, nil
}

// Update replaces the editable fields of a task. A task whose due date
// moves to another group is appended to the end of that group.
func (s *Service) Update(ctx context.Context, id, title, subtitle string, due time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", record.ErrInvalid)
	}

	cur, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	order := cur.SortOrder
	now := s.Now()
	if record.GroupOf(cur.DueDate, now) != record.GroupOf(due, now) {
		if order, err = s.nextSortOrder(ctx, due, id); err != nil {
			return err
		}
	}

	_, err = s.db.Update(ctx, id, func(task *record.TaskRecord) error {
		if task.IsDeleted {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		task.Title = title
		task.Subtitle = record.StringPtr(strings.TrimSpace(subtitle))
		task.DueDate = due
		task.SortOrder = order
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// Delete tombstones a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.db.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ToggleCompletion flips the completion flag and returns the new value.
func (s *Service) ToggleCompletion(ctx context.Context, id string) (bool, error) {
	var completed bool
	_, err := s.db.Update(ctx, id, func(task *record.TaskRecord) error {
		if task.IsDeleted {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		task.IsCompleted = !task.IsCompleted
		completed = task.IsCompleted
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle task: %w", err)
	}
	return completed, nil
}

// Reorder sets SortOrder = index for each ID. The IDs must be exactly the
// live tasks of group, each once. Tasks already at their index are not
// rewritten.
func (s *Service) Reorder(ctx context.Context, ids []string, group record.Group) error {
	groups, err := s.List(ctx)
	if err != nil {
		return err
	}
	members := groups.Get(group)

	current := make(map[string]int, len(members))
	for _, task := range members {
		current[task.ID] = task.SortOrder
	}
	if len(ids) != len(members) {
		return fmt.Errorf("%w: %s has %d tasks, got %d ids", ErrGroupMismatch, group, len(members), len(ids))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := current[id]; !ok || seen[id] {
			return fmt.Errorf("%w: %s is not in %s", ErrGroupMismatch, id, group)
		}
		seen[id] = true
	}

	for index, id := range ids {
		if current[id] == index {
			continue
		}
		_, err := s.db.Update(ctx, id, func(task *record.TaskRecord) error {
			task.SortOrder = index
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to reorder task %s: %w", id, err)
		}
	}
	return nil
}

// Move places one task at position index within its group and renumbers
// the group.
func (s *Service) Move(ctx context.Context, id string, index int) error {
	task, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	group := record.GroupOf(task.DueDate, s.Now())

	groups, err := s.List(ctx)
	if err != nil {
		return err
	}

	var ids []string
	for _, t := range groups.Get(group) {
		if t.ID != id {
			ids = append(ids, t.ID)
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	ids = append(ids[:index], append([]string{id}, ids[index:]...)...)

	return s.Reorder(ctx, ids, group)
}

// List returns live tasks grouped by calendar day in the service's
// location, each group in (due date, sort order) order.
func (s *Service) List(ctx context.Context) (Groups, error) {
	all, err := s.db.FetchAll(ctx)
	if err != nil {
		return Groups{}, fmt.Errorf("failed to list tasks: %w", err)
	}

	byGroup := record.GroupByDueDate(all, s.Now())
	return Groups{
		Past:     byGroup[record.GroupPast],
		Today:    byGroup[record.GroupToday],
		Upcoming: byGroup[record.GroupUpcoming],
	}, nil
}

// Get returns a live task by ID.
func (s *Service) Get(ctx context.Context, id string) (*record.TaskRecord, error) {
	return s.get(ctx, id)
}

// Resolve finds a live task by full ID or unique ID prefix.
func (s *Service) Resolve(ctx context.Context, idOrPrefix string) (*record.TaskRecord, error) {
	if task, err := s.get(ctx, idOrPrefix); err == nil {
		return task, nil
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	all, err := s.db.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	var match *record.TaskRecord
	for _, task := range all {
		if strings.HasPrefix(task.ID, idOrPrefix) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous task id prefix %q", idOrPrefix)
			}
			match = task
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, idOrPrefix)
	}
	return match, nil
}

func (s *Service) get(ctx context.Context, id string) (*record.TaskRecord, error) {
	task, err := s.db.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.IsDeleted {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return task, nil
}

// nextSortOrder returns one past the highest sort order in due's group,
// ignoring skip.
func (s *Service) nextSortOrder(ctx context.Context, due time.Time, skip string) (int, error) {
	groups, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	next := 0
	for _, task := range groups.Get(record.GroupOf(due, s.Now())) {
		if task.ID != skip && task.SortOrder >= next {
			next = task.SortOrder + 1
		}
	}
	return next, nil
}
