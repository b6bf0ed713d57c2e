// Package loadtest simulates several devices editing one task list at the
// same time and syncing through a shared remote.
//
// Each device has its own in-memory store and coordinator. A run performs
// random edits on every device concurrently, syncing after each edit, and
// records how long each pass took. Converge then syncs the whole fleet
// until every device holds the same live tasks.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/remote"
	"github.com/tinytodo/tasksync/internal/store"
	tsync "github.com/tinytodo/tasksync/internal/sync"
	"github.com/tinytodo/tasksync/internal/tasks"
)

// Device is one simulated client.
type Device struct {
	Name  string
	DB    *store.DB
	Tasks *tasks.Service
	Coord *tsync.Coordinator[*record.TaskRecord]
}

// Fleet is a set of devices sharing one remote.
type Fleet struct {
	Remote  remote.Client
	Devices []*Device
}

// LatencyStats captures sync pass timings.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalPasses int
	Errors      int
	Durations   []time.Duration
}

// Result summarizes a Run.
type Result struct {
	Ops      int
	OpErrors int
	Passes   *LatencyStats
}

// NewFleet creates n devices syncing with client. A nil logger discards
// store and sync logs.
func NewFleet(n int, client remote.Client, logger *log.Logger) (*Fleet, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one device, got %d", n)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	f := &Fleet{Remote: client}
	for i := 0; i < n; i++ {
		db, err := store.OpenWithConfig(store.MemoryPath, &store.Config{Logger: logger})
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to open store for device %d: %w", i, err)
		}

		name := fmt.Sprintf("device-%02d", i)
		f.Devices = append(f.Devices, &Device{
			Name:  name,
			DB:    db,
			Tasks: tasks.NewService(db, &tasks.Config{Location: time.UTC}),
			Coord: tsync.NewTaskCoordinator(db, client, &tsync.Config{Logger: logger}),
		})
	}
	return f, nil
}

// Close closes every device.
func (f *Fleet) Close() error {
	var firstErr error
	for _, d := range f.Devices {
		d.Coord.Close()
		if err := d.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run performs opsPerDevice random edits on every device concurrently,
// running one sync pass after each edit. The same seed gives every device
// the same sequence of choices on each run.
func (f *Fleet) Run(ctx context.Context, opsPerDevice int, seed int64) (*Result, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var allDurations []time.Duration
	result := &Result{}
	passErrors := 0

	for i, d := range f.Devices {
		wg.Add(1)
		go func(i int, d *Device) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed + int64(i)))
			durations := make([]time.Duration, 0, opsPerDevice)
			opErrors, syncErrors := 0, 0

			for j := 0; j < opsPerDevice; j++ {
				if ctx.Err() != nil {
					break
				}
				if err := d.randomOp(ctx, rng, j); err != nil {
					opErrors++
				}

				start := time.Now()
				if _, err := d.Coord.Sync(ctx); err != nil {
					syncErrors++
				}
				durations = append(durations, time.Since(start))
			}

			mu.Lock()
			allDurations = append(allDurations, durations...)
			result.Ops += len(durations)
			result.OpErrors += opErrors
			passErrors += syncErrors
			mu.Unlock()
		}(i, d)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no sync passes completed")
	}

	result.Passes = computeLatencyStats(allDurations)
	result.Passes.Errors = passErrors
	return result, nil
}

// randomOp applies one edit chosen by rng.
func (d *Device) randomOp(ctx context.Context, rng *rand.Rand, n int) error {
	live, err := d.DB.FetchAll(ctx)
	if err != nil {
		return err
	}

	today := record.StartOfDay(d.Tasks.Now())
	roll := rng.Float64()
	if len(live) == 0 || roll < 0.4 {
		due := today.AddDate(0, 0, rng.Intn(5)-2)
		_, err := d.Tasks.Create(ctx, fmt.Sprintf("%s task %d", d.Name, n), "", due)
		return err
	}

	task := live[rng.Intn(len(live))]
	switch {
	case roll < 0.65:
		return d.Tasks.Update(ctx, task.ID, task.Title+" *", task.SubtitleValue(), task.DueDate)
	case roll < 0.8:
		_, err := d.Tasks.ToggleCompletion(ctx, task.ID)
		return err
	case roll < 0.92:
		return d.Tasks.Move(ctx, task.ID, 0)
	default:
		return d.Tasks.Delete(ctx, task.ID)
	}
}

// Converge syncs every device in turn until all hold the same live tasks,
// and returns the number of rounds it took.
func (f *Fleet) Converge(ctx context.Context, maxRounds int) (int, error) {
	for _, d := range f.Devices {
		if err := d.Coord.Drain(ctx); err != nil {
			return 0, err
		}
	}

	var lastErr error
	for round := 1; round <= maxRounds; round++ {
		for _, d := range f.Devices {
			if _, err := d.Coord.Sync(ctx); err != nil {
				return round, fmt.Errorf("%s: %w", d.Name, err)
			}
		}
		if lastErr = f.Verify(ctx); lastErr == nil {
			return round, nil
		}
	}
	return maxRounds, fmt.Errorf("not converged after %d rounds: %w", maxRounds, lastErr)
}

// Verify checks that every device holds the same live tasks as the first.
func (f *Fleet) Verify(ctx context.Context) error {
	want, err := snapshot(ctx, f.Devices[0])
	if err != nil {
		return err
	}

	for _, d := range f.Devices[1:] {
		got, err := snapshot(ctx, d)
		if err != nil {
			return err
		}
		if len(got) != len(want) {
			return fmt.Errorf("%s has %d live tasks, %s has %d", d.Name, len(got), f.Devices[0].Name, len(want))
		}
		for id, w := range want {
			if g, ok := got[id]; !ok {
				return fmt.Errorf("%s is missing task %s", d.Name, id)
			} else if g != w {
				return fmt.Errorf("%s differs on task %s: %q vs %q", d.Name, id, g, w)
			}
		}
	}
	return nil
}

// LiveTasks returns the number of live tasks on the first device.
func (f *Fleet) LiveTasks(ctx context.Context) (int, error) {
	live, err := f.Devices[0].DB.FetchAll(ctx)
	return len(live), err
}

// snapshot maps each live task to a string of its user-visible fields.
func snapshot(ctx context.Context, d *Device) (map[string]string, error) {
	live, err := d.DB.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	out := make(map[string]string, len(live))
	for _, t := range live {
		out[t.ID] = fmt.Sprintf("%s|%s|%s|%v|%d",
			t.Title, t.SubtitleValue(), t.DueDate.UTC().Format(time.RFC3339), t.IsCompleted, t.SortOrder)
	}
	return out, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(durations)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalPasses: len(durations),
		Durations:   sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Sync pass latency:\n")
	fmt.Fprintf(w, "  Passes:        %d\n", s.TotalPasses)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
