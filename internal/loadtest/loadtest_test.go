package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/remote"
)

func newFleet(t *testing.T, n int) *Fleet {
	t.Helper()
	f, err := NewFleet(n, remote.NewMemory(), nil)
	if err != nil {
		t.Fatalf("Failed to create fleet: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestNewFleet_RequiresDevice(t *testing.T) {
	if _, err := NewFleet(0, remote.NewMemory(), nil); err == nil {
		t.Fatal("Expected error for empty fleet")
	}
}

// TestRunAndConverge_Small runs a short concurrent workload and checks that
// every device ends with the same tasks.
func TestRunAndConverge_Small(t *testing.T) {
	f := newFleet(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := f.Run(ctx, 20, 42)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Ops != 60 {
		t.Errorf("Expected 60 ops, got %d", result.Ops)
	}
	if result.Passes.TotalPasses != 60 {
		t.Errorf("Expected 60 passes, got %d", result.Passes.TotalPasses)
	}
	if result.Passes.Errors > 0 {
		t.Errorf("Got %d sync errors", result.Passes.Errors)
	}

	rounds, err := f.Converge(ctx, 10)
	if err != nil {
		t.Fatalf("Fleet did not converge: %v", err)
	}
	t.Logf("Converged in %d round(s)", rounds)

	live, err := f.LiveTasks(ctx)
	if err != nil {
		t.Fatalf("LiveTasks failed: %v", err)
	}
	if live == 0 {
		t.Error("Expected some live tasks after the run")
	}
}

func TestVerify_DetectsDivergence(t *testing.T) {
	f := newFleet(t, 2)
	ctx := context.Background()

	// Edit on one device without syncing.
	d := f.Devices[0]
	d.Coord.Close()
	if _, err := d.Tasks.Create(ctx, "Only here", "", record.StartOfDay(d.Tasks.Now())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := f.Verify(ctx)
	if err == nil {
		t.Fatal("Expected divergence")
	}
	if !strings.Contains(err.Error(), "live tasks") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestConverge_PropagatesEdits(t *testing.T) {
	f := newFleet(t, 2)
	ctx := context.Background()
	a, b := f.Devices[0], f.Devices[1]

	id, err := a.Tasks.Create(ctx, "Buy milk", "", record.StartOfDay(a.Tasks.Now()))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Converge(ctx, 5); err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	task, err := b.Tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("Task missing on second device: %v", err)
	}
	if task.Title != "Buy milk" {
		t.Errorf("Title = %q, want %q", task.Title, "Buy milk")
	}

	if err := b.Tasks.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.Converge(ctx, 5); err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if live, _ := f.LiveTasks(ctx); live != 0 {
		t.Errorf("Expected deletion to reach the first device, %d live", live)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.TotalPasses != 100 {
		t.Errorf("TotalPasses = %d", stats.TotalPasses)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf)
	if !strings.Contains(buf.String(), "Passes:        100") {
		t.Errorf("PrintStats output:\n%s", buf.String())
	}

	if empty := computeLatencyStats(nil); empty.TotalPasses != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}
