package sync_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/remote"
	"github.com/tinytodo/tasksync/internal/store"
	"github.com/tinytodo/tasksync/internal/sync"
)

// This example pushes a local task to an in-memory remote and then pulls
// a change made on another device.
func ExampleNewTaskCoordinator() {
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	database, err := store.OpenWithConfig(store.MemoryPath, &store.Config{Logger: quiet})
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	service := remote.NewMemory()
	coord := sync.NewTaskCoordinator(database, service, &sync.Config{Logger: quiet})
	defer coord.Close()

	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := database.Insert(ctx, &record.TaskRecord{ID: "t-1", Title: "Water plants", DueDate: due}); err != nil {
		log.Fatal(err)
	}
	if err := coord.Drain(ctx); err != nil {
		log.Fatal(err)
	}

	rec, _ := service.Lookup(record.Kind, "t-1")
	fmt.Println("remote:", rec.Fields.String(sync.FieldTitle).Value)

	// Another device completes the task
	fields := rec.Fields.Clone()
	fields[sync.FieldIsCompleted] = 1
	fields[sync.FieldLastModifiedDate] = time.Now().Add(time.Minute)
	if _, err := service.Put(remote.Record{Type: record.Kind, Key: "t-1", Fields: fields}); err != nil {
		log.Fatal(err)
	}

	report, err := coord.Sync(ctx)
	if err != nil {
		log.Fatal(err)
	}
	task, _ := database.FetchByID(ctx, "t-1")
	fmt.Println("updated:", report.Updated, "completed:", task.IsCompleted)

	// Output:
	// remote: Water plants
	// updated: 1 completed: true
}
