// Package daemon runs synchronization in the background.
//
// A Daemon asks its Trigger (normally a sync.Coordinator) for a pass:
//
//   - once at startup
//   - on every tick of a cron schedule (robfig/cron spec, default "@every 1m")
//   - after a burst of file changes in a watched folder remote settles
//
// Triggers coalesce in the coordinator, so a schedule tick that lands during
// a running pass costs at most one follow-up pass.
//
// # File Watching
//
// FileWatcher wraps fsnotify for a folder remote laid out as
// <root>/<type>/<key>.json:
//
//	fw, err := daemon.NewFileWatcher()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Stop()
//
//	if err := fw.Start("/path/to/remote"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range fw.Events() {
//	    fmt.Printf("%s %s/%s\n", event.Op, event.Type, event.Key)
//	}
//
// The watcher:
//   - Filters to .json files, skipping dot-prefixed temp files
//   - Watches type directories created after Start
//   - Maps Rename to OpDelete (the new name triggers a separate Create)
//   - Closes Events() and Errors() on Stop
//
// Writes made by the folder remote during a pass are also seen. The pass
// they trigger pulls its own echoes, which reconcile to nothing and write
// no files, so the loop settles.
//
// # Usage
//
//	d, err := daemon.NewWithConfig(coord, &daemon.Config{
//	    Schedule:         "@every 1m",
//	    WatchDir:         "/path/to/remote",
//	    DebounceInterval: 500 * time.Millisecond,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return d.Start(ctx)
//
// # Graceful Shutdown
//
// Start returns when its context is cancelled or Stop is called. Stop waits
// for a running cron job to return, closes the watcher and waits for the
// event goroutines. It is safe to call more than once.
package daemon
