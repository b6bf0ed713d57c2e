package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger requests a sync pass. Requests made while a pass is running
// coalesce into one follow-up pass.
type Trigger interface {
	Trigger()
}

// Config configures a Daemon.
type Config struct {
	// Schedule is the cron spec for periodic passes, e.g. "@every 1m" or
	// "*/5 * * * *". Empty disables the schedule.
	Schedule string

	// WatchDir is the root of a folder remote to watch. Empty disables
	// file watching.
	WatchDir string

	// DebounceInterval is how long the watched folder must be quiet before
	// a pass is triggered. This batches rapid updates together.
	DebounceInterval time.Duration

	// Location is the time zone cron specs are evaluated in (default: time.Local)
	Location *time.Location

	// Logger for passes, file events and shutdown
	Logger *log.Logger
}

// DefaultConfig returns a one-minute schedule, a 500ms debounce and no watched folder.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         "@every 1m",
		DebounceInterval: 500 * time.Millisecond,
		Location:         time.Local,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon keeps the local store in sync without user interaction: one pass
// at startup, one per schedule tick, and one after each burst of changes
// in a watched folder remote.
type Daemon struct {
	trigger Trigger
	config  *Config

	cron    *cron.Cron
	watcher *FileWatcher

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a Daemon with default configuration.
func New(trigger Trigger) (*Daemon, error) {
	return NewWithConfig(trigger, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. An invalid
// cron spec is reported here rather than at Start.
func NewWithConfig(trigger Trigger, config *Config) (*Daemon, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	d := &Daemon{
		trigger:     trigger,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if config.Schedule != "" {
		d.cron = cron.New(cron.WithLocation(config.Location))
		if _, err := d.cron.AddFunc(config.Schedule, d.scheduled); err != nil {
			d.cancel()
			return nil, fmt.Errorf("invalid sync schedule %q: %w", config.Schedule, err)
		}
	}

	if config.WatchDir != "" {
		watcher, err := NewFileWatcher()
		if err != nil {
			d.cancel()
			return nil, err
		}
		d.watcher = watcher
	}

	return d, nil
}

// Start begins the daemon's operation. It triggers an initial pass, starts
// the schedule and the folder watcher, and blocks until ctx is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.WatchDir); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.config.WatchDir)

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	if d.cron != nil {
		d.cron.Start()
		d.config.Logger.Printf("Schedule: %s", d.config.Schedule)
	}

	d.trigger.Trigger()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A pass already running is left to
// its coordinator.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if d.cron != nil {
			<-d.cron.Stop().Done()
		}
		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				d.config.Logger.Printf("Error closing watcher: %v", werr)
				err = werr
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// NextRun returns the time of the next scheduled pass, or the zero time
// when no schedule is configured or the daemon is not started.
func (d *Daemon) NextRun() time.Time {
	if d.cron == nil {
		return time.Time{}
	}
	entries := d.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (d *Daemon) scheduled() {
	d.config.Logger.Println("Scheduled sync")
	d.trigger.Trigger()
}

// watchFileEvents queues folder remote changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s/%s", event.Op, event.Type, event.Key)
			d.queueChange(event.Path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges triggers one pass once every queued change has
// been quiet for the debounce interval.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if len(d.changeQueue) == 0 {
		return
	}

	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			return
		}
	}

	d.config.Logger.Printf("Processing %d changed files", len(d.changeQueue))
	clear(d.changeQueue)
	d.trigger.Trigger()
}
