package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tinytodo/tasksync/internal/config"
	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/remote"
	"github.com/tinytodo/tasksync/internal/store"
	"github.com/tinytodo/tasksync/internal/sync"
	"github.com/tinytodo/tasksync/internal/tasks"
	"github.com/tinytodo/tasksync/internal/ui"
)

// app holds everything a command needs, assembled once per invocation.
type app struct {
	cfg    *config.Config
	db     *store.DB
	svc    *tasks.Service
	client remote.Client
	dir    *remote.Dir // set for the dir remote
	coord  *sync.Coordinator[*record.TaskRecord]
	out    *ui.Printer
	logs   io.WriteCloser

	remoteDesc string
}

// loadConfig reads the configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile})
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// openApp opens the store and, when withSync is set and --no-sync is not,
// a coordinator that syncs after every local change.
func openApp(withSync bool) *app {
	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}
	a, err := newApp(cfg, withSync && !noSync)
	if err != nil {
		fatal("%v", err)
	}
	return a
}

func newApp(cfg *config.Config, withSync bool) (*app, error) {
	a := &app{
		cfg:  cfg,
		out:  ui.NewPrinter(os.Stdout, noColor),
		logs: cfg.LogWriter(),
	}

	loc, _ := cfg.Location()
	db, err := store.OpenWithConfig(cfg.DBPath, &store.Config{Logger: a.logger("store")})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	a.db = db
	a.svc = tasks.NewService(a.db, &tasks.Config{Location: loc})

	if withSync && canSync(cfg) {
		if err := a.openRemote(); err != nil {
			a.close()
			return nil, err
		}
		a.coord = sync.NewTaskCoordinator(a.db, a.client, &sync.Config{Logger: a.logger("sync")})
	}
	return a, nil
}

// canSync reports whether cfg names a remote that outlives this process.
// A pass against a throwaway remote would mark on-disk tasks synced and
// advance the cursor, so the tasks would never reach a real remote later.
func canSync(cfg *config.Config) bool {
	switch cfg.Remote.Kind {
	case config.RemoteNone:
		return false
	case config.RemoteMemory:
		return cfg.DBPath == store.MemoryPath
	default:
		return true
	}
}

// requireSync exits unless a coordinator is open.
func (a *app) requireSync(command string) {
	if a.coord != nil {
		return
	}
	if a.cfg.Remote.Kind == config.RemoteMemory {
		a.fatal("%s: the memory remote only works with an in-memory database; set remote.kind to http or dir", command)
	}
	a.fatal("%s: no remote configured; set remote.kind to http or dir (see tasksync config init)", command)
}

// openRemote builds the configured remote client.
func (a *app) openRemote() error {
	client, desc, dir, err := newRemote(a.cfg, a.logger("remote"))
	if err != nil {
		return err
	}
	a.client, a.remoteDesc, a.dir = client, desc, dir
	return nil
}

func newRemote(cfg *config.Config, logger *log.Logger) (remote.Client, string, *remote.Dir, error) {
	switch cfg.Remote.Kind {
	case config.RemoteHTTP:
		return remote.NewHTTPClient(cfg.Remote.URL, cfg.Remote.Timeout), "http " + cfg.Remote.URL, nil, nil
	case config.RemoteDir:
		dir, err := remote.NewDir(cfg.Remote.Dir, logger)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to open remote folder: %w", err)
		}
		return dir, "dir " + dir.Root(), dir, nil
	case config.RemoteNone:
		return nil, "none (local only)", nil, nil
	default:
		desc := "memory (this process only)"
		if !canSync(cfg) {
			desc += ", sync disabled for an on-disk database"
		}
		return remote.NewMemory(), desc, nil, nil
	}
}

// logger returns a component logger. One-shot commands log only with
// --verbose or when a log file is configured.
func (a *app) logger(component string) *log.Logger {
	if verbose || a.cfg.LogFile != "" {
		return config.NewLogger(a.logs, component)
	}
	return log.New(io.Discard, "", 0)
}

// settle waits for the sync pass triggered by a local change and warns
// when it did not complete. The local change is already durable either way.
func (a *app) settle() {
	if a.coord == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Remote.Timeout)
	defer cancel()

	if err := a.coord.Drain(ctx); err != nil {
		a.out.Warn("Saved locally; sync still running after %v", a.cfg.Remote.Timeout)
		return
	}
	if rep := a.coord.LastReport(); rep != nil && !rep.OK() {
		a.out.Warn("Saved locally; sync failed: %s", rep.Error)
	}
}

func (a *app) close() {
	if a.coord != nil {
		a.coord.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

// fatal closes the app and exits.
func (a *app) fatal(format string, args ...any) {
	a.close()
	fatal(format, args...)
}

// resolve finds a live task by ID or unique ID prefix.
func (a *app) resolve(ctx context.Context, idOrPrefix string) *record.TaskRecord {
	task, err := a.svc.Resolve(ctx, idOrPrefix)
	if err != nil {
		if store.IsNotFound(err) {
			a.fatal("task %s not found", idOrPrefix)
		}
		a.fatal("%v", err)
	}
	return task
}
