package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp is what happened to a record file.
type EventOp int

const (
	// OpCreate: a record file appeared.
	OpCreate EventOp = iota
	// OpModify: a record file was rewritten in place.
	OpModify
	// OpDelete: a record file was removed or renamed away.
	OpDelete
)

var opNames = [...]string{OpCreate: "create", OpModify: "modify", OpDelete: "delete"}

func (op EventOp) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "unknown"
	}
	return opNames[op]
}

// FileEvent is a change to one record file of a folder remote laid out as
// <root>/<type>/<key>.json.
type FileEvent struct {
	Path string // absolute path of the file
	Type string // record type, the file's directory name
	Key  string // record key, the file name without .json
	Op   EventOp
}

// errWatcherRunning is returned by Start on a watcher that is already started.
var errWatcherRunning = errors.New("watcher already running")

// FileWatcher reports record file changes under a folder remote. Type
// directories created after Start are added as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error

	mu      sync.Mutex
	root    string
	started bool
	stopped bool
	quit    chan struct{}
	loop    sync.WaitGroup
}

// NewFileWatcher allocates the underlying fsnotify watcher. Nothing is
// watched until Start.
func NewFileWatcher() (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		watcher: w,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		quit:    make(chan struct{}),
	}, nil
}

// Start watches root and each type directory already under it.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.started {
		return errWatcherRunning
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	dirs, err := typeDirs(abs)
	if err != nil {
		return err
	}
	for i, dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			for _, added := range dirs[:i] {
				_ = fw.watcher.Remove(added)
			}
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	fw.root = abs
	fw.started = true
	fw.loop.Add(1)
	go fw.run()
	return nil
}

// typeDirs returns root followed by its non-hidden subdirectories.
func typeDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", root, err)
	}
	dirs := []string{root}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }

// Stop closes the watcher and both channels. Calling it again, or on a
// watcher never started, does nothing.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.started || fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	fw.mu.Unlock()

	close(fw.quit)
	err := fw.watcher.Close()
	fw.loop.Wait()
	close(fw.events)
	close(fw.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events delivers record file changes until Stop.
func (fw *FileWatcher) Events() <-chan FileEvent { return fw.events }

// Errors delivers watch failures until Stop.
func (fw *FileWatcher) Errors() <-chan error { return fw.errors }

// IsRunning reports whether Start succeeded and Stop has not been called.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.started && !fw.stopped
}

func (fw *FileWatcher) run() {
	defer fw.loop.Done()
	for {
		select {
		case <-fw.quit:
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.isNewTypeDir(ev) {
				if err := fw.watcher.Add(ev.Name); err != nil {
					fw.report(fmt.Errorf("failed to watch directory %s: %w", ev.Name, err))
				}
				continue
			}
			if fe, ok := fw.classify(ev); ok {
				select {
				case fw.events <- fe:
				case <-fw.quit:
					return
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.quit:
				return
			}
		}
	}
}

// report hands err to Errors without blocking the event loop.
func (fw *FileWatcher) report(err error) {
	select {
	case fw.errors <- err:
	default:
	}
}

func (fw *FileWatcher) isNewTypeDir(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) || filepath.Dir(ev.Name) != fw.root || hidden(filepath.Base(ev.Name)) {
		return false
	}
	info, err := os.Stat(ev.Name)
	return err == nil && info.IsDir()
}

// classify maps an fsnotify event on <root>/<type>/<key>.json to a
// FileEvent. Hidden files, which include the remote's temp files, are
// skipped along with anything that is not JSON.
func (fw *FileWatcher) classify(ev fsnotify.Event) (FileEvent, bool) {
	dir, name := filepath.Split(ev.Name)
	dir = filepath.Clean(dir)
	key, isJSON := strings.CutSuffix(name, ".json")
	if !isJSON || key == "" || hidden(name) || filepath.Dir(dir) != fw.root {
		return FileEvent{}, false
	}

	fe := FileEvent{Path: ev.Name, Type: filepath.Base(dir), Key: key}
	switch {
	case ev.Has(fsnotify.Create):
		fe.Op = OpCreate
	case ev.Has(fsnotify.Write):
		fe.Op = OpModify
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		fe.Op = OpDelete
	default:
		return FileEvent{}, false
	}
	return fe, true
}
