package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/tinytodo/tasksync/internal/remote"
)

// Errors returned by the coordinator.
var (
	// ErrClosed is returned by Sync after Close.
	ErrClosed = errors.New("sync coordinator closed")

	// ErrInvalidRemote marks a pulled payload that cannot be stored locally.
	// Such records are counted and skipped; the pass continues.
	ErrInvalidRemote = errors.New("invalid remote record")
)

// Config holds coordinator settings.
type Config struct {
	// Logger for sync activity (default: stderr logger with "[sync] " prefix)
	Logger *log.Logger

	// Clock supplies sync timestamps (default: time.Now)
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Clock:  time.Now,
	}
}

// Coordinator runs sync passes for one record kind.
//
// At most one pass runs at a time. Trigger never blocks: triggers that
// arrive while a pass is running collapse into a single follow-up pass.
type Coordinator[R any] struct {
	repo    Repository[R]
	adapter Adapter[R]
	client  remote.Client
	logger  *log.Logger
	clock   func() time.Time

	// passMu serializes passes from Trigger and Sync.
	passMu gosync.Mutex

	mu      gosync.Mutex
	running bool
	pending bool
	closed  bool
	idle    chan struct{}
	last    *Report

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	obsMu     gosync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// New creates a coordinator. If config is nil, DefaultConfig is used.
//
// Example:
//
//	coord := sync.New[*record.TaskRecord](repo, sync.TaskAdapter{}, client, nil)
//	defer coord.Close()
//	coord.Trigger()
func New[R any](repo Repository[R], adapter Adapter[R], client remote.Client, config *Config) *Coordinator[R] {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[R]{
		repo:      repo,
		adapter:   adapter,
		client:    client,
		logger:    logger,
		clock:     clock,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]Observer),
	}
}

// Trigger schedules a background pass and returns immediately.
func (c *Coordinator[R]) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.running {
		c.pending = true
		return
	}

	c.running = true
	c.idle = make(chan struct{})
	c.wg.Add(1)
	go c.loop(c.idle)
}

func (c *Coordinator[R]) loop(idle chan struct{}) {
	defer c.wg.Done()

	for {
		if _, err := c.pass(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Printf("Sync pass failed: %v", err)
		}

		c.mu.Lock()
		if !c.pending || c.closed {
			c.running = false
			c.pending = false
			close(idle)
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}

// Sync runs one pass synchronously and returns its report. It waits for
// any background pass to finish first.
func (c *Coordinator[R]) Sync(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return c.pass(ctx)
}

// Drain waits until no background pass is running or pending.
func (c *Coordinator[R]) Drain(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the in-flight pass at the next record boundary, drops
// any pending pass and waits for the background goroutine to exit.
// Safe to call more than once.
func (c *Coordinator[R]) Close() error {
	c.mu.Lock()
	c.closed = true
	c.pending = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

// Running reports whether a background pass is in flight.
func (c *Coordinator[R]) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LastReport returns the report of the most recent pass, or nil.
func (c *Coordinator[R]) LastReport() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Subscribe registers an observer and returns a func that removes it.
func (c *Coordinator[R]) Subscribe(fn Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Coordinator[R]) emit(ev Event) {
	ev.Kind = c.adapter.Kind()
	if ev.Time.IsZero() {
		ev.Time = c.clock()
	}

	c.obsMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

func (c *Coordinator[R]) emitState(key string, state State, detail string) {
	c.emit(Event{Type: EventRecord, Key: key, State: state, Detail: detail})
}

// pass runs one full pull/reconcile/push cycle.
func (c *Coordinator[R]) pass(ctx context.Context) (*Report, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	rep := &Report{Kind: c.adapter.Kind(), Started: c.clock()}
	c.emit(Event{Type: EventPassStarted, Time: rep.Started})

	err := c.run(ctx, rep)

	rep.Finished = c.clock()
	if err != nil {
		rep.Err = err
		rep.Error = err.Error()
	}
	c.logger.Printf("Pass %s: pulled=%d inserted=%d updated=%d deleted=%d pushed=%d removed=%d rejected=%d (%s)",
		outcomeLabel(err), rep.Pulled, rep.Inserted, rep.Updated, rep.Deleted,
		rep.Pushed, rep.Removed, rep.Rejected, rep.Duration().Round(time.Millisecond))

	c.mu.Lock()
	c.last = rep
	c.mu.Unlock()

	c.emit(Event{Type: EventPassFinished, Report: rep, Detail: rep.Error})
	return rep, err
}

func outcomeLabel(err error) string {
	if err != nil {
		return "aborted"
	}
	return "complete"
}

func (c *Coordinator[R]) run(ctx context.Context, rep *Report) error {
	kind := c.adapter.Kind()

	since, err := c.repo.Cursor(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	pulled, err := c.client.Pull(ctx, kind, since)
	if err != nil {
		return fmt.Errorf("failed to pull %s records: %w", kind, err)
	}
	rep.Pulled = len(pulled)

	// Inbound
	repush := newOutbound[R]()
	cursor := since
	for _, rec := range pulled {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Type != "" && rec.Type != kind {
			continue
		}
		if rec.Key == "" {
			c.logger.Printf("Warning: skipping remote record %s without key", rec.ID)
			continue
		}

		err := c.reconcileInbound(ctx, rec, rep, repush)
		if errors.Is(err, ErrInvalidRemote) {
			rep.Invalid++
			c.logger.Printf("Warning: skipping remote record %s: %v", rec.Key, err)
			c.emitState(rec.Key, StateFailed, err.Error())
		} else if err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", rec.Key, err)
		}

		if rec.ChangedAt.After(cursor) {
			cursor = rec.ChangedAt
		}
	}

	if cursor.After(since) {
		if err := c.repo.SetCursor(ctx, kind, cursor); err != nil {
			return fmt.Errorf("failed to save cursor: %w", err)
		}
	}

	// Outbound: dirty records take precedence over re-push snapshots taken
	// during the inbound phase, being at least as fresh.
	dirty, err := c.repo.Dirty(ctx)
	if err != nil {
		return fmt.Errorf("failed to list dirty records: %w", err)
	}
	out := newOutbound[R]()
	for _, r := range dirty {
		out.add(c.adapter.Key(r), r)
	}
	for _, key := range repush.keys {
		if _, ok := out.items[key]; !ok {
			out.add(key, repush.items[key])
		}
	}

	for _, key := range out.keys {
		c.emitState(key, StatePending, "")
	}
	for _, key := range out.keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.pushOne(ctx, out.items[key], rep); err != nil {
			return err
		}
	}

	return nil
}

// reconcileInbound applies one pulled record to the local store.
func (c *Coordinator[R]) reconcileInbound(ctx context.Context, rec remote.Record, rep *Report, repush *outbound[R]) error {
	now := c.clock()
	var (
		zero     R
		counted  func()
		snapshot *R
	)

	c.emitState(rec.Key, StatePulling, "")
	c.emitState(rec.Key, StateReconciling, "")

	err := c.repo.Reconcile(ctx, rec.Key, func(cur R, found bool) (R, bool, error) {
		counted, snapshot = nil, nil

		if rec.Deleted {
			// Remote deletion is sticky and wins over any local state.
			if !found || c.adapter.Meta(cur).Deleted {
				return zero, false, nil
			}
			counted = func() { rep.Deleted++ }
			return c.adapter.MarkSynced(c.adapter.MarkDeleted(cur), rec.ID, now), true, nil
		}

		if !found {
			next := c.adapter.FromRemote(rec.Key, rec.Fields, now)
			if err := c.adapter.Validate(next); err != nil {
				return zero, false, fmt.Errorf("%w: %w", ErrInvalidRemote, err)
			}
			counted = func() { rep.Inserted++ }
			return c.adapter.MarkSynced(next, rec.ID, now), true, nil
		}

		meta := c.adapter.Meta(cur)
		if meta.Deleted {
			// Local tombstone against a live remote copy: the deletion
			// still has to reach the remote.
			counted = func() { rep.Kept++ }
			next, write := cur, false
			if rec.ID != "" && meta.RemoteID != rec.ID {
				next, write = c.adapter.AttachRemoteID(cur, rec.ID), true
			}
			snapshot = &next
			return next, write, nil
		}

		res := c.adapter.Resolve(cur, rec.Fields)
		if res.Outcome == UseRemote {
			if err := c.adapter.Validate(res.Record); err != nil {
				return zero, false, fmt.Errorf("%w: %w", ErrInvalidRemote, err)
			}
			counted = func() { rep.Updated++ }
			return c.adapter.MarkSynced(res.Record, rec.ID, now), true, nil
		}

		counted = func() { rep.Kept++ }
		if c.adapter.RemoteModified(rec.Fields).Before(meta.LastModified) {
			snapshot = &cur
		}
		return zero, false, nil
	})
	if err != nil {
		return err
	}

	if counted != nil {
		counted()
	}
	if snapshot != nil {
		repush.add(rec.Key, *snapshot)
	}
	c.emitState(rec.Key, StateSettled, "")
	return nil
}

// pushOne sends one local record to the remote and records the result.
func (c *Coordinator[R]) pushOne(ctx context.Context, snap R, rep *Report) error {
	key := c.adapter.Key(snap)
	meta := c.adapter.Meta(snap)
	c.emitState(key, StatePushing, "")

	remoteID := meta.RemoteID
	switch {
	case meta.Deleted && meta.RemoteID == "":
		// Never reached the remote; nothing to delete there.
	case meta.Deleted:
		if err := c.client.Delete(ctx, meta.RemoteID); err != nil && !remote.IsNotFound(err) {
			return c.pushFailed(ctx, snap, err, rep)
		}
		rep.Removed++
	default:
		id, err := c.client.Push(ctx, remote.Record{
			ID:        meta.RemoteID,
			Type:      c.adapter.Kind(),
			Key:       key,
			ChangedAt: meta.LastModified,
			Fields:    c.adapter.ToRemote(snap),
		})
		if err != nil {
			return c.pushFailed(ctx, snap, err, rep)
		}
		remoteID = id
		rep.Pushed++
	}

	// The remote accepted the change; record it even if the pass is being
	// cancelled so the next pass does not resend it.
	now := c.clock()
	err := c.repo.Reconcile(context.WithoutCancel(ctx), key, func(cur R, found bool) (R, bool, error) {
		var zero R
		if !found {
			return zero, false, nil
		}
		curMeta := c.adapter.Meta(cur)
		if curMeta.LastModified.Equal(meta.LastModified) {
			return c.adapter.MarkSynced(cur, remoteID, now), true, nil
		}
		// Edited while the push was in flight: keep it dirty.
		if remoteID != "" && curMeta.RemoteID != remoteID {
			return c.adapter.AttachRemoteID(cur, remoteID), true, nil
		}
		return zero, false, nil
	})
	if err != nil {
		return fmt.Errorf("failed to record push of %s: %w", key, err)
	}

	c.emitState(key, StateSettled, "")
	return nil
}

// pushFailed handles a push or delete error. Rejections mark the record
// and let the pass continue; anything else aborts it.
func (c *Coordinator[R]) pushFailed(ctx context.Context, snap R, pushErr error, rep *Report) error {
	key := c.adapter.Key(snap)
	meta := c.adapter.Meta(snap)

	if !remote.IsRejected(pushErr) {
		rep.Failed++
		c.emitState(key, StateFailed, pushErr.Error())
		return fmt.Errorf("failed to push %s: %w", key, pushErr)
	}

	rep.Rejected++
	c.logger.Printf("Remote rejected %s %s: %v", c.adapter.Kind(), key, pushErr)

	err := c.repo.Reconcile(ctx, key, func(cur R, found bool) (R, bool, error) {
		var zero R
		if !found || !c.adapter.Meta(cur).LastModified.Equal(meta.LastModified) {
			return zero, false, nil
		}
		return c.adapter.MarkRejected(cur, pushErr.Error()), true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s rejected: %w", key, err)
	}

	c.emitState(key, StateRejected, pushErr.Error())
	return nil
}

// outbound is an insertion-ordered set of records keyed by ID.
type outbound[R any] struct {
	keys  []string
	items map[string]R
}

func newOutbound[R any]() *outbound[R] {
	return &outbound[R]{items: make(map[string]R)}
}

func (o *outbound[R]) add(key string, r R) {
	if _, ok := o.items[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.items[key] = r
}
