package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tinytodo/tasksync/internal/store"
	tsync "github.com/tinytodo/tasksync/internal/sync"
)

// CountSource supplies store totals. *store.DB implements it.
type CountSource interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// Subscriber delivers sync events. *sync.Coordinator implements it.
type Subscriber interface {
	Subscribe(fn tsync.Observer) func()
}

// RecordStateData is the payload of a record_state message.
type RecordStateData struct {
	Kind   string      `json:"kind"`
	Key    string      `json:"key"`
	State  tsync.State `json:"state"`
	Detail string      `json:"detail,omitempty"`
}

// StatsData is the payload of a stats message.
type StatsData struct {
	store.Counts
	Syncing  bool          `json:"syncing"`
	LastPass *tsync.Report `json:"last_pass,omitempty"`
}

// Handler turns coordinator events and local changes into dashboard
// messages.
type Handler struct {
	server *Server
	source CountSource
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler broadcasting through server. The handler
// also becomes the server's welcome source.
func NewHandler(server *Server, source CountSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		source: source,
		logger: logger,
	}
	server.SetWelcome(h.Welcome)
	return h
}

// Attach subscribes the handler to sub and returns the unsubscribe func.
func (h *Handler) Attach(sub Subscriber) func() {
	return sub.Subscribe(h.OnEvent)
}

// OnEvent handles one coordinator event. It runs on the pass goroutine and
// never blocks on clients.
func (h *Handler) OnEvent(ev tsync.Event) {
	switch ev.Type {
	case tsync.EventPassStarted:
		h.mu.Lock()
		h.stats.Syncing = true
		h.mu.Unlock()
		h.send(MessageTypePassStarted, ev.Time, map[string]string{"kind": ev.Kind})

	case tsync.EventPassFinished:
		if ev.Report != nil {
			if ev.Report.OK() {
				h.logger.Printf("Pass finished: pushed %d, pulled %d in %v", ev.Report.Pushed, ev.Report.Pulled, ev.Report.Duration())
			} else {
				h.logger.Printf("Pass stopped: %s", ev.Report.Error)
			}
		}
		h.mu.Lock()
		h.stats.Syncing = false
		h.stats.LastPass = ev.Report
		h.mu.Unlock()
		h.send(MessageTypePassFinished, ev.Time, ev.Report)
		h.refresh()

	case tsync.EventRecord:
		h.send(MessageTypeRecordState, ev.Time, RecordStateData{
			Kind:   ev.Kind,
			Key:    ev.Key,
			State:  ev.State,
			Detail: ev.Detail,
		})
	}
}

// OnLocalChange handles a local store mutation. Register it with
// store.DB.OnChange.
func (h *Handler) OnLocalChange() {
	h.send(MessageTypeLocalChange, time.Now(), nil)
	h.refresh()
}

// UpdateStats reloads counts from the source and broadcasts them.
func (h *Handler) UpdateStats(ctx context.Context) error {
	counts, err := h.source.Counts(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.stats.Counts = counts
	stats := h.stats
	h.mu.Unlock()

	h.send(MessageTypeStats, time.Now(), stats)
	return nil
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Welcome builds the stats message sent to newly connected clients.
func (h *Handler) Welcome() Message {
	return h.message(MessageTypeStats, time.Now(), h.GetStats())
}

func (h *Handler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.UpdateStats(ctx); err != nil {
		h.logger.Printf("Failed to refresh stats: %v", err)
	}
}

func (h *Handler) send(typ MessageType, at time.Time, data any) {
	h.server.Broadcast(h.message(typ, at, data))
}

func (h *Handler) message(typ MessageType, at time.Time, data any) Message {
	msg := Message{Type: typ, Timestamp: at}
	if data == nil {
		return msg
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return msg
	}
	msg.Data = raw
	return msg
}
